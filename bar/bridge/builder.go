package bridge

import (
	"fmt"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
)

// A Builder can build BAR access pipelines.
type Builder struct {
	engine          sim.Engine
	freq            sim.Freq
	deviceID        uint16
	ingressBufDepth int
	outboundBufSize int
	enable          bool
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:            1 * sim.GHz,
		ingressBufDepth: 16,
		outboundBufSize: 8,
		enable:          true,
	}
}

// WithEngine sets the event engine that drives the pipeline.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the pipeline.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithDeviceID sets the 16-bit identifier the pipeline stamps into
// completion headers as the completer ID.
func (b Builder) WithDeviceID(deviceID uint16) Builder {
	b.deviceID = deviceID
	return b
}

// WithIngressBufDepth sets the depth of the two ingress beat queues.
func (b Builder) WithIngressBufDepth(depth int) Builder {
	b.ingressBufDepth = depth
	return b
}

// WithOutboundBufSize sets the capacity of the outbound completion queue.
func (b Builder) WithOutboundBufSize(size int) Builder {
	b.outboundBufSize = size
	return b
}

// WithBarRegionDisabled builds the pipeline with the bar-region enable
// deasserted; all inbound beats are ignored until a control message enables
// it.
func (b Builder) WithBarRegionDisabled() Builder {
	b.enable = false
	return b
}

// Build creates the pipeline component.
func (b Builder) Build(name string) *Comp {
	sim.NameMustBeValid(name)

	c := &Comp{
		enable:   b.enable,
		deviceID: b.deviceID,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.writeIngress = sim.NewBuffer(name+".WriteIngress", b.ingressBufDepth)
	c.readIngress = sim.NewBuffer(name+".ReadIngress", b.ingressBufDepth)

	c.classifier = classifier{comp: c}
	c.writeEngine = writeEngine{comp: c}
	c.readEngine = readEngine{
		comp:       c,
		normQueue:  sim.NewBuffer(name+".NormQueue", 4),
		chunkQueue: sim.NewBuffer(name+".ChunkQueue", 4),
	}

	c.inbound = sim.NewPort(c, 2, 2, name+".Inbound")
	c.AddPort("Inbound", c.inbound)

	c.outbound = sim.NewPort(c, 2, b.outboundBufSize, name+".Outbound")
	c.outbound.AcceptHook(outboundTracker{comp: c})
	c.AddPort("Outbound", c.outbound)

	c.ctrl = sim.NewPort(c, 2, 2, name+".Ctrl")
	c.AddPort("Ctrl", c.ctrl)

	for i := 0; i < bar.NumBars; i++ {
		portName := fmt.Sprintf("%s.Bar%d", name, i)
		c.barPorts[i] = sim.NewPort(c, 2, 2, portName)
		c.AddPort(fmt.Sprintf("Bar%d", i), c.barPorts[i])
	}

	return c
}
