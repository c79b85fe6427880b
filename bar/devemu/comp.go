// Package devemu provides a backend register block that emulates the
// register file of one concrete device with a static lookup table. Reads
// of unmapped offsets return a deterministic pseudo-random value derived
// from the offset, so that sweeps over the register space stay repeatable.
// Writes are accepted and ignored; the table is immutable.
package devemu

import (
	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/pipelining"
	"github.com/sarchlab/barpipe/sim"
)

type inflightRead struct {
	req *bar.ReadReq
}

func (r inflightRead) TaskID() string {
	return r.req.ID
}

// Comp is a device register emulation backend with a fixed response latency.
// Requests arrive with absolute addresses; the externally configured BAR
// base address turns them into register offsets.
type Comp struct {
	*sim.TickingComponent

	topPort sim.Port

	Latency     int
	latencyPipe pipelining.Pipeline
	respondBuf  sim.Buffer

	barBase uint32
}

// TopPort returns the port that receives requests from the pipeline.
func (c *Comp) TopPort() sim.Port {
	return c.topPort
}

// Read returns the emulated register value for an absolute address.
func (c *Comp) Read(addr uint32) uint32 {
	offset := (addr - c.barBase) &^ 0x3

	if v, mapped := registerTable[offset]; mapped {
		return v
	}

	return scramble(offset)
}

// Tick advances the backend by one cycle.
func (c *Comp) Tick() bool {
	madeProgress := false

	madeProgress = c.respond() || madeProgress
	madeProgress = c.latencyPipe.Tick() || madeProgress
	madeProgress = c.accept() || madeProgress

	return madeProgress
}

func (c *Comp) respond() bool {
	item := c.respondBuf.Peek()
	if item == nil {
		return false
	}

	req := item.(inflightRead).req

	rsp := bar.ReadRspBuilder{}.
		WithSrc(c.topPort).
		WithDst(req.Src).
		WithContext(req.Context).
		WithData(c.Read(req.Address)).
		Build()

	if err := c.topPort.Send(rsp); err != nil {
		return false
	}

	c.respondBuf.Pop()

	return true
}

func (c *Comp) accept() bool {
	msg := c.topPort.PeekIncoming()
	if msg == nil {
		return false
	}

	switch req := msg.(type) {
	case *bar.ReadReq:
		if !c.latencyPipe.CanAccept() {
			return false
		}

		c.latencyPipe.Accept(inflightRead{req: req})
		c.topPort.RetrieveIncoming()

		return true
	default:
		// The register file is immutable; writes are consumed and ignored.
		c.topPort.RetrieveIncoming()

		return true
	}
}

// A Builder can build device register emulation backends.
type Builder struct {
	engine  sim.Engine
	freq    sim.Freq
	latency int
	barBase uint32
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:    1 * sim.GHz,
		latency: 2,
	}
}

// WithEngine sets the event engine the backend uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the backend.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithLatency sets the fixed number of cycles between accepting a read and
// responding.
func (b Builder) WithLatency(latency int) Builder {
	b.latency = latency
	return b
}

// WithBarBase sets the 32-bit base address register value used to compute
// register offsets from absolute addresses.
func (b Builder) WithBarBase(barBase uint32) Builder {
	b.barBase = barBase
	return b
}

// Build creates a device register emulation backend.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		Latency: b.latency,
		barBase: b.barBase,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.respondBuf = sim.NewBuffer(name+".RespondBuf", 2)
	c.latencyPipe = pipelining.MakeBuilder().
		WithNumStage(b.latency).
		WithCyclePerStage(1).
		WithPostPipelineBuffer(c.respondBuf).
		Build(name + ".LatencyPipe")

	c.topPort = sim.NewPort(c, 4, 4, name+".Top")
	c.AddPort("Top", c.topPort)

	return c
}
