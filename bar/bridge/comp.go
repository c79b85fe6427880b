// Package bridge implements the BAR access pipeline. It turns an inbound
// stream of TLP beats into one-DWORD-per-cycle write descriptors and read
// requests against backend register blocks, and reassembles backend read
// data into completion TLPs on the outbound stream.
package bridge

import (
	"fmt"
	"log"
	"reflect"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
)

// Stats counts the conditions that the pipeline resolves silently. The
// outcomes are unchanged from the modeled hardware; the counters only make
// them observable.
type Stats struct {
	// WriteDrops and ReadDrops count inbound beats lost to ingress queue
	// overrun.
	WriteDrops uint64
	ReadDrops  uint64

	// MalformedTLPs counts header beats that match no recognized request
	// encoding.
	MalformedTLPs uint64

	// MultiAssert counts cycles in which more than one backend had a
	// response pending. The lowest bar index wins in that cycle.
	MultiAssert uint64
}

// Comp is the BAR access pipeline. It hosts the classifier/router, the write
// reassembly engine, the four read engine stages, and the response
// multiplexer, all advancing one step per cycle.
type Comp struct {
	*sim.TickingComponent

	inbound      sim.Port
	outbound     sim.Port
	ctrl         sim.Port
	barPorts     [bar.NumBars]sim.Port
	backendPorts [bar.NumBars]sim.Port

	downstreamPort sim.Port

	enable   bool
	deviceID uint16

	writeIngress sim.Buffer
	readIngress  sim.Buffer

	classifier  classifier
	writeEngine writeEngine
	readEngine  readEngine

	// outstanding counts completions whose ending beat sits in the outbound
	// queue. It only drives HasPendingData, not correctness.
	outstanding int

	// backendLatency is the read latency the connected backends share.
	// Zero until the first responding backend is connected.
	backendLatency int

	stats Stats
}

// Handle processes the events scheduled on the component.
func (c *Comp) Handle(e sim.Event) error {
	switch e := e.(type) {
	case sim.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

// Tick advances every pipeline unit by one cycle. Units run back to front so
// that a descriptor moves at most one stage per cycle.
func (c *Comp) Tick() bool {
	madeProgress := false

	madeProgress = c.processCtrl() || madeProgress
	madeProgress = c.readEngine.tickReassembly() || madeProgress
	madeProgress = c.readEngine.tickExpansion() || madeProgress
	madeProgress = c.readEngine.tickSplitting() || madeProgress
	madeProgress = c.readEngine.tickNormalization() || madeProgress
	madeProgress = c.writeEngine.tick() || madeProgress
	madeProgress = c.classifier.tick() || madeProgress

	return madeProgress
}

func (c *Comp) processCtrl() bool {
	msg := c.ctrl.RetrieveIncoming()
	if msg == nil {
		return false
	}

	ctrlMsg, ok := msg.(*bar.ControlMsg)
	if !ok {
		log.Panicf("cannot process msg of type %s on the control port",
			reflect.TypeOf(msg))
	}

	c.enable = ctrlMsg.Enable
	if ctrlMsg.Reset {
		c.Reset()
	}

	return true
}

// Reset synchronously clears all the queues, state machines, and counters to
// their initial state. In-flight descriptors and partially reassembled
// packets are discarded, not drained.
func (c *Comp) Reset() {
	c.writeIngress.Clear()
	c.readIngress.Clear()

	c.classifier.reset()
	c.writeEngine.reset()
	c.readEngine.reset()

	c.outstanding = 0
	c.stats = Stats{}
}

// Stats returns the counters for the silently resolved conditions.
func (c *Comp) Stats() Stats {
	return c.stats
}

// HasPendingData reports whether at least one complete completion packet is
// waiting in the outbound queue.
func (c *Comp) HasPendingData() bool {
	return c.outstanding > 0
}

// InboundPort returns the port that accepts the inbound TLP beat stream.
func (c *Comp) InboundPort() sim.Port {
	return c.inbound
}

// OutboundPort returns the port that emits completion TLP beats.
func (c *Comp) OutboundPort() sim.Port {
	return c.outbound
}

// CtrlPort returns the control port.
func (c *Comp) CtrlPort() sim.Port {
	return c.ctrl
}

// BarPort returns the port that dispatches to the backend at the given bar
// index.
func (c *Comp) BarPort(barIndex int) sim.Port {
	if barIndex < 0 || barIndex >= bar.NumBars {
		panic(fmt.Sprintf("bar index %d out of range", barIndex))
	}

	return c.barPorts[barIndex]
}

// ConnectDownstream records the port that consumes the outbound completion
// beat stream.
func (c *Comp) ConnectDownstream(port sim.Port) {
	c.downstreamPort = port
}

// ConnectBar records the backend port that serves the given bar index,
// together with the backend's read latency. Descriptors addressed to a bar
// with no backend are consumed silently, the same behavior a discard backend
// provides.
//
// Completion reassembly relies on all backends responding after the same
// number of cycles; mixed latencies would interleave DWORDs of different
// completions in the packing register. Connecting backends with differing
// latencies therefore panics. A latency of zero declares a backend that
// never responds and is exempt from the check.
func (c *Comp) ConnectBar(barIndex int, backendPort sim.Port, latency int) {
	if barIndex < 0 || barIndex >= bar.NumBars {
		panic(fmt.Sprintf("bar index %d out of range", barIndex))
	}

	if latency > 0 {
		if c.backendLatency == 0 {
			c.backendLatency = latency
		} else if c.backendLatency != latency {
			panic(fmt.Sprintf(
				"backend at bar %d declares read latency %d, "+
					"but an earlier backend declared %d",
				barIndex, latency, c.backendLatency))
		}
	}

	c.backendPorts[barIndex] = backendPort
}

// outboundTracker decrements the outstanding-completion counter when an
// ending beat leaves the outbound queue for transmission.
type outboundTracker struct {
	comp *Comp
}

func (t outboundTracker) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosPortMsgRetrieveOutgoing {
		return
	}

	beatMsg, ok := ctx.Item.(*bar.TLPBeatMsg)
	if !ok {
		return
	}

	if beatMsg.Beat.EOP && t.comp.outstanding > 0 {
		t.comp.outstanding--
	}
}
