// Package traffic drives the access pipeline with seeded random request
// streams and checks the completion streams that come back.
package traffic

import (
	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
	"github.com/sarchlab/barpipe/tlp"
)

// Agent feeds request beats into the pipeline one per cycle and hands every
// completion beat it receives to the test for checking.
type Agent struct {
	*sim.TickingComponent

	test *Test

	txPort sim.Port
	rxPort sim.Port

	txDst sim.Port

	BeatsToSend []PacedBeat
	cooldown    int
	sentBeats   uint64
	recvBeats   uint64
}

// A PacedBeat is one beat to inject, with the number of idle cycles the
// agent inserts after it. The gap lets the one-DWORD-per-cycle pipeline
// drain and keeps the ingress queues from overrunning.
type PacedBeat struct {
	Beat     tlp.Beat
	GapAfter int
}

// NewAgent creates an agent attached to the given test.
func NewAgent(
	engine sim.Engine,
	freq sim.Freq,
	name string,
	test *Test,
) *Agent {
	a := &Agent{test: test}
	a.TickingComponent = sim.NewTickingComponent(name, engine, freq, a)

	a.txPort = sim.NewPort(a, 1, 1, name+".Tx")
	a.rxPort = sim.NewPort(a, 4, 1, name+".Rx")
	a.AddPort("Tx", a.txPort)
	a.AddPort("Rx", a.rxPort)

	if test != nil {
		test.registerAgent(a)
	}

	return a
}

// ConnectPipeline sets the port that request beats are addressed to.
func (a *Agent) ConnectPipeline(dst sim.Port) {
	a.txDst = dst
}

// TxPort returns the port that sends request beats.
func (a *Agent) TxPort() sim.Port {
	return a.txPort
}

// RxPort returns the port that receives completion beats.
func (a *Agent) RxPort() sim.Port {
	return a.rxPort
}

// Tick tries to send one request beat and drain received completions.
func (a *Agent) Tick() bool {
	madeProgress := false

	madeProgress = a.send() || madeProgress
	madeProgress = a.recv() || madeProgress

	return madeProgress
}

func (a *Agent) send() bool {
	if a.cooldown > 0 {
		a.cooldown--
		return true
	}

	if len(a.BeatsToSend) == 0 {
		return false
	}

	paced := a.BeatsToSend[0]

	msg := &bar.TLPBeatMsg{Beat: paced.Beat}
	msg.ID = sim.GetIDGenerator().Generate()
	msg.Src = a.txPort
	msg.Dst = a.txDst
	msg.TrafficBytes = 16

	if err := a.txPort.Send(msg); err != nil {
		return false
	}

	a.BeatsToSend = a.BeatsToSend[1:]
	a.cooldown = paced.GapAfter
	a.sentBeats++

	return true
}

func (a *Agent) recv() bool {
	madeProgress := false

	for {
		msg := a.rxPort.RetrieveIncoming()
		if msg == nil {
			break
		}

		beatMsg := msg.(*bar.TLPBeatMsg)
		a.test.receiveBeat(beatMsg.Beat)
		a.recvBeats++

		madeProgress = true
	}

	return madeProgress
}
