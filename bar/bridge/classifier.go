package bridge

import (
	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/tlp"
)

// classifier inspects each inbound beat's header and routes it to the write
// or read ingress queue. A single continuation latch remembers, across
// cycles, whether the previous beat belonged to an in-progress write payload
// so that payload beats without a header still reach the write path.
type classifier struct {
	comp *Comp

	writeInProgress bool
}

func (cl *classifier) reset() {
	cl.writeInProgress = false
}

func (cl *classifier) tick() bool {
	msg := cl.comp.inbound.RetrieveIncoming()
	if msg == nil {
		return false
	}

	beat := msg.(*bar.TLPBeatMsg).Beat

	if !cl.comp.enable || beat.BarSel == 0 {
		return true
	}

	if beat.SOP {
		cl.routeHeaderBeat(beat)
		return true
	}

	if cl.writeInProgress {
		cl.routePayloadBeat(beat)
	}

	// A payload beat with no write in progress belongs to an unrecognized
	// packet and is ignored.
	return true
}

func (cl *classifier) routeHeaderBeat(beat tlp.Beat) {
	headerType := beat.HeaderType()

	switch {
	case headerType.IsMemWrite():
		// The latch tracks the beat stream, not the queue, so it is set even
		// if the header beat itself overruns the queue.
		cl.writeInProgress = !beat.EOP

		if cl.comp.writeIngress.CanPush() {
			cl.comp.writeIngress.Push(beat)
		} else {
			cl.comp.stats.WriteDrops++
		}
	case headerType.IsMemRead():
		if cl.comp.readIngress.CanPush() {
			cl.comp.readIngress.Push(beat)
		} else {
			cl.comp.stats.ReadDrops++
		}
	default:
		cl.comp.stats.MalformedTLPs++
	}
}

func (cl *classifier) routePayloadBeat(beat tlp.Beat) {
	if beat.EOP {
		cl.writeInProgress = false
	}

	if cl.comp.writeIngress.CanPush() {
		cl.comp.writeIngress.Push(beat)
	} else {
		cl.comp.stats.WriteDrops++
	}
}
