package bridge

import (
	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
)

// muxSelect priority-encodes across the backend response channels in fixed
// bar-index order, bar 0 highest. It returns the selected response, still at
// the head of its port, and the port it waits on. The modeled hardware
// assumes at most one backend responds per cycle; when more than one has a
// response pending, the lowest index silently wins and a counter records the
// cycle.
func (c *Comp) muxSelect() (*bar.ReadRsp, sim.Port) {
	var selected *bar.ReadRsp
	var selectedPort sim.Port
	pending := 0

	for i := 0; i < bar.NumBars; i++ {
		msg := c.barPorts[i].PeekIncoming()
		if msg == nil {
			continue
		}

		rsp, ok := msg.(*bar.ReadRsp)
		if !ok {
			continue
		}

		pending++
		if selected == nil {
			selected = rsp
			selectedPort = c.barPorts[i]
		}
	}

	if pending > 1 {
		c.stats.MultiAssert++
	}

	return selected, selectedPort
}
