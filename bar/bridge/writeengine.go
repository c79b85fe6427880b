package bridge

import (
	"fmt"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/tlp"
	"github.com/sarchlab/barpipe/tracing"
)

type writeState int

const (
	// writeStateFirst waits for a header beat and decodes it.
	writeStateFirst writeState = iota

	// writeStateReqData consumes the extra beat a 4-DWORD header needs
	// before the first payload DWORD is available.
	writeStateReqData

	// writeStateTx0 through writeStateTx3 each emit the corresponding DWORD
	// of the current beat as one write descriptor.
	writeStateTx0
	writeStateTx1
	writeStateTx2
	writeStateTx3
)

// writeEngine reconstructs the write payload stream from ingress beats and
// issues exactly one (address, byte-enable, data) descriptor per cycle to
// the addressed backend.
type writeEngine struct {
	comp *Comp

	state    writeState
	cur      tlp.Beat
	curValid bool

	addr      uint32
	barIndex  uint8
	firstBE   uint8
	lastBE    uint8
	sentFirst bool

	seq    uint64
	taskID string
}

func (e *writeEngine) reset() {
	*e = writeEngine{comp: e.comp, seq: e.seq}
}

func (e *writeEngine) tick() bool {
	switch e.state {
	case writeStateFirst:
		return e.decodeHeader()
	case writeStateReqData:
		return e.fetchPayloadBeat()
	default:
		return e.transmit()
	}
}

// decodeHeader pops the next header beat, extracts the destination and
// byte-enable nibbles, and selects the entry transmit state based on the
// header length.
func (e *writeEngine) decodeHeader() bool {
	item := e.comp.writeIngress.Pop()
	if item == nil {
		return false
	}

	beat := item.(tlp.Beat)
	if !beat.SOP {
		// An orphaned payload beat; its header was lost to an overrun.
		return true
	}

	e.addr = beat.Address()
	e.barIndex = beat.BarIndex()
	e.firstBE = beat.FirstBE()
	e.lastBE = beat.LastBE()
	e.sentFirst = false

	e.seq++
	e.taskID = fmt.Sprintf("%s.write.%d", e.comp.Name(), e.seq)
	tracing.StartTask(e.taskID, "", e.comp, "write", "MWr", nil)

	if beat.HeaderType().HeaderDWords() == 3 {
		// The first payload DWORD rides in this beat at index 3.
		e.cur = beat
		e.curValid = true
		e.state = writeStateTx3
	} else {
		e.curValid = false
		e.state = writeStateReqData
	}

	return true
}

func (e *writeEngine) fetchPayloadBeat() bool {
	item := e.comp.writeIngress.Pop()
	if item == nil {
		return false
	}

	e.cur = item.(tlp.Beat)
	e.curValid = true
	e.state = writeStateTx0

	return true
}

// transmit emits one write descriptor for the current transmit stage's DWORD
// and advances the state machine.
func (e *writeEngine) transmit() bool {
	dwIndex := int(e.state - writeStateTx0)

	if !e.curValid {
		item := e.comp.writeIngress.Pop()
		if item == nil {
			return false
		}

		e.cur = item.(tlp.Beat)
		e.curValid = true
	}

	isLast := e.cur.EOP && e.cur.LastDWIndex() == dwIndex

	backendPort := e.comp.backendPorts[e.barIndex]
	if backendPort == nil {
		// No backend behind this bar; the descriptor is consumed silently.
		e.advance(dwIndex, isLast)
		return true
	}

	port := e.comp.barPorts[e.barIndex]
	req := bar.WriteReqBuilder{}.
		WithSrc(port).
		WithDst(backendPort).
		WithBarIndex(e.barIndex).
		WithAddress(e.addr).
		WithByteEnable(e.byteEnable(isLast)).
		WithData(tlp.SwapBytes(e.cur.Data[dwIndex])).
		Build()

	if err := port.Send(req); err != nil {
		return false
	}

	e.advance(dwIndex, isLast)

	return true
}

func (e *writeEngine) advance(dwIndex int, isLast bool) {
	e.sentFirst = true
	e.addr += tlp.DWordBytes

	switch {
	case isLast:
		tracing.EndTask(e.taskID, e.comp)
		e.state = writeStateFirst
	case dwIndex < 3:
		e.state++
	default:
		// The beat is exhausted mid-transfer; continue with the next one.
		e.state = writeStateTx0
		e.curValid = false
	}
}

// byteEnable selects the nibble for the descriptor being emitted: the
// header's first-BE on the transfer's first DWORD, the header's last-BE on
// the final DWORD, and a full nibble in between. A single-DWORD transfer
// uses the first-BE nibble.
func (e *writeEngine) byteEnable(isLast bool) uint8 {
	if !e.sentFirst {
		return e.firstBE
	}

	if isLast {
		return e.lastBE
	}

	return 0xf
}
