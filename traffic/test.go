package traffic

import (
	"fmt"
	"log"

	"github.com/sarchlab/barpipe/tlp"
)

type readKey struct {
	requesterID uint16
	tag         uint8
}

type expectedRead struct {
	address uint32
	dwLen   uint32

	// payload holds the wire-order DWORDs the completions must return, in
	// ascending address order across all chunks.
	payload []uint32
}

type readRecord struct {
	payload   []uint32
	byteCount uint32
	numChunks int
}

// Test is one traffic scenario. It records what the generator injected and
// checks every completion beat against it.
type Test struct {
	agents []*Agent

	expectedReads map[readKey]*expectedRead
	records       map[readKey]*readRecord

	shadow map[uint32]uint32

	asmActive    bool
	asmKey       readKey
	asmRemaining uint32
}

// NewTest creates an empty traffic scenario.
func NewTest() *Test {
	return &Test{
		expectedReads: make(map[readKey]*expectedRead),
		records:       make(map[readKey]*readRecord),
		shadow:        make(map[uint32]uint32),
	}
}

func (t *Test) registerAgent(agent *Agent) {
	t.agents = append(t.agents, agent)
}

// ExpectRead registers a read whose completions must return the given
// wire-order payload.
func (t *Test) ExpectRead(
	requesterID uint16,
	tag uint8,
	address uint32,
	dwLen uint32,
	payload []uint32,
) {
	key := readKey{requesterID: requesterID, tag: tag}

	if _, dup := t.expectedReads[key]; dup {
		panic(fmt.Sprintf("tag %d reused while still outstanding", tag))
	}

	t.expectedReads[key] = &expectedRead{
		address: address,
		dwLen:   dwLen,
		payload: payload,
	}
}

// ExpectWrite applies one DWORD write to the shadow copy of the register
// space, honoring the byte-enable nibble.
func (t *Test) ExpectWrite(address uint32, byteEnable uint8, data uint32) {
	address &^= 0x3
	merged := t.shadow[address]

	for i := 0; i < 4; i++ {
		if byteEnable&(1<<i) != 0 {
			mask := uint32(0xff) << (8 * i)
			merged = merged&^mask | data&mask
		}
	}

	t.shadow[address] = merged
}

// ShadowRead returns the shadow copy's value for an address.
func (t *Test) ShadowRead(address uint32) uint32 {
	return t.shadow[address&^0x3]
}

// VerifyMemory compares the shadow copy against the actual backend contents
// through the given read function.
func (t *Test) VerifyMemory(read func(address uint32) uint32) {
	for addr, want := range t.shadow {
		if got := read(addr); got != want {
			panic(fmt.Sprintf(
				"address 0x%08x holds 0x%08x, want 0x%08x", addr, got, want))
		}
	}
}

// receiveBeat folds one completion beat into the per-read records, checking
// the framing and header fields as it goes.
func (t *Test) receiveBeat(beat tlp.Beat) {
	payloadStart := 0

	if !t.asmActive {
		payloadStart = t.startCompletion(beat)
	} else if beat.SOP {
		panic("completion stream restarted mid packet")
	}

	t.collectPayload(beat, payloadStart)

	if t.asmRemaining == 0 {
		if !beat.EOP {
			panic("completion payload complete but frame not closed")
		}

		t.asmActive = false
	} else if beat.EOP {
		panic("completion frame closed with payload outstanding")
	}
}

func (t *Test) startCompletion(beat tlp.Beat) int {
	if !beat.SOP {
		panic("completion beat outside a frame")
	}

	if typ := beat.HeaderType(); typ != tlp.CplD {
		panic(fmt.Sprintf("unexpected downstream type 0x%02x", uint8(typ)))
	}

	dwLen := tlp.DecodeDWLength(beat.Data[0])
	byteCount := beat.Data[1] & 0xfff
	requesterID := tlp.SwapBytes16(uint16(beat.Data[2] >> 16))
	tag := uint8(beat.Data[2] >> 8)
	lowerAddr := uint8(beat.Data[2]) & 0x7f

	key := readKey{requesterID: requesterID, tag: tag}

	expected, known := t.expectedReads[key]
	if !known {
		panic(fmt.Sprintf("completion for unknown tag %d", tag))
	}

	record := t.records[key]
	if record == nil {
		record = &readRecord{}
		t.records[key] = record
	}

	wantLower := uint8(expected.address+uint32(len(record.payload))*4) & 0x7f
	if lowerAddr != wantLower {
		panic(fmt.Sprintf(
			"chunk lower address 0x%02x, want 0x%02x", lowerAddr, wantLower))
	}

	if dwLen == 0 || dwLen > 32 {
		panic(fmt.Sprintf("chunk length %d outside 1..32", dwLen))
	}

	if byteCount != dwLen*4 {
		panic(fmt.Sprintf(
			"chunk byte count %d does not cover %d DWORDs", byteCount, dwLen))
	}

	record.byteCount += byteCount
	record.numChunks++

	t.asmActive = true
	t.asmKey = key
	t.asmRemaining = dwLen

	return 3
}

func (t *Test) collectPayload(beat tlp.Beat, payloadStart int) {
	record := t.records[t.asmKey]

	for i := payloadStart; i <= beat.LastDWIndex(); i++ {
		if t.asmRemaining == 0 {
			panic("completion beat carries data past the payload")
		}

		record.payload = append(record.payload, beat.Data[i])
		t.asmRemaining--
	}
}

// CompletionChunks returns the number of completion chunks a read came back
// in.
func (t *Test) CompletionChunks(requesterID uint16, tag uint8) int {
	record := t.records[readKey{requesterID: requesterID, tag: tag}]
	if record == nil {
		return 0
	}

	return record.numChunks
}

// CompletionPayload returns the wire-order payload a read returned so far.
func (t *Test) CompletionPayload(requesterID uint16, tag uint8) []uint32 {
	record := t.records[readKey{requesterID: requesterID, tag: tag}]
	if record == nil {
		return nil
	}

	return record.payload
}

// MustHaveReceivedAllCompletions asserts that every registered read came
// back complete and with the expected payload.
func (t *Test) MustHaveReceivedAllCompletions() {
	if t.asmActive {
		panic("completion stream ends mid packet")
	}

	for key, expected := range t.expectedReads {
		record := t.records[key]
		if record == nil {
			log.Printf("tag %d expected, but no completion received", key.tag)
			panic("some reads never completed")
		}

		if uint32(len(record.payload)) != expected.dwLen {
			panic(fmt.Sprintf(
				"tag %d returned %d DWORDs, want %d",
				key.tag, len(record.payload), expected.dwLen))
		}

		for i, want := range expected.payload {
			if record.payload[i] != want {
				panic(fmt.Sprintf(
					"tag %d DWORD %d is 0x%08x, want 0x%08x",
					key.tag, i, record.payload[i], want))
			}
		}
	}
}
