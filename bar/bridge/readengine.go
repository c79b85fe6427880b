package bridge

import (
	"fmt"

	"github.com/sarchlab/barpipe/bar"
	"github.com/sarchlab/barpipe/sim"
	"github.com/sarchlab/barpipe/tlp"
	"github.com/sarchlab/barpipe/tracing"
)

// reqMeta is the correlation state of one read request that every chunk and
// DWORD derived from it inherits.
type reqMeta struct {
	barIndex    uint8
	requesterID uint16
	tag         uint8
}

// normReq is a read request normalized by the ingress stage.
type normReq struct {
	meta  reqMeta
	addr  uint32
	dwLen uint32
}

// chunkDesc is one completion chunk produced by the splitting stage. A chunk
// never exceeds MaxChunkDWords and never crosses a 128-byte boundary.
type chunkDesc struct {
	meta      reqMeta
	addr      uint32
	dwLen     uint16
	byteCount uint16
	lowerAddr uint8

	// reqLast marks the originating request's final chunk.
	reqLast bool
}

// readEngine converts read TLP headers into sequences of single-DWORD read
// requests and reassembles the backend responses into framed completions.
// Its four stages advance independently, one step per cycle each.
type readEngine struct {
	comp *Comp

	normQueue  sim.Buffer
	chunkQueue sim.Buffer

	// splitting stage state, engaged only for large requests
	splitActive    bool
	splitMeta      reqMeta
	splitAddr      uint32
	splitRemaining uint32

	// expansion stage state
	issueActive    bool
	issueChunk     chunkDesc
	issueAddr      uint32
	issueRemaining uint16
	issueFirst     bool

	// reassembly packing register: 4 DWORD slots flushed as one beat
	slots     [4]uint32
	slotKeep  uint8
	slotCount int
	slotSOP   bool
}

func (re *readEngine) reset() {
	re.normQueue.Clear()
	re.chunkQueue.Clear()

	re.splitActive = false
	re.issueActive = false

	re.slots = [4]uint32{}
	re.slotKeep = 0
	re.slotCount = 0
	re.slotSOP = false
}

// tickNormalization is stage A. It consumes one read header beat per cycle
// and produces a normalized descriptor.
func (re *readEngine) tickNormalization() bool {
	if !re.normQueue.CanPush() {
		return false
	}

	item := re.comp.readIngress.Pop()
	if item == nil {
		return false
	}

	beat := item.(tlp.Beat)
	meta := reqMeta{
		barIndex:    beat.BarIndex(),
		requesterID: beat.RequesterID(),
		tag:         beat.Tag(),
	}

	tracing.StartTask(re.readTaskID(meta.requesterID, meta.tag), "",
		re.comp, "read", "MRd", nil)

	re.normQueue.Push(normReq{
		meta:  meta,
		addr:  beat.Address(),
		dwLen: beat.HeaderDWLength(),
	})

	return true
}

// readTaskID names the task covering one read from header arrival to the
// last completion beat. Tags are unique among in-flight reads, so the pair
// identifies the transfer.
func (re *readEngine) readTaskID(requesterID uint16, tag uint8) string {
	return fmt.Sprintf("%s.read.%04x.%02x", re.comp.Name(), requesterID, tag)
}

// tickSplitting is stage B. It cuts a normalized request into completion
// chunks of at most MaxChunkDWords that never cross a 128-byte boundary,
// producing one chunk per cycle.
func (re *readEngine) tickSplitting() bool {
	if !re.chunkQueue.CanPush() {
		return false
	}

	if re.splitActive {
		re.emitNextChunk()
		return true
	}

	item := re.normQueue.Pop()
	if item == nil {
		return false
	}

	req := item.(normReq)

	if req.dwLen == 1 {
		// Tiny request: a single DWORD bypasses the splitting state machine.
		re.pushChunk(req.meta, req.addr, 1, true)
		return true
	}

	a5 := (req.addr >> 2) & 0x1f
	space := uint32(bar.MaxChunkDWords) - a5
	firstLen := space
	if req.dwLen < space {
		firstLen = req.dwLen
	}

	re.pushChunk(req.meta, req.addr, firstLen, req.dwLen == firstLen)

	if req.dwLen > firstLen {
		re.splitActive = true
		re.splitMeta = req.meta
		re.splitAddr = req.addr + firstLen*tlp.DWordBytes
		re.splitRemaining = req.dwLen - firstLen
	}

	return true
}

func (re *readEngine) emitNextChunk() {
	chunkLen := uint32(bar.MaxChunkDWords)
	if re.splitRemaining < chunkLen {
		chunkLen = re.splitRemaining
	}

	re.pushChunk(re.splitMeta, re.splitAddr, chunkLen,
		chunkLen == re.splitRemaining)

	re.splitAddr += chunkLen * tlp.DWordBytes
	re.splitRemaining -= chunkLen
	if re.splitRemaining == 0 {
		re.splitActive = false
	}
}

func (re *readEngine) pushChunk(meta reqMeta, addr, dwLen uint32, last bool) {
	re.chunkQueue.Push(chunkDesc{
		meta:      meta,
		addr:      addr,
		dwLen:     uint16(dwLen),
		byteCount: uint16(dwLen * tlp.DWordBytes),
		lowerAddr: uint8(addr) & 0x7f,
		reqLast:   last,
	})
}

// tickExpansion is stage C. It expands the current chunk into one
// single-DWORD read request per cycle, issued to the addressed backend.
func (re *readEngine) tickExpansion() bool {
	if !re.issueActive {
		item := re.chunkQueue.Pop()
		if item == nil {
			return false
		}

		// The chunk is in flight from the moment it leaves the queue. A
		// rejected send, even of the first DWORD, retries next cycle
		// instead of letting the next pop overwrite the chunk.
		re.issueChunk = item.(chunkDesc)
		re.issueAddr = re.issueChunk.addr
		re.issueRemaining = re.issueChunk.dwLen
		re.issueFirst = true
		re.issueActive = true
	}

	chunk := re.issueChunk
	backendPort := re.comp.backendPorts[chunk.meta.barIndex]
	if backendPort == nil {
		// No backend behind this bar; the request can never complete, so the
		// whole chunk is consumed silently.
		re.issueActive = false
		return true
	}

	port := re.comp.barPorts[chunk.meta.barIndex]
	ctx := bar.Context{
		First:       re.issueFirst,
		Last:        re.issueRemaining == 1,
		Final:       chunk.reqLast,
		DWLen:       chunk.dwLen,
		ByteCount:   chunk.byteCount,
		RequesterID: chunk.meta.requesterID,
		Tag:         chunk.meta.tag,
		LowerAddr:   chunk.lowerAddr,
	}

	req := bar.ReadReqBuilder{}.
		WithSrc(port).
		WithDst(backendPort).
		WithBarIndex(chunk.meta.barIndex).
		WithAddress(re.issueAddr).
		WithContext(ctx).
		Build()

	if err := port.Send(req); err != nil {
		return false
	}

	re.issueFirst = false
	re.issueAddr += tlp.DWordBytes
	re.issueRemaining--
	if re.issueRemaining == 0 {
		re.issueActive = false
	}

	return true
}

// tickReassembly is stage D together with the response multiplexer. It
// accepts at most one backend response per cycle and packs it into the
// 4-slot register, flushing a beat to the outbound queue when the register
// fills or the response carries the last flag.
func (re *readEngine) tickReassembly() bool {
	rsp, port := re.comp.muxSelect()
	if rsp == nil {
		return false
	}

	if !re.comp.outbound.CanSend() {
		return false
	}

	port.RetrieveIncoming()
	re.pack(rsp)

	return true
}

func (re *readEngine) pack(rsp *bar.ReadRsp) {
	ctx := rsp.Context

	if ctx.First {
		header := tlp.CplDHeader{
			DWLength:    ctx.DWLen,
			ByteCount:   ctx.ByteCount,
			CompleterID: re.comp.deviceID,
			RequesterID: ctx.RequesterID,
			Tag:         ctx.Tag,
			LowerAddr:   ctx.LowerAddr,
		}.Pack()

		re.slots = [4]uint32{
			header[0], header[1], header[2], tlp.SwapBytes(rsp.Data),
		}
		re.slotKeep = 0xf
		re.slotCount = 4
		re.slotSOP = true
	} else {
		re.slots[re.slotCount] = tlp.SwapBytes(rsp.Data)
		re.slotKeep |= 1 << uint(re.slotCount)
		re.slotCount++
	}

	if re.slotCount == 4 || ctx.Last {
		re.flush(ctx.Last)
	}

	if ctx.Last && ctx.Final {
		tracing.EndTask(
			re.readTaskID(ctx.RequesterID, ctx.Tag), re.comp)
	}
}

func (re *readEngine) flush(isLast bool) {
	beat := tlp.Beat{
		Data: re.slots,
		Keep: re.slotKeep,
		SOP:  re.slotSOP,
		EOP:  isLast,
	}

	msg := &bar.TLPBeatMsg{Beat: beat}
	msg.ID = sim.GetIDGenerator().Generate()
	msg.Src = re.comp.outbound
	msg.Dst = re.comp.downstreamPort
	msg.TrafficBytes = 16

	err := re.comp.outbound.Send(msg)
	if err != nil {
		panic("outbound queue full after CanSend check")
	}

	if isLast {
		re.comp.outstanding++
	}

	re.slots = [4]uint32{}
	re.slotKeep = 0
	re.slotCount = 0
	re.slotSOP = false
}
