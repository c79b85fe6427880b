// Package bar defines the contract between the BAR access pipeline and the
// backend register blocks, including the request, response, and control
// messages and the context that correlates read responses to their requests.
package bar

import (
	"github.com/sarchlab/barpipe/sim"
	"github.com/sarchlab/barpipe/tlp"
)

// NumBars is the number of bar indices the pipeline can dispatch to.
const NumBars = 7

// MaxChunkDWords bounds the payload of a single completion chunk to 128
// bytes.
const MaxChunkDWords = 32

// A Context carries the full correlation state of one in-flight DWORD read.
// It travels with the request through the backend and returns attached to
// the response, byte-identical. There is no pending-request table; the
// context is the sole means of reconstructing the completion.
type Context struct {
	First bool
	Last  bool

	// Final marks the DWORDs of the request's last chunk; First/Last frame
	// the individual chunk.
	Final bool

	DWLen       uint16 // total DWORD length of the completion chunk
	ByteCount   uint16 // 12-bit completion byte count
	RequesterID uint16
	Tag         uint8
	LowerAddr   uint8 // 7-bit low address bits
}

// A TLPBeatMsg carries one TLP stream beat between components.
type TLPBeatMsg struct {
	sim.MsgMeta

	Beat tlp.Beat
}

// Meta returns the meta data of the message.
func (m *TLPBeatMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// A WriteReq is a single-cycle write descriptor. There is no response
// message; the backend consumes the write immediately.
type WriteReq struct {
	sim.MsgMeta

	BarIndex   uint8
	Address    uint32 // DWORD-aligned byte address
	ByteEnable uint8  // 4-bit mask of valid bytes
	Data       uint32
}

// Meta returns the meta data of the message.
func (m *WriteReq) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// A ReadReq requests one DWORD from a backend.
type ReadReq struct {
	sim.MsgMeta

	BarIndex uint8
	Address  uint32 // DWORD-aligned byte address
	Context  Context
}

// Meta returns the meta data of the message.
func (m *ReadReq) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// A ReadRsp returns one DWORD of data together with the request's context,
// echoed unchanged.
type ReadRsp struct {
	sim.MsgMeta

	Context Context
	Data    uint32
}

// Meta returns the meta data of the message.
func (m *ReadRsp) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// A ControlMsg delivers the externally set configuration to the pipeline.
// Reset synchronously clears all queues and state machines.
type ControlMsg struct {
	sim.MsgMeta

	Enable bool
	Reset  bool
}

// Meta returns the meta data of the message.
func (m *ControlMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// WriteReqBuilder can build write descriptors.
type WriteReqBuilder struct {
	src, dst   sim.Port
	barIndex   uint8
	address    uint32
	byteEnable uint8
	data       uint32
}

// WithSrc sets the source of the request to build.
func (b WriteReqBuilder) WithSrc(src sim.Port) WriteReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b WriteReqBuilder) WithDst(dst sim.Port) WriteReqBuilder {
	b.dst = dst
	return b
}

// WithBarIndex sets the bar the write is addressed to.
func (b WriteReqBuilder) WithBarIndex(barIndex uint8) WriteReqBuilder {
	b.barIndex = barIndex
	return b
}

// WithAddress sets the DWORD-aligned byte address of the write.
func (b WriteReqBuilder) WithAddress(address uint32) WriteReqBuilder {
	b.address = address
	return b
}

// WithByteEnable sets the byte-enable nibble of the write.
func (b WriteReqBuilder) WithByteEnable(byteEnable uint8) WriteReqBuilder {
	b.byteEnable = byteEnable
	return b
}

// WithData sets the data of the write.
func (b WriteReqBuilder) WithData(data uint32) WriteReqBuilder {
	b.data = data
	return b
}

// Build creates a new WriteReq.
func (b WriteReqBuilder) Build() *WriteReq {
	r := &WriteReq{}
	r.ID = sim.GetIDGenerator().Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = tlp.DWordBytes
	r.BarIndex = b.barIndex
	r.Address = b.address
	r.ByteEnable = b.byteEnable
	r.Data = b.data

	return r
}

// ReadReqBuilder can build read request descriptors.
type ReadReqBuilder struct {
	src, dst sim.Port
	barIndex uint8
	address  uint32
	context  Context
}

// WithSrc sets the source of the request to build.
func (b ReadReqBuilder) WithSrc(src sim.Port) ReadReqBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the request to build.
func (b ReadReqBuilder) WithDst(dst sim.Port) ReadReqBuilder {
	b.dst = dst
	return b
}

// WithBarIndex sets the bar the read is addressed to.
func (b ReadReqBuilder) WithBarIndex(barIndex uint8) ReadReqBuilder {
	b.barIndex = barIndex
	return b
}

// WithAddress sets the DWORD-aligned byte address of the read.
func (b ReadReqBuilder) WithAddress(address uint32) ReadReqBuilder {
	b.address = address
	return b
}

// WithContext sets the context carried through the backend.
func (b ReadReqBuilder) WithContext(context Context) ReadReqBuilder {
	b.context = context
	return b
}

// Build creates a new ReadReq.
func (b ReadReqBuilder) Build() *ReadReq {
	r := &ReadReq{}
	r.ID = sim.GetIDGenerator().Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = tlp.DWordBytes
	r.BarIndex = b.barIndex
	r.Address = b.address
	r.Context = b.context

	return r
}

// ReadRspBuilder can build read responses.
type ReadRspBuilder struct {
	src, dst sim.Port
	context  Context
	data     uint32
}

// WithSrc sets the source of the response to build.
func (b ReadRspBuilder) WithSrc(src sim.Port) ReadRspBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the response to build.
func (b ReadRspBuilder) WithDst(dst sim.Port) ReadRspBuilder {
	b.dst = dst
	return b
}

// WithContext sets the echoed context of the response.
func (b ReadRspBuilder) WithContext(context Context) ReadRspBuilder {
	b.context = context
	return b
}

// WithData sets the data of the response.
func (b ReadRspBuilder) WithData(data uint32) ReadRspBuilder {
	b.data = data
	return b
}

// Build creates a new ReadRsp.
func (b ReadRspBuilder) Build() *ReadRsp {
	r := &ReadRsp{}
	r.ID = sim.GetIDGenerator().Generate()
	r.Src = b.src
	r.Dst = b.dst
	r.TrafficBytes = tlp.DWordBytes
	r.Context = b.context
	r.Data = b.data

	return r
}
