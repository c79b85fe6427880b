// Package tlp defines the Transaction Layer Packet types, header field
// layouts, and the beat format that PCIe-facing components exchange.
//
// Header bit layouts follow Table 2-3 and Section 2.2 of the PCI Express
// Base Specification. Each header DWORD is held as a uint32 with byte 0 of
// the wire representation in bits 31:24.
package tlp

import "math/bits"

// A DWORD is 4 bytes. Addressing and transfer granularity throughout the
// design is one DWORD.
const (
	DWordBytes = 4

	// MaxReqDWords is the largest DWORD count a memory request can carry. A
	// length field of 0 encodes this value.
	MaxReqDWords = 1024
)

const (
	fmt3DWNoData   = 0b000
	fmt4DWNoData   = 0b001
	fmt3DWWithData = 0b010
	fmt4DWWithData = 0b011
)

// Type is the format and type field in the TLP header.
type Type uint8

const (
	// MRd3 is a Memory Read Request encoded with a 3-DWORD header.
	MRd3 Type = (fmt3DWNoData << 5) | 0b00000
	// MRd4 is a Memory Read Request encoded with a 4-DWORD header.
	MRd4 Type = (fmt4DWNoData << 5) | 0b00000
	// MRdLk3 is a Memory Read Request-Locked encoded with a 3-DWORD header.
	MRdLk3 Type = (fmt3DWNoData << 5) | 0b00001
	// MRdLk4 is a Memory Read Request-Locked encoded with a 4-DWORD header.
	MRdLk4 Type = (fmt4DWNoData << 5) | 0b00001
	// MWr3 is a Memory Write Request encoded with a 3-DWORD header.
	MWr3 Type = (fmt3DWWithData << 5) | 0b00000
	// MWr4 is a Memory Write Request encoded with a 4-DWORD header.
	MWr4 Type = (fmt4DWWithData << 5) | 0b00000
	// CplD is a Completion with Data.
	CplD Type = (fmt3DWWithData << 5) | 0b01010
)

// IsMemRead returns true if the type is one of the recognized memory read
// request encodings, including the locked variants.
func (t Type) IsMemRead() bool {
	switch t {
	case MRd3, MRd4, MRdLk3, MRdLk4:
		return true
	default:
		return false
	}
}

// IsMemWrite returns true if the type is one of the recognized memory write
// request encodings.
func (t Type) IsMemWrite() bool {
	return t == MWr3 || t == MWr4
}

// HeaderDWords returns the number of header DWORDs for the type, either 3 or
// 4.
func (t Type) HeaderDWords() int {
	if uint8(t)>>5&0b001 != 0 {
		return 4
	}

	return 3
}

// DecodeDWLength expands the 10-bit length field of a request header. A raw
// value of 0 encodes 1024 DWORDs.
func DecodeDWLength(raw uint32) uint32 {
	length := raw & 0x3ff
	if length == 0 {
		return MaxReqDWords
	}

	return length
}

// SwapBytes converts a DWORD between the backend's native word order and the
// wire byte order.
func SwapBytes(dw uint32) uint32 {
	return bits.ReverseBytes32(dw)
}

// SwapBytes16 swaps the two bytes of a 16-bit field.
func SwapBytes16(v uint16) uint16 {
	return bits.ReverseBytes16(v)
}

// A CplDHeader carries the fields of a Completion-with-Data header.
type CplDHeader struct {
	DWLength    uint16 // total payload length of the completion, in DWORDs
	ByteCount   uint16 // 12-bit byte count
	CompleterID uint16
	RequesterID uint16
	Tag         uint8
	LowerAddr   uint8 // 7-bit low address bits of the first enabled byte
}

// Pack assembles the three header DWORDs of a CplD TLP. The requester ID is
// byte-swapped per the wire convention of the outbound stream.
func (h CplDHeader) Pack() [3]uint32 {
	var dw [3]uint32

	dw[0] = uint32(CplD)<<24 | uint32(h.DWLength&0x3ff)
	dw[1] = uint32(h.CompleterID)<<16 | uint32(h.ByteCount&0xfff)
	dw[2] = uint32(SwapBytes16(h.RequesterID))<<16 |
		uint32(h.Tag)<<8 |
		uint32(h.LowerAddr&0x7f)

	return dw
}
