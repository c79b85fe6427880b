package tlp

import "math/bits"

// A Beat is one cycle's transfer unit on the TLP stream: 4 DWORDs of data, a
// per-DWORD validity mask, and out-of-band framing flags. Beats are value
// types and are never retained past the pipeline stage holding them.
type Beat struct {
	Data [4]uint32

	// Keep has bit i set if Data[i] is valid.
	Keep uint8

	SOP bool
	EOP bool

	// BarSel is a one-hot 7-bit bar hit mask. Zero means the beat does not
	// address BAR space.
	BarSel uint8
}

// BarIndex returns the index of the lowest set bit of BarSel. The result is
// only meaningful when BarSel is nonzero.
func (b Beat) BarIndex() uint8 {
	return uint8(bits.TrailingZeros8(b.BarSel))
}

// LastDWIndex returns the index of the highest valid DWORD in the beat.
func (b Beat) LastDWIndex() int {
	return bits.Len8(b.Keep) - 1
}

// HeaderType returns the format/type field, valid only on a SOP beat.
func (b Beat) HeaderType() Type {
	return Type(b.Data[0] >> 24)
}

// HeaderDWLength returns the decoded DWORD length field of a request header.
func (b Beat) HeaderDWLength() uint32 {
	return DecodeDWLength(b.Data[0])
}

// RequesterID returns the requester identifier of a request header.
func (b Beat) RequesterID() uint16 {
	return uint16(b.Data[1] >> 16)
}

// Tag returns the tag field of a request header.
func (b Beat) Tag() uint8 {
	return uint8(b.Data[1] >> 8)
}

// LastBE returns the last-DWORD byte-enable nibble of a request header.
func (b Beat) LastBE() uint8 {
	return uint8(b.Data[1]>>4) & 0xf
}

// FirstBE returns the first-DWORD byte-enable nibble of a request header.
func (b Beat) FirstBE() uint8 {
	return uint8(b.Data[1]) & 0xf
}

// Address returns the DWORD-aligned byte address of a request header. For
// 4-DWORD headers the upper 32 address bits are ignored, as BAR offsets are
// confined to a 32-bit space.
func (b Beat) Address() uint32 {
	if b.HeaderType().HeaderDWords() == 4 {
		return b.Data[3] &^ 0x3
	}

	return b.Data[2] &^ 0x3
}
