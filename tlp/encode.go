package tlp

// ReqParams describes one memory request to place on the beat stream.
type ReqParams struct {
	Write  bool
	Hdr4DW bool

	Address     uint32
	AddressHi   uint32 // upper address DWORD, only used with a 4-DWORD header
	DWLength    uint32 // 1..MaxReqDWords
	RequesterID uint16
	Tag         uint8
	FirstBE     uint8
	LastBE      uint8
	BarSel      uint8

	// Payload holds the wire-order data DWORDs of a write. Its length must
	// equal DWLength. Reads leave it nil.
	Payload []uint32
}

func (p ReqParams) headerType() Type {
	switch {
	case p.Write && p.Hdr4DW:
		return MWr4
	case p.Write:
		return MWr3
	case p.Hdr4DW:
		return MRd4
	default:
		return MRd3
	}
}

func (p ReqParams) headerDWords() []uint32 {
	hdr := make([]uint32, 0, 4)

	hdr = append(hdr, uint32(p.headerType())<<24|(p.DWLength&0x3ff))
	hdr = append(hdr, uint32(p.RequesterID)<<16|
		uint32(p.Tag)<<8|
		uint32(p.LastBE&0xf)<<4|
		uint32(p.FirstBE&0xf))

	if p.Hdr4DW {
		hdr = append(hdr, p.AddressHi)
	}

	hdr = append(hdr, p.Address&^0x3)

	return hdr
}

// EncodeBeats lays a request out as a sequence of stream beats. Write
// payloads follow the header back to back, so a 3-DWORD write header shares
// its first beat with the first payload DWORD.
func EncodeBeats(p ReqParams) []Beat {
	dws := p.headerDWords()
	if p.Write {
		dws = append(dws, p.Payload...)
	}

	var beats []Beat

	for i := 0; i < len(dws); i += 4 {
		beat := Beat{
			SOP:    i == 0,
			BarSel: p.BarSel,
		}

		for j := 0; j < 4 && i+j < len(dws); j++ {
			beat.Data[j] = dws[i+j]
			beat.Keep |= 1 << j
		}

		beat.EOP = i+4 >= len(dws)
		beats = append(beats, beat)
	}

	return beats
}
