package xz

// LZMA2 chunk framing around the LZMA range-coder, per spec §4.5:
// "Chunked control byte loop. 0x00 terminates. Bits 0xE0|0x01 request
// dictionary reset; 0xC0/0xA0 request property/state reset. Uncompressed
// chunks copy raw bytes. Compressed chunks run the LZMA range-coder
// against a dictionary whose size came from the header properties byte."
//
// There is no reference implementation of the inner range coder in the
// retrieved pack (only the outer .xz container state machine, in
// dec_stream.go/dec_xz.go, has a pack source); this file and rangecoder.go
// implement the chunked framing and LZMA algorithm directly from that
// textual description and the well-known LZMA bitstream layout.

import (
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const (
	lzma2ControlEnd          = 0x00
	lzma2ControlUncompDict   = 0x01 // uncompressed chunk, reset dictionary
	lzma2ControlUncompNoDict = 0x02 // uncompressed chunk, no reset
	lzma2ControlCompressedLo = 0x80
)

// lzma2ResetMode is decoded from bits 0x60 of an LZMA chunk's control byte.
type lzma2ResetMode int

const (
	lzma2ResetNone lzma2ResetMode = iota
	lzma2ResetState
	lzma2ResetStateNewProps
	lzma2ResetStateNewPropsDict
)

// lzma2Decoder drives the chunked control-byte loop and owns the
// dictionary and LZMA decoder state across chunks, as LZMA2 requires
// (properties and range-coder state persist across chunks unless a reset
// bit says otherwise).
type lzma2Decoder struct {
	src io.Reader
	dec *lzmaDecoder
	dup bool // a props/state/dict reset has happened at least once
}

func newLZMA2Decoder(src io.Reader, dictSize uint32) *lzma2Decoder {
	return &lzma2Decoder{
		src: src,
		dec: newLZMADecoder(dictSize),
	}
}

// decodeChunk reads and processes exactly one LZMA2 chunk, returning the
// number of bytes added to the dictionary's undrained output (see
// Drain) and whether the LZMA2 stream has ended
// (control byte 0x00).
func (d *lzma2Decoder) decodeChunk(cancel func() error) (n int, end bool, err error) {
	var ctrl [1]byte
	if _, err := io.ReadFull(d.src, ctrl[:]); err != nil {
		return 0, false, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read LZMA2 control byte")
	}
	c := ctrl[0]
	if c == lzma2ControlEnd {
		return 0, true, nil
	}
	if c < lzma2ControlCompressedLo {
		if c != lzma2ControlUncompDict && c != lzma2ControlUncompNoDict {
			return 0, false, bferrors.New(bferrors.CodeLZMABadData, "invalid LZMA2 control byte 0x%02x", c)
		}
		if c == lzma2ControlUncompDict {
			d.dec.resetDict()
		}
		size, err := readU16BE(d.src)
		if err != nil {
			return 0, false, err
		}
		size++
		if err := d.dec.copyUncompressed(d.src, int(size), cancel); err != nil {
			return 0, false, err
		}
		d.dec.needInitState = true
		return int(size), false, nil
	}

	unpackedHi := uint32(c & 0x1F)
	unpackedLoHi, err := readU16BE(d.src)
	if err != nil {
		return 0, false, err
	}
	unpacked := (unpackedHi<<16 | uint32(unpackedLoHi)) + 1

	compressedLenRaw, err := readU16BE(d.src)
	if err != nil {
		return 0, false, err
	}
	compressed := uint32(compressedLenRaw) + 1

	reset := lzma2ResetMode((c >> 5) & 0x3)
	if reset >= lzma2ResetStateNewProps {
		var propsByte [1]byte
		if _, err := io.ReadFull(d.src, propsByte[:]); err != nil {
			return 0, false, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read LZMA2 properties byte")
		}
		if err := d.dec.setProps(propsByte[0]); err != nil {
			return 0, false, err
		}
	} else if !d.dup && reset != lzma2ResetNone {
		return 0, false, bferrors.New(bferrors.CodeLZMABadData, "first LZMA2 chunk must carry new properties")
	}
	if reset == lzma2ResetStateNewPropsDict {
		d.dec.resetDict()
	}
	if reset != lzma2ResetNone {
		d.dec.resetState()
		d.dup = true
	} else if d.dec.needInitState {
		return 0, false, bferrors.New(bferrors.CodeLZMABadData, "LZMA2 chunk after uncompressed chunk must reset state")
	}

	lr := io.LimitReader(d.src, int64(compressed))
	produced, err := d.dec.decode(lr, int(unpacked), cancel)
	if err != nil {
		return 0, false, err
	}
	if produced != int(unpacked) {
		return 0, false, bferrors.New(bferrors.CodeLZMABadData, "LZMA2 chunk produced %d bytes, header declared %d", produced, unpacked)
	}
	d.dec.needInitState = false
	return produced, false, nil
}

// Drain copies decoded bytes that have not been drained yet into p and
// returns how many it copied.
func (d *lzma2Decoder) Drain(p []byte) int { return d.dec.dict.drain(p) }

func (d *lzma2Decoder) Buffered() int { return d.dec.dict.buffered() }

func readU16BE(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read LZMA2 16-bit length")
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}
