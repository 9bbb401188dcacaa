package xz

import (
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const (
	probInitValue   = 1 << 10 // kNumBitModelTotal / 2
	numBitModelBits = 11
	numMoveBits     = 5
)

// rangeDecoder implements the LZMA binary range coder: 5-byte
// initialization (first byte must be zero), normalize-on-underflow,
// and bit/bittree/direct-bits decode primitives, per the well-known
// LZMA SDK bitstream layout referenced by spec §4.5.
type rangeDecoder struct {
	r    io.Reader
	code uint32
	rng  uint32
	buf  [1]byte
}

func newRangeDecoder(r io.Reader) (*rangeDecoder, error) {
	rc := &rangeDecoder{r: r, rng: 0xFFFFFFFF}
	var init [5]byte
	if _, err := io.ReadFull(r, init[:]); err != nil {
		return nil, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read LZMA range-coder init bytes")
	}
	if init[0] != 0 {
		return nil, bferrors.New(bferrors.CodeLZMABadData, "LZMA range-coder init byte must be zero")
	}
	rc.code = uint32(init[1])<<24 | uint32(init[2])<<16 | uint32(init[3])<<8 | uint32(init[4])
	return rc, nil
}

func (rc *rangeDecoder) readByte() (byte, error) {
	if _, err := io.ReadFull(rc.r, rc.buf[:]); err != nil {
		return 0, bferrors.Wrap(bferrors.CodeXZTruncated, err, "LZMA range coder starved of input")
	}
	return rc.buf[0], nil
}

const topValue = 1 << 24

func (rc *rangeDecoder) normalize() error {
	if rc.rng < topValue {
		b, err := rc.readByte()
		if err != nil {
			return err
		}
		rc.rng <<= 8
		rc.code = rc.code<<8 | uint32(b)
	}
	return nil
}

func (rc *rangeDecoder) decodeDirectBits(numBits int) (uint32, error) {
	res := uint32(0)
	for ; numBits > 0; numBits-- {
		rc.rng >>= 1
		rc.code -= rc.rng
		t := uint32(0) - (rc.code >> 31)
		rc.code += rc.rng & t
		if err := rc.normalize(); err != nil {
			return 0, err
		}
		res = (res << 1) + t + 1
	}
	return res, nil
}

func (rc *rangeDecoder) decodeBit(prob *uint16) (int, error) {
	bound := (rc.rng >> numBitModelBits) * uint32(*prob)
	var bit int
	if rc.code < bound {
		rc.rng = bound
		*prob += (uint16(1)<<numBitModelBits - *prob) >> numMoveBits
		bit = 0
	} else {
		rc.rng -= bound
		rc.code -= bound
		*prob -= *prob >> numMoveBits
		bit = 1
	}
	if err := rc.normalize(); err != nil {
		return 0, err
	}
	return bit, nil
}

func (rc *rangeDecoder) decodeBitTree(probs []uint16, numBits int) (uint32, error) {
	m := uint32(1)
	for i := 0; i < numBits; i++ {
		bit, err := rc.decodeBit(&probs[m])
		if err != nil {
			return 0, err
		}
		m = (m << 1) + uint32(bit)
	}
	return m - (1 << uint(numBits)), nil
}

func (rc *rangeDecoder) decodeBitTreeReverse(probs []uint16, offset, numBits int) (uint32, error) {
	m := uint32(1)
	sym := uint32(0)
	for i := 0; i < numBits; i++ {
		bit, err := rc.decodeBit(&probs[offset+int(m)])
		if err != nil {
			return 0, err
		}
		m = (m << 1) + uint32(bit)
		sym |= uint32(bit) << uint(i)
	}
	return sym, nil
}

func newProbSlice(n int) []uint16 {
	p := make([]uint16, n)
	for i := range p {
		p[i] = probInitValue
	}
	return p
}

func resetProbs(p []uint16) {
	for i := range p {
		p[i] = probInitValue
	}
}
