package xz

import (
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const (
	numStates         = 12
	numPosBitsMax     = 4
	numLenToPosStates = 4
	numAlignBits      = 4
	endPosModelIndex  = 14
	numFullDistances  = 1 << (endPosModelIndex >> 1)
	matchMinLen       = 2

	cancelCheckEvery = 16 * 1024
)

// lenCoder implements the LZMA length coder: a choice bit selecting
// among a short (0-7), mid (8-15), or long (16-271) bit-tree, each
// keyed by the position-state bits per spec §4.5.
type lenCoder struct {
	choice  uint16
	choice2 uint16
	low     [][]uint16 // [posState][8 probs], bit-tree 3 bits
	mid     [][]uint16
	high    []uint16 // bit-tree 8 bits
}

func newLenCoder() *lenCoder {
	lc := &lenCoder{
		choice:  probInitValue,
		choice2: probInitValue,
		low:     make([][]uint16, 1<<numPosBitsMax),
		mid:     make([][]uint16, 1<<numPosBitsMax),
		high:    newProbSlice(1 << 8),
	}
	for i := range lc.low {
		lc.low[i] = newProbSlice(1 << 3)
		lc.mid[i] = newProbSlice(1 << 3)
	}
	return lc
}

func (lc *lenCoder) reset() {
	lc.choice = probInitValue
	lc.choice2 = probInitValue
	for i := range lc.low {
		resetProbs(lc.low[i])
		resetProbs(lc.mid[i])
	}
	resetProbs(lc.high)
}

func (lc *lenCoder) decode(rc *rangeDecoder, posState uint32) (uint32, error) {
	bit, err := rc.decodeBit(&lc.choice)
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		return rc.decodeBitTree(lc.low[posState], 3)
	}
	bit2, err := rc.decodeBit(&lc.choice2)
	if err != nil {
		return 0, err
	}
	if bit2 == 0 {
		v, err := rc.decodeBitTree(lc.mid[posState], 3)
		return v + 8, err
	}
	v, err := rc.decodeBitTree(lc.high, 8)
	return v + 16, err
}

// lzmaDecoder holds the LZMA probability model, repeat-distance cache,
// state register, and dictionary. Properties (lc/lp/pb) and state
// persist across LZMA2 chunks unless a reset bit in the chunk's control
// byte says otherwise (spec §4.5).
type lzmaDecoder struct {
	lc, lp, pb uint32

	state uint32
	reps  [4]uint32

	isMatch    []uint16 // [state*16+posState]
	isRep      []uint16 // [state]
	isRepG0    []uint16
	isRepG1    []uint16
	isRepG2    []uint16
	isRep0Long []uint16 // [state*16+posState]

	posSlotDecoder [numLenToPosStates][]uint16 // 6-bit bit-tree each
	specPos        []uint16                    // numFullDistances - endPosModelIndex
	alignDecoder   []uint16                    // 4-bit reverse bit-tree

	lenDecoder    *lenCoder
	repLenDecoder *lenCoder

	literalProbs []uint16 // 0x300 << (lc+lp)

	dict *lzmaWindow

	propsSet      bool
	needInitState bool // set after an uncompressed LZMA2 chunk; next LZMA chunk must reset state
}

func newLZMADecoder(dictSize uint32) *lzmaDecoder {
	d := &lzmaDecoder{
		dict:           newLZMAWindow(dictSize),
		isMatch:        newProbSlice(numStates << numPosBitsMax),
		isRep:          newProbSlice(numStates),
		isRepG0:        newProbSlice(numStates),
		isRepG1:        newProbSlice(numStates),
		isRepG2:        newProbSlice(numStates),
		isRep0Long:     newProbSlice(numStates << numPosBitsMax),
		specPos:        newProbSlice(numFullDistances - endPosModelIndex),
		alignDecoder:   newProbSlice(1 << numAlignBits),
		lenDecoder:     newLenCoder(),
		repLenDecoder:  newLenCoder(),
	}
	for i := range d.posSlotDecoder {
		d.posSlotDecoder[i] = newProbSlice(1 << 6)
	}
	return d
}

// setProps decodes the LZMA2 properties byte: props = (pb*5+lp)*9+lc.
func (d *lzmaDecoder) setProps(b byte) error {
	v := uint32(b)
	if v >= 225 {
		return bferrors.New(bferrors.CodeLZMABadData, "invalid LZMA2 properties byte %d", v)
	}
	d.lc = v % 9
	v /= 9
	d.lp = v % 5
	d.pb = v / 5
	if d.lc+d.lp > 4 {
		return bferrors.New(bferrors.CodeLZMABadData, "lc+lp = %d exceeds 4", d.lc+d.lp)
	}
	if d.pb > 4 {
		return bferrors.New(bferrors.CodeLZMABadData, "pb = %d exceeds 4", d.pb)
	}
	d.literalProbs = newProbSlice(0x300 << (d.lc + d.lp))
	d.propsSet = true
	return nil
}

func (d *lzmaDecoder) resetDict() { d.dict.reset() }

func (d *lzmaDecoder) resetState() {
	d.state = 0
	d.reps = [4]uint32{0, 0, 0, 0}
	resetProbs(d.isMatch)
	resetProbs(d.isRep)
	resetProbs(d.isRepG0)
	resetProbs(d.isRepG1)
	resetProbs(d.isRepG2)
	resetProbs(d.isRep0Long)
	for i := range d.posSlotDecoder {
		resetProbs(d.posSlotDecoder[i])
	}
	resetProbs(d.specPos)
	resetProbs(d.alignDecoder)
	d.lenDecoder.reset()
	d.repLenDecoder.reset()
	if d.literalProbs != nil {
		resetProbs(d.literalProbs)
	}
}

func (d *lzmaDecoder) copyUncompressed(r io.Reader, size int, cancel func() error) error {
	buf := make([]byte, 4096)
	remaining := size
	since := 0
	for remaining > 0 {
		n := len(buf)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read LZMA2 uncompressed chunk")
		}
		for i := 0; i < n; i++ {
			d.dict.putByte(buf[i])
		}
		remaining -= n
		since += n
		if since >= cancelCheckEvery {
			since = 0
			if cancel != nil {
				if err := cancel(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func lenToPosState(length uint32) uint32 {
	idx := length - matchMinLen
	if idx >= numLenToPosStates {
		idx = numLenToPosStates - 1
	}
	return idx
}

func (d *lzmaDecoder) decodeDistance(rc *rangeDecoder, length uint32) (uint32, error) {
	posSlot, err := rc.decodeBitTree(d.posSlotDecoder[lenToPosState(length)], 6)
	if err != nil {
		return 0, err
	}
	if posSlot < 4 {
		return posSlot, nil
	}
	numDirectBits := int(posSlot>>1) - 1
	dist := (2 | (posSlot & 1)) << uint(numDirectBits)
	if posSlot < endPosModelIndex {
		offset := int(dist) - int(posSlot) - 1
		v, err := rc.decodeBitTreeReverse(d.specPos, offset, numDirectBits)
		if err != nil {
			return 0, err
		}
		dist += v
	} else {
		hi, err := rc.decodeDirectBits(numDirectBits - numAlignBits)
		if err != nil {
			return 0, err
		}
		dist += hi << numAlignBits
		lo, err := rc.decodeBitTreeReverse(d.alignDecoder, 0, numAlignBits)
		if err != nil {
			return 0, err
		}
		dist += lo
	}
	return dist, nil
}

func (d *lzmaDecoder) decodeLiteral(rc *rangeDecoder) (byte, error) {
	prevByte := d.dict.lastByte()
	posMask := uint32(1)<<d.lp - 1
	litState := ((uint32(d.dict.total) & posMask) << d.lc) + uint32(prevByte>>(8-d.lc))
	probs := d.literalProbs[litState*0x300 : litState*0x300+0x300]

	symbol := uint32(1)
	if d.state >= 7 {
		matchByte := d.dict.getByte(d.reps[0])
		for symbol < 0x100 {
			matchBit := uint32(matchByte>>7) & 1
			matchByte <<= 1
			bit, err := rc.decodeBit(&probs[((1+matchBit)<<8)+symbol])
			if err != nil {
				return 0, err
			}
			symbol = (symbol << 1) | uint32(bit)
			if matchBit != uint32(bit) {
				break
			}
		}
	}
	for symbol < 0x100 {
		bit, err := rc.decodeBit(&probs[symbol])
		if err != nil {
			return 0, err
		}
		symbol = (symbol << 1) | uint32(bit)
	}
	return byte(symbol), nil
}

func updateStateLiteral(state uint32) uint32 {
	switch {
	case state < 4:
		return 0
	case state < 10:
		return state - 3
	default:
		return state - 6
	}
}

func updateStateMatch(state uint32) uint32 {
	if state < 7 {
		return 7
	}
	return 10
}

func updateStateRep(state uint32) uint32 {
	if state < 7 {
		return 8
	}
	return 11
}

func updateStateShortRep(state uint32) uint32 {
	if state < 7 {
		return 9
	}
	return 11
}

// decode runs the LZMA range coder over r until unpackedSize bytes have
// been produced into d.dict, per the state machine spec §4.5 describes
// in prose. cancel is invoked roughly every 16 KiB of output, per spec
// §4.5 ("The decoder checks the cancellation token once per 16 KiB
// output and per 16 KiB dictionary write").
func (d *lzmaDecoder) decode(r io.Reader, unpackedSize int, cancel func() error) (int, error) {
	if !d.propsSet {
		return 0, bferrors.New(bferrors.CodeLZMABadData, "LZMA2 chunk decoded before properties were set")
	}
	rc, err := newRangeDecoder(r)
	if err != nil {
		return 0, err
	}
	pbMask := uint32(1)<<d.pb - 1
	produced := 0
	sinceCancel := 0
	for produced < unpackedSize {
		posState := uint32(d.dict.total) & pbMask
		bit, err := rc.decodeBit(&d.isMatch[d.state<<numPosBitsMax+posState])
		if err != nil {
			return produced, err
		}
		if bit == 0 {
			b, err := d.decodeLiteral(rc)
			if err != nil {
				return produced, err
			}
			d.dict.putByte(b)
			d.state = updateStateLiteral(d.state)
			produced++
			sinceCancel++
			if sinceCancel >= cancelCheckEvery {
				sinceCancel = 0
				if cancel != nil {
					if err := cancel(); err != nil {
						return produced, err
					}
				}
			}
			continue
		}

		var length uint32
		repBit, err := rc.decodeBit(&d.isRep[d.state])
		if err != nil {
			return produced, err
		}
		if repBit != 0 {
			if d.dict.total == 0 {
				return produced, bferrors.New(bferrors.CodeLZMABadData, "repeat match with empty history")
			}
			g0, err := rc.decodeBit(&d.isRepG0[d.state])
			if err != nil {
				return produced, err
			}
			if g0 == 0 {
				short, err := rc.decodeBit(&d.isRep0Long[d.state<<numPosBitsMax+posState])
				if err != nil {
					return produced, err
				}
				if short == 0 {
					d.state = updateStateShortRep(d.state)
					b := d.dict.getByte(d.reps[0])
					d.dict.putByte(b)
					produced++
					sinceCancel++
					continue
				}
			} else {
				var dist uint32
				g1, err := rc.decodeBit(&d.isRepG1[d.state])
				if err != nil {
					return produced, err
				}
				if g1 == 0 {
					dist = d.reps[1]
				} else {
					g2, err := rc.decodeBit(&d.isRepG2[d.state])
					if err != nil {
						return produced, err
					}
					if g2 == 0 {
						dist = d.reps[2]
					} else {
						dist = d.reps[3]
						d.reps[3] = d.reps[2]
					}
					d.reps[2] = d.reps[1]
				}
				d.reps[1] = d.reps[0]
				d.reps[0] = dist
			}
			length, err = d.repLenDecoder.decode(rc, posState)
			if err != nil {
				return produced, err
			}
			length += matchMinLen
			d.state = updateStateRep(d.state)
		} else {
			d.reps[3] = d.reps[2]
			d.reps[2] = d.reps[1]
			d.reps[1] = d.reps[0]
			length, err = d.lenDecoder.decode(rc, posState)
			if err != nil {
				return produced, err
			}
			length += matchMinLen
			d.state = updateStateMatch(d.state)
			dist, err := d.decodeDistance(rc, length)
			if err != nil {
				return produced, err
			}
			if dist == 0xFFFFFFFF {
				// End-of-stream marker; not expected within an
				// LZMA2 chunk since chunk sizes are explicit.
				return produced, bferrors.New(bferrors.CodeLZMABadData, "unexpected LZMA end-of-stream marker inside chunk")
			}
			d.reps[0] = dist
		}

		if !d.dict.availableHistory(d.reps[0]) {
			return produced, bferrors.New(bferrors.CodeLZMABadData, "match distance %d exceeds available history", d.reps[0])
		}
		for i := uint32(0); i < length && produced < unpackedSize; i++ {
			b := d.dict.getByte(d.reps[0])
			d.dict.putByte(b)
			produced++
			sinceCancel++
			if sinceCancel >= cancelCheckEvery {
				sinceCancel = 0
				if cancel != nil {
					if err := cancel(); err != nil {
						return produced, err
					}
				}
			}
		}
	}
	return produced, nil
}
