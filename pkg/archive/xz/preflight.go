package xz

import (
	"encoding/binary"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// PreflightResult summarizes the resource requirements extracted from
// an .xz stream's wrapper bytes without decoding any payload, per spec
// §4.4.
type PreflightResult struct {
	CheckType         CheckType
	MaxDictionaryBytes uint32
	BlockHeadersSeen   int
	IndexRecords       uint64
	IndexBytes         int64
	Incomplete         bool // the index was not read, so only the first Block Header was checked
	IndexRead          bool // the index was located and summed via the seekable backward path
}

// Preflight inspects an .xz stream's Stream Header and its first Block
// Header, decoding the LZMA2 filter's properties byte to compute its
// dictionary size, and raises CodeResourceLimit if that dictionary
// exceeds limits.MaxXZDictionaryBytes -- before any LZMA2 state is
// allocated. Later Block Headers are not read, and
// limits.MaxXZPreflightBlockHeaders is not consulted.
//
// If ra is non-nil (the substrate is seekable), the Stream Footer's
// Backward Size is followed to read the Index directly and sum
// index_records/index_bytes, per spec §4.4's "if the stream is
// seekable, follows the footer backwards-size to read the index".
func Preflight(r io.Reader, size int64, ra io.ReaderAt, limits archive.Limits) (PreflightResult, error) {
	lim := limits.Normalize(archive.DefaultLimits())
	var res PreflightResult

	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return res, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz stream header")
	}
	if [6]byte(hdr[0:6]) != streamMagic {
		return res, bferrors.New(bferrors.CodeXZBadData, "bad xz stream magic")
	}
	check := CheckType(hdr[7] & 0x0F)
	if checkSize(check) < 0 {
		return res, bferrors.New(bferrors.CodeXZUnsupportedCheck, "unsupported xz check type %d", check)
	}
	res.CheckType = check

	// The forward scan can only ever look at the first Block Header:
	// without a seekable substrate there is no way to know the
	// compressed size of Block Data in order to skip past it to the
	// next header. One header is still useful (it bounds the worst
	// case dictionary size an adversarial first block could demand),
	// and the seekable index path below recovers full coverage when
	// available.
	var sizeByte [1]byte
	if _, err := io.ReadFull(r, sizeByte[:]); err != nil {
		return res, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block header size byte")
	}
	if sizeByte[0] != 0 {
		headerLen := (int(sizeByte[0]) + 1) * 4
		rest := make([]byte, headerLen-1)
		if _, err := io.ReadFull(r, rest); err != nil {
			return res, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block header")
		}
		body := rest[:len(rest)-4]
		dictSize, err := scanBlockHeaderForDictSize(body)
		if err != nil {
			return res, err
		}
		res.MaxDictionaryBytes = dictSize
		if lim.MaxXZDictionaryBytes > 0 && uint64(dictSize) > lim.MaxXZDictionaryBytes {
			return res, bferrors.New(bferrors.CodeResourceLimit, "xz LZMA2 dictionary size %d exceeds limit %d", dictSize, lim.MaxXZDictionaryBytes)
		}
		res.BlockHeadersSeen = 1
	}
	res.Incomplete = true

	if ra != nil && size >= 12 {
		if err := readIndexBackward(ra, size, &res); err == nil {
			res.IndexRead = true
			res.Incomplete = false
		}
	}
	return res, nil
}

func scanBlockHeaderForDictSize(body []byte) (uint32, error) {
	if len(body) < 1 {
		return 0, bferrors.New(bferrors.CodeXZBadData, "empty xz block header body")
	}
	flags := body[0]
	numFilters := int(flags&0x03) + 1
	pos := 1
	readVLI := func() (uint64, error) {
		v, n, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return v, nil
	}
	if flags&0x40 != 0 {
		if _, err := readVLI(); err != nil {
			return 0, err
		}
	}
	if flags&0x80 != 0 {
		if _, err := readVLI(); err != nil {
			return 0, err
		}
	}
	var dictSize uint32
	for i := 0; i < numFilters; i++ {
		id, n, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		propsSize, n2, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n2
		if pos+int(propsSize) > len(body) {
			return 0, bferrors.New(bferrors.CodeXZBadData, "xz filter properties overrun block header")
		}
		props := body[pos : pos+int(propsSize)]
		pos += int(propsSize)
		if id == filterLZMA2 {
			if len(props) != 1 || props[0] > 40 {
				return 0, bferrors.New(bferrors.CodeXZUnsupportedFilter, "invalid LZMA2 filter properties")
			}
			dictSize = lzma2DictSize(props[0])
		}
	}
	return dictSize, nil
}

// readIndexBackward uses the Stream Footer's Backward Size (the last
// 12 bytes of the stream) to locate and read the Index field without
// traversing Block Data, the seekable fast path spec §4.4 describes.
func readIndexBackward(ra io.ReaderAt, size int64, res *PreflightResult) error {
	if size < 12 {
		return bferrors.New(bferrors.CodeXZTruncated, "stream too short for footer")
	}
	var footer [12]byte
	if _, err := ra.ReadAt(footer[:], size-12); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz stream footer")
	}
	if [2]byte{footer[10], footer[11]} != footerMagic {
		return bferrors.New(bferrors.CodeXZBadData, "bad xz stream footer magic")
	}
	backwardSize := (int64(binary.LittleEndian.Uint32(footer[4:8])) + 1) * 4
	indexStart := size - 12 - backwardSize
	if indexStart < 0 {
		return bferrors.New(bferrors.CodeXZBadData, "xz index backward size overruns stream")
	}
	indexBuf := make([]byte, backwardSize)
	if _, err := ra.ReadAt(indexBuf, indexStart); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz index")
	}

	pos := 0
	readVLI := func() (uint64, error) {
		v, n, err := decodeVLIFromBytes(indexBuf[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return v, nil
	}
	count, err := readVLI()
	if err != nil {
		return err
	}
	var indexBytesTotal int64
	for i := uint64(0); i < count; i++ {
		if _, err := readVLI(); err != nil {
			return err
		}
		if _, err := readVLI(); err != nil {
			return err
		}
	}
	indexBytesTotal = int64(pos)
	res.IndexRecords = count
	res.IndexBytes = indexBytesTotal
	return nil
}
