// Package xz implements the streaming XZ/LZMA2 decoder and resource
// pre-flight of spec §4.4-§4.5: "stream-header->block-header->
// block-data->block-padding->block-check->(block-header|index)->
// footer->stream-padding" state machine, a chunked LZMA2 decoder
// running the LZMA range coder against a bounded dictionary, and a
// pre-flight pass that extracts resource requirements from stream,
// block, and index headers before any dictionary is allocated.
//
// The outer container state machine is grounded on the vendored xi2/xz
// decoder retrieved into the example pack (dec_stream.go, dec_xz.go);
// the inner LZMA2/LZMA bitstream (rangecoder.go, lzma_decoder.go,
// lzma2.go) has no equivalent pack source and is built directly from
// the well-known LZMA SDK bitstream layout and spec §4.5's prose
// description, as recorded in DESIGN.md.
package xz

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"hash/crc64"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/codec"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

var (
	streamMagic  = [6]byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	footerMagic  = [2]byte{'Y', 'Z'}
	filterLZMA2  = uint64(0x21)
	crc64Table   = crc64.MakeTable(crc64.ECMA)
)

// CheckType identifies a .xz Block's integrity digest (spec §4.5,
// "Check type... none / CRC-32 / CRC-64 / SHA-256").
type CheckType byte

const (
	CheckNone   CheckType = 0x00
	CheckCRC32  CheckType = 0x01
	CheckCRC64  CheckType = 0x04
	CheckSHA256 CheckType = 0x0A
)

func checkSize(c CheckType) int {
	switch c {
	case CheckNone:
		return 0
	case CheckCRC32:
		return 4
	case CheckCRC64:
		return 8
	case CheckSHA256:
		return 32
	default:
		return -1
	}
}

func newCheckHash(c CheckType) hash.Hash {
	switch c {
	case CheckCRC32:
		return crc32.NewIEEE()
	case CheckCRC64:
		return crc64.New(crc64Table)
	case CheckSHA256:
		return sha256.New()
	default:
		return nil
	}
}

// Codec adapts the XZ reader to the codec.Codec contract (method 95,
// spec §6.3), registered by the facade via codec.Registry.WithCodec
// since pkg/archive/codec stays free of the heavier XZ state machine.
type Codec struct{}

func (Codec) MethodID() uint16        { return codec.MethodXZ }
func (Codec) Name() string            { return "xz" }
func (Codec) SupportsDecompress() bool { return true }
func (Codec) SupportsCompress() bool   { return false }

func (Codec) NewDecompressor(ctx context.Context, r io.Reader, params codec.DecompressParams) (io.ReadCloser, error) {
	return NewReader(ctx, r, params.Limits)
}

func (Codec) NewCompressor(_ context.Context, _ io.Writer, _ codec.CompressParams) (io.WriteCloser, error) {
	return nil, bferrors.New(bferrors.CodeUnsupportedAlgorithm, "xz compression is not supported, only decompression")
}

// reader drives the .xz container state machine, delegating Block
// Compressed Data to a chunked LZMA2 decoder (spec §4.5).
type reader struct {
	ctx    context.Context
	src    io.Reader
	limits archive.Limits

	cur       *lzma2Decoder
	check     CheckType
	checkHash hash.Hash
	blockSize int64 // bytes of this block's uncompressed output produced so far

	streamFlags byte
	firstStream bool
	done        bool
}

// NewReader builds a pull-driven io.ReadCloser over a raw .xz byte
// stream. The LZMA2 dictionary size is checked against limits as each
// Block Header is parsed, before any LZMA2 state is constructed, per
// spec §4.4; the number of filters is bounded only by the Block Header
// format.
func NewReader(ctx context.Context, src io.Reader, limits archive.Limits) (io.ReadCloser, error) {
	rd := &reader{ctx: ctx, src: src, limits: limits, firstStream: true}
	if err := rd.startStream(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (r *reader) cancel() error {
	select {
	case <-r.ctx.Done():
		return bferrors.Wrap(bferrors.CodeCancelled, r.ctx.Err(), "xz decode cancelled")
	default:
		return nil
	}
}

func (r *reader) startStream() error {
	var hdr [12]byte
	n, err := io.ReadFull(r.src, hdr[:])
	if err != nil {
		if r.firstStream && n == 0 && err == io.EOF {
			r.done = true
			return nil
		}
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz stream header")
	}
	if [6]byte(hdr[0:6]) != streamMagic {
		return bferrors.New(bferrors.CodeXZBadData, "bad xz stream magic")
	}
	if hdr[6] != 0 {
		return bferrors.New(bferrors.CodeXZBadData, "nonzero reserved stream flags byte")
	}
	r.streamFlags = hdr[7]
	check := CheckType(r.streamFlags & 0x0F)
	if checkSize(check) < 0 {
		return bferrors.New(bferrors.CodeXZUnsupportedCheck, "unsupported xz check type %d", check)
	}
	gotCRC := binary.LittleEndian.Uint32(hdr[8:12])
	wantCRC := crc32.ChecksumIEEE(hdr[6:8])
	if gotCRC != wantCRC {
		return bferrors.New(bferrors.CodeXZBadData, "stream header CRC mismatch")
	}
	r.check = check
	r.firstStream = false
	return r.startBlock()
}

// startBlock reads one Block Header, or detects the Index (a Block
// Header's first byte is never zero; a zero byte there marks index
// start) and drains the stream to completion.
func (r *reader) startBlock() error {
	var sizeByte [1]byte
	if _, err := io.ReadFull(r.src, sizeByte[:]); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block header size byte")
	}
	if sizeByte[0] == 0 {
		return r.finishIndexAndFooter()
	}
	headerLen := (int(sizeByte[0]) + 1) * 4
	rest := make([]byte, headerLen-1)
	if _, err := io.ReadFull(r.src, rest[:]); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block header")
	}
	full := append(sizeByte[:], rest...)
	body := full[1 : len(full)-4]
	gotCRC := binary.LittleEndian.Uint32(full[len(full)-4:])
	if crc32.ChecksumIEEE(full[:len(full)-4]) != gotCRC {
		return bferrors.New(bferrors.CodeXZBadData, "block header CRC mismatch")
	}

	flags := body[0]
	numFilters := int(flags&0x03) + 1
	if flags&0x3C != 0 {
		return bferrors.New(bferrors.CodeXZBadData, "nonzero reserved block header flags")
	}
	pos := 1
	readVLI := func() (uint64, error) {
		v, n, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		return v, nil
	}
	hasCompSize := flags&0x40 != 0
	hasUncompSize := flags&0x80 != 0
	if hasCompSize {
		if _, err := readVLI(); err != nil {
			return err
		}
	}
	if hasUncompSize {
		if _, err := readVLI(); err != nil {
			return err
		}
	}

	var dictSize uint32
	sawLZMA2 := false
	for i := 0; i < numFilters; i++ {
		id, n, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return err
		}
		pos += n
		propsSize, n2, err := decodeVLIFromBytes(body[pos:])
		if err != nil {
			return err
		}
		pos += n2
		props := body[pos : pos+int(propsSize)]
		pos += int(propsSize)
		if id == filterLZMA2 {
			if len(props) != 1 {
				return bferrors.New(bferrors.CodeXZUnsupportedFilter, "LZMA2 filter properties must be 1 byte")
			}
			if props[0] > 40 {
				return bferrors.New(bferrors.CodeLZMABadData, "invalid LZMA2 dictionary size byte %d", props[0])
			}
			dictSize = lzma2DictSize(props[0])
			sawLZMA2 = true
		} else {
			return bferrors.New(bferrors.CodeXZUnsupportedFilter, "unsupported xz filter id %d", id)
		}
	}
	if !sawLZMA2 {
		return bferrors.New(bferrors.CodeXZUnsupportedFilter, "filter chain does not end in LZMA2")
	}
	lim := r.limits.Normalize(archive.DefaultLimits())
	if lim.MaxXZDictionaryBytes > 0 && uint64(dictSize) > lim.MaxXZDictionaryBytes {
		return bferrors.New(bferrors.CodeResourceLimit, "xz LZMA2 dictionary size %d exceeds limit %d", dictSize, lim.MaxXZDictionaryBytes)
	}

	r.cur = newLZMA2Decoder(r.src, dictSize)
	r.checkHash = newCheckHash(r.check)
	r.blockSize = 0
	return nil
}

func (r *reader) finishBlock() error {
	padding := (4 - r.blockSize%4) % 4
	if padding > 0 {
		buf := make([]byte, padding)
		if _, err := io.ReadFull(r.src, buf); err != nil {
			return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block padding")
		}
		for _, b := range buf {
			if b != 0 {
				return bferrors.New(bferrors.CodeXZBadData, "nonzero xz block padding")
			}
		}
	}
	size := checkSize(r.check)
	if size > 0 {
		want := r.checkHash.Sum(nil)
		got := make([]byte, size)
		if _, err := io.ReadFull(r.src, got); err != nil {
			return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz block check field")
		}
		if r.check == CheckCRC32 || r.check == CheckCRC64 {
			for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
				want[i], want[j] = want[j], want[i]
			}
		}
		if string(want) != string(got) {
			return bferrors.New(bferrors.CodeXZBadCheck, "xz block check field mismatch")
		}
	}
	r.cur = nil
	return r.startBlock()
}

func (r *reader) finishIndexAndFooter() error {
	// Index: Number of Records, then per-record Unpadded/Uncompressed
	// size VLIs, then padding to 4 bytes, then CRC32, per spec §4.5.
	// indexBytes counts the Index field itself, starting from the
	// Number of Records VLI; the zero indicator byte that precedes it
	// belongs to the (empty) final Block Header slot, not the Index.
	crc := crc32.NewIEEE()
	indexBytes := int64(0)
	n, count, err := readVLIFromReaderTee(r.src, crc)
	if err != nil {
		return err
	}
	indexBytes += int64(n)
	for i := uint64(0); i < count; i++ {
		n1, _, err := readVLIFromReaderTee(r.src, crc)
		if err != nil {
			return err
		}
		n2, _, err := readVLIFromReaderTee(r.src, crc)
		if err != nil {
			return err
		}
		indexBytes += int64(n1 + n2)
	}
	pad := (4 - indexBytes%4) % 4
	if pad > 0 {
		buf := make([]byte, pad)
		if _, err := io.ReadFull(r.src, buf); err != nil {
			return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz index padding")
		}
		for _, b := range buf {
			if b != 0 {
				return bferrors.New(bferrors.CodeXZBadData, "nonzero xz index padding")
			}
		}
	}
	var gotCRC [4]byte
	if _, err := io.ReadFull(r.src, gotCRC[:]); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz index CRC")
	}
	if binary.LittleEndian.Uint32(gotCRC[:]) != crc.Sum32() {
		return bferrors.New(bferrors.CodeXZBadData, "xz index CRC mismatch")
	}

	var footer [12]byte
	if _, err := io.ReadFull(r.src, footer[:]); err != nil {
		return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz stream footer")
	}
	if binary.LittleEndian.Uint32(footer[0:4]) != crc32.ChecksumIEEE(footer[4:10]) {
		return bferrors.New(bferrors.CodeXZBadData, "stream footer CRC mismatch")
	}
	if [2]byte{footer[10], footer[11]} != footerMagic {
		return bferrors.New(bferrors.CodeXZBadData, "bad xz stream footer magic")
	}
	if footer[8] != r.streamFlags {
		return bferrors.New(bferrors.CodeXZBadData, "stream footer flags do not match stream header flags")
	}

	// Stream Padding: zero or more 4-byte groups of zeros before the
	// next concatenated stream, or EOF.
	for {
		var probe [4]byte
		n, err := io.ReadFull(r.src, probe[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			r.done = true
			return nil
		}
		if err != nil {
			return bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz stream padding")
		}
		if probe != ([4]byte{}) {
			return r.resumeAsNextStream(probe[:])
		}
	}
}

// resumeAsNextStream re-synchronizes after Stream Padding by treating
// the 4 already-read non-zero bytes as the start of the next Stream
// Header, per spec §4.5's "concatenated streams... returning to
// stream-header after stream padding".
func (r *reader) resumeAsNextStream(prefix []byte) error {
	r.src = io.MultiReader(newBytesReader(prefix), r.src)
	r.firstStream = true
	return r.startStream()
}

func (r *reader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil && r.cur.Buffered() > 0 {
			n := r.cur.Drain(p)
			if r.checkHash != nil {
				r.checkHash.Write(p[:n])
			}
			r.blockSize += int64(n)
			return n, nil
		}
		if r.done {
			return 0, io.EOF
		}
		if r.cur == nil {
			return 0, io.EOF
		}
		if err := r.cancel(); err != nil {
			return 0, err
		}
		n, end, err := r.cur.decodeChunk(r.cancel)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			continue
		}
		if end {
			if err := r.finishBlock(); err != nil {
				return 0, err
			}
			continue
		}
	}
}

func (r *reader) Close() error { return nil }

func lzma2DictSize(props byte) uint32 {
	if props == 40 {
		return 0xFFFFFFFF
	}
	bit := uint32(props&1) | 2
	shift := uint32(props)/2 + 11
	return bit << shift
}

func decodeVLIFromBytes(b []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < len(b) && i < 9; i++ {
		v |= uint64(b[i]&0x7F) << uint(7*i)
		if b[i]&0x80 == 0 {
			if b[i] == 0 && i != 0 {
				return 0, 0, bferrors.New(bferrors.CodeXZBadData, "non-minimal xz variable-length integer")
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, bferrors.New(bferrors.CodeXZTruncated, "truncated xz variable-length integer")
}

func readVLIFromReaderTee(r io.Reader, h hash.Hash) (int, uint64, error) {
	var v uint64
	shift := uint(0)
	n := 0
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return n, 0, bferrors.Wrap(bferrors.CodeXZTruncated, err, "failed to read xz index field")
		}
		h.Write(b[:])
		n++
		v |= uint64(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return n, v, nil
		}
		shift += 7
		if shift >= 63 {
			return n, 0, bferrors.New(bferrors.CodeXZBadData, "oversized xz index field")
		}
	}
}

func newBytesReader(b []byte) io.Reader {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &simpleByteReader{buf: cp}
}

type simpleByteReader struct {
	buf []byte
	pos int
}

func (s *simpleByteReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.buf) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	return n, nil
}
