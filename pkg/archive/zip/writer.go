package zip

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/codec"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// writeFinalizeInfo stores the metadata Finalize needs to emit a
// central directory record for one entry already written to the
// stream, mirroring bb-storage's zippedFileFinalizeInfo generalized
// from a fixed STORE/key pair to an arbitrary name/method/size set.
type writeFinalizeInfo struct {
	name              string
	headerOffsetBytes uint64
	compressedBytes   uint64
	uncompressedBytes uint64
	crc32             uint32
	method            uint16
	mtime             time.Time
	mode              uint32
	isDir             bool
}

// Writer emits a normalized ZIP archive: one local header plus codec-
// compressed body per entry, followed by a central directory and a
// ZIP64 end-of-central-directory record emitted unconditionally (the
// same simplification bb-storage's Finalize() makes, "as the actual
// size is stored in the ZIP64 extended information extra field", which
// sidesteps ever having to decide whether a given archive needs
// ZIP64). Unlike the teacher, which writes to a random-access
// ReadWriterAt and patches the CRC into the local header after the
// fact, this Writer only requires a sequential io.Writer: each entry's
// body is compressed into a scratch buffer first so its size and CRC
// are known before the local header is emitted.
type Writer struct {
	cw        *countingWriter
	registry  *codec.Registry
	entries   []writeFinalizeInfo
	finalized bool
}

// NewWriter builds a Writer that emits to w, compressing entry bodies
// with codecs looked up in registry.
func NewWriter(w io.Writer, registry *codec.Registry) *Writer {
	return &Writer{
		cw:       &countingWriter{w: bufio.NewWriter(w)},
		registry: registry,
	}
}

// WriteEntry writes one entry's local header and codec-compressed body
// to the stream. method selects the codec (store/deflate/zstd/...);
// level is passed through to the codec's compressor, 0 selecting its
// default.
func (w *Writer) WriteEntry(ctx context.Context, name string, isDir bool, mtime time.Time, mode uint32, body io.Reader, method uint16, level int) error {
	if w.finalized {
		return bferrors.New(bferrors.CodeBadHeader, "writer already finalized")
	}
	if err := bferrors.FromContext(ctx); err != nil {
		return err
	}

	c, err := w.registry.MustLookup(method)
	if err != nil {
		return err
	}
	if !c.SupportsCompress() {
		return bferrors.New(bferrors.CodeZIPUnsupportedMethod, "codec %q does not support compression", c.Name())
	}

	var scratch bytes.Buffer
	var uncompressedBytes uint64
	hasher := crc32.NewIEEE()
	if !isDir {
		compressor, err := c.NewCompressor(ctx, &scratch, codec.CompressParams{Level: level})
		if err != nil {
			return err
		}
		counted := &countingReader{r: io.TeeReader(body, hasher)}
		if _, err := io.Copy(compressor, counted); err != nil {
			return bferrors.Wrap(bferrors.CodeBackendUnavailable, err, "failed to compress entry %q", name)
		}
		if err := compressor.Close(); err != nil {
			return bferrors.Wrap(bferrors.CodeBackendUnavailable, err, "failed to finalize compressed stream for entry %q", name)
		}
		uncompressedBytes = counted.n
	}
	compressedBytes := uint64(scratch.Len())

	headerOffset := w.cw.sizeBytes
	nameBytes := []byte(name)

	localZIP64 := make([]byte, 4+16)
	binary.LittleEndian.PutUint16(localZIP64[0:2], extraTagZIP64)
	binary.LittleEndian.PutUint16(localZIP64[2:4], 16)
	binary.LittleEndian.PutUint64(localZIP64[4:12], uncompressedBytes)
	binary.LittleEndian.PutUint64(localZIP64[12:20], compressedBytes)

	localHeader := make([]byte, localHeaderFixedSize)
	binary.LittleEndian.PutUint32(localHeader[0:4], sigLocalFile)
	binary.LittleEndian.PutUint16(localHeader[4:6], 45) // version needed: ZIP64
	binary.LittleEndian.PutUint16(localHeader[6:8], flagUTF8)
	binary.LittleEndian.PutUint16(localHeader[8:10], method)
	dosDate, dosTime := timeToDOS(mtime)
	binary.LittleEndian.PutUint16(localHeader[10:12], dosTime)
	binary.LittleEndian.PutUint16(localHeader[12:14], dosDate)
	binary.LittleEndian.PutUint32(localHeader[14:18], hasher.Sum32())
	// Compressed/uncompressed sizes are set to the ZIP64 sentinel, as
	// the actual values live in the local ZIP64 extra field above.
	binary.LittleEndian.PutUint32(localHeader[18:22], sentinel32)
	binary.LittleEndian.PutUint32(localHeader[22:26], sentinel32)
	binary.LittleEndian.PutUint16(localHeader[26:28], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint16(localHeader[28:30], uint16(len(localZIP64)))

	if _, err := w.cw.Write(localHeader); err != nil {
		return err
	}
	if _, err := w.cw.Write(nameBytes); err != nil {
		return err
	}
	if _, err := w.cw.Write(localZIP64); err != nil {
		return err
	}
	if _, err := w.cw.Write(scratch.Bytes()); err != nil {
		return err
	}

	w.entries = append(w.entries, writeFinalizeInfo{
		name:              name,
		headerOffsetBytes: headerOffset,
		compressedBytes:   compressedBytes,
		uncompressedBytes: uncompressedBytes,
		crc32:             hasher.Sum32(),
		method:            method,
		mtime:             mtime,
		mode:              mode,
		isDir:             isDir,
	})
	return nil
}

// Finalize writes the central directory and ZIP64
// end-of-central-directory records, then flushes the stream. No
// further WriteEntry calls are permitted afterwards.
func (w *Writer) Finalize() error {
	w.finalized = true
	cdStart := w.cw.sizeBytes

	for _, e := range w.entries {
		nameBytes := []byte(e.name)
		centralZIP64 := make([]byte, 4+24)
		binary.LittleEndian.PutUint16(centralZIP64[0:2], extraTagZIP64)
		binary.LittleEndian.PutUint16(centralZIP64[2:4], 24)
		binary.LittleEndian.PutUint64(centralZIP64[4:12], e.uncompressedBytes)
		binary.LittleEndian.PutUint64(centralZIP64[12:20], e.compressedBytes)
		binary.LittleEndian.PutUint64(centralZIP64[20:28], e.headerOffsetBytes)

		cdRecord := make([]byte, cdFixedSize)
		binary.LittleEndian.PutUint32(cdRecord[0:4], sigCentralDir)
		binary.LittleEndian.PutUint16(cdRecord[4:6], 45|(3<<8)) // version made by: Unix, ZIP64
		binary.LittleEndian.PutUint16(cdRecord[6:8], 45)
		binary.LittleEndian.PutUint16(cdRecord[8:10], flagUTF8)
		binary.LittleEndian.PutUint16(cdRecord[10:12], e.method)
		dosDate, dosTime := timeToDOS(e.mtime)
		binary.LittleEndian.PutUint16(cdRecord[12:14], dosTime)
		binary.LittleEndian.PutUint16(cdRecord[14:16], dosDate)
		binary.LittleEndian.PutUint32(cdRecord[16:20], e.crc32)
		binary.LittleEndian.PutUint32(cdRecord[20:24], sentinel32)
		binary.LittleEndian.PutUint32(cdRecord[24:28], sentinel32)
		binary.LittleEndian.PutUint16(cdRecord[28:30], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint16(cdRecord[30:32], uint16(len(centralZIP64)))
		binary.LittleEndian.PutUint16(cdRecord[32:34], 0) // comment length
		binary.LittleEndian.PutUint16(cdRecord[34:36], 0) // disk number start
		binary.LittleEndian.PutUint16(cdRecord[36:38], 0) // internal attrs
		externalAttrs := (e.mode&unixModeMask | dirOrFileIFMT(e.isDir)) << 16
		binary.LittleEndian.PutUint32(cdRecord[38:42], externalAttrs)
		binary.LittleEndian.PutUint32(cdRecord[42:46], sentinel32)

		if _, err := w.cw.Write(cdRecord); err != nil {
			return err
		}
		if _, err := w.cw.Write(nameBytes); err != nil {
			return err
		}
		if _, err := w.cw.Write(centralZIP64); err != nil {
			return err
		}
	}
	cdSize := w.cw.sizeBytes - cdStart

	eocd64 := make([]byte, eocd64FixedSize)
	binary.LittleEndian.PutUint32(eocd64[0:4], sigEOCD64)
	binary.LittleEndian.PutUint64(eocd64[4:12], 44) // size of this record, excluding the first 12 bytes
	binary.LittleEndian.PutUint16(eocd64[12:14], 45|(3<<8))
	binary.LittleEndian.PutUint16(eocd64[14:16], 45)
	binary.LittleEndian.PutUint32(eocd64[16:20], 0)
	binary.LittleEndian.PutUint32(eocd64[20:24], 0)
	binary.LittleEndian.PutUint64(eocd64[24:32], uint64(len(w.entries)))
	binary.LittleEndian.PutUint64(eocd64[32:40], uint64(len(w.entries)))
	binary.LittleEndian.PutUint64(eocd64[40:48], cdSize)
	binary.LittleEndian.PutUint64(eocd64[48:56], cdStart)
	if _, err := w.cw.Write(eocd64); err != nil {
		return err
	}

	locator := make([]byte, eocd64LocatorSize)
	binary.LittleEndian.PutUint32(locator[0:4], sigEOCD64Loc)
	binary.LittleEndian.PutUint32(locator[4:8], 0)
	binary.LittleEndian.PutUint64(locator[8:16], cdStart+cdSize)
	binary.LittleEndian.PutUint32(locator[16:20], 1)
	if _, err := w.cw.Write(locator); err != nil {
		return err
	}

	eocd := make([]byte, eocdFixedSize)
	binary.LittleEndian.PutUint32(eocd[0:4], sigEOCD)
	binary.LittleEndian.PutUint16(eocd[4:6], 0)
	binary.LittleEndian.PutUint16(eocd[6:8], 0)
	binary.LittleEndian.PutUint16(eocd[8:10], sentinel16)
	binary.LittleEndian.PutUint16(eocd[10:12], sentinel16)
	binary.LittleEndian.PutUint32(eocd[12:16], sentinel32)
	binary.LittleEndian.PutUint32(eocd[16:20], sentinel32)
	binary.LittleEndian.PutUint16(eocd[20:22], 0)
	if _, err := w.cw.Write(eocd); err != nil {
		return err
	}

	return w.cw.w.Flush()
}

func dirOrFileIFMT(isDir bool) uint32 {
	if isDir {
		return unixIFDIR | 0755
	}
	return 0100644
}

// timeToDOS converts t into the MS-DOS date/time pair ZIP stores, the
// inverse of dosTimeToTime.
func timeToDOS(t time.Time) (date, dosTime uint16) {
	if t.IsZero() {
		t = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if t.Year() < 1980 {
		t = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	date = uint16((t.Year()-1980)<<9) | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, dosTime
}

// countingWriter mirrors bb-storage's countingWriter, generalized from
// wrapping a fixed *bufio.Writer field access to any io.Writer via the
// embedded bufio.Writer this package always constructs with.
type countingWriter struct {
	w         *bufio.Writer
	sizeBytes uint64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.sizeBytes += uint64(n)
	return n, err
}

// countingReader tracks how many bytes have been read from r, used to
// recover the uncompressed size after streaming a body through a
// compressor.
type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}
