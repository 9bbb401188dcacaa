// Package substrate provides the random-access and streaming byte
// sources archive readers pull from (spec §4.1). It collapses to the
// same read-only random-access contract as bb-storage's
// pkg/blockdevice.BlockDevice/ReadWriterAt, generalized to variants
// that are not backed by a real block device (an in-memory buffer, or
// an HTTP range session).
package substrate

import (
	"context"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Substrate is the contract every container reader is built against.
// Every method is a suspension point per spec §5 and must check
// cancellation before issuing I/O.
type Substrate interface {
	// Size returns the total number of bytes available.
	Size(ctx context.Context) (uint64, error)

	// ReadAt reads up to len(p) bytes starting at offset, returning
	// the number of bytes actually read. It never returns more bytes
	// than requested, but (like io.ReaderAt) may return fewer than
	// len(p) along with a nil error only at end of input.
	ReadAt(ctx context.Context, offset uint64, p []byte) (int, error)

	// Close releases any resources held by the substrate. After
	// Close, only Close itself remains callable (spec §4.1 lifecycle).
	Close() error
}

// ReadFull reads exactly len(p) bytes from s at offset, or returns an
// ARCHIVE_TRUNCATED error if the substrate runs out first. This is the
// helper every container reader uses instead of calling ReadAt in a
// loop by hand.
func ReadFull(ctx context.Context, s Substrate, offset uint64, p []byte) error {
	if err := bferrors.FromContext(ctx); err != nil {
		return err
	}
	total := 0
	for total < len(p) {
		n, err := s.ReadAt(ctx, offset+uint64(total), p[total:])
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			return bferrors.New(bferrors.CodeTruncated, "unexpected end of input at offset %d (wanted %d more bytes)", offset+uint64(total), len(p)-total)
		}
	}
	return nil
}

// sequentialReader adapts a Substrate's full extent to a plain
// io.Reader, the shape codecs and single-member formats (gzip) expect
// to pull from; every container reader in this module hand-rolls an
// equivalent bounded window, this is the unbounded (whole-substrate)
// variant shared across packages that need to feed a Substrate to one.
type sequentialReader struct {
	ctx    context.Context
	s      Substrate
	offset uint64
}

// NewSequentialReader returns an io.Reader over the whole of s, read
// from the beginning.
func NewSequentialReader(ctx context.Context, s Substrate) io.Reader {
	return &sequentialReader{ctx: ctx, s: s}
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	n, err := r.s.ReadAt(r.ctx, r.offset, p)
	r.offset += uint64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// stdlibReaderAt adapts a Substrate to the standard library's
// io.ReaderAt shape (an int64 offset, no context) for codecs such as
// xz's pre-flight pass that need backward seeks and were written
// against that stdlib interface.
type stdlibReaderAt struct {
	ctx context.Context
	s   Substrate
}

// NewStdlibReaderAt returns an io.ReaderAt view of s bound to ctx.
func NewStdlibReaderAt(ctx context.Context, s Substrate) io.ReaderAt {
	return &stdlibReaderAt{ctx: ctx, s: s}
}

func (r *stdlibReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrOffsetOverflow
	}
	n, err := r.s.ReadAt(r.ctx, uint64(off), p)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
