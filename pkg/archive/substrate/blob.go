package substrate

import (
	"context"
	"io"
	"math"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Blob is the minimal random-access contract a file (or anything
// file-like) must satisfy to back a blobSubstrate: read-only random
// access plus a known size. It is the read-only half of bb-storage's
// pkg/blockdevice.ReadWriterAt/BlockDevice contract (io.ReaderAt), kept
// separate from io.Closer so callers can decide whether closing the
// underlying file is the substrate's job.
type Blob interface {
	io.ReaderAt
	Size() (int64, error)
}

// blobSubstrate adapts a Blob (e.g. an *os.File) to Substrate. Grounded
// on bb-storage's nopAtCloser wrapping pattern in
// zip_reading_blob_access.go, which exists for exactly this purpose:
// bridging an io.ReaderAt into the read-only surface a reader needs.
type blobSubstrate struct {
	blob  Blob
	close func() error
}

// NewBlob wraps a Blob as a Substrate. If closeFn is non-nil it is
// invoked by Close; pass nil if the caller owns the Blob's lifetime.
func NewBlob(blob Blob, closeFn func() error) Substrate {
	return &blobSubstrate{blob: blob, close: closeFn}
}

func (b *blobSubstrate) Size(ctx context.Context) (uint64, error) {
	if err := bferrors.FromContext(ctx); err != nil {
		return 0, err
	}
	size, err := b.blob.Size()
	if err != nil {
		return 0, bferrors.Wrap(bferrors.CodeBadHeader, err, "failed to determine blob size")
	}
	if size < 0 {
		return 0, bferrors.New(bferrors.CodeBadHeader, "blob reported negative size %d", size)
	}
	return uint64(size), nil
}

func (b *blobSubstrate) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if err := bferrors.FromContext(ctx); err != nil {
		return 0, err
	}
	if offset > math.MaxInt64 {
		return 0, bferrors.New(bferrors.CodeBadHeader, "offset %d does not fit into a native integer", offset)
	}
	n, err := b.blob.ReadAt(p, int64(offset))
	if err == io.EOF {
		if n > 0 {
			err = nil
		}
	}
	if err != nil && err != io.EOF {
		return n, bferrors.Wrap(bferrors.CodeTruncated, err, "failed to read %d bytes at offset %d", len(p), offset)
	}
	return n, nil
}

func (b *blobSubstrate) Close() error {
	if b.close != nil {
		return b.close()
	}
	return nil
}
