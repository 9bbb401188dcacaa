package substrate

import (
	"context"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// bufferSubstrate is the simplest Substrate: an in-memory byte slice.
// Grounded on the sub-slice-clamp Get() path of bb-storage's
// zip_reading_blob_access.go, generalized from "the whole ZIP file" to
// "any byte slice".
type bufferSubstrate struct {
	data []byte
}

// NewBuffer wraps an in-memory byte slice as a Substrate. The slice is
// not copied; callers must not mutate it afterwards.
func NewBuffer(data []byte) Substrate {
	return &bufferSubstrate{data: data}
}

func (b *bufferSubstrate) Size(ctx context.Context) (uint64, error) {
	if err := bferrors.FromContext(ctx); err != nil {
		return 0, err
	}
	return uint64(len(b.data)), nil
}

func (b *bufferSubstrate) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if err := bferrors.FromContext(ctx); err != nil {
		return 0, err
	}
	if offset >= uint64(len(b.data)) {
		return 0, nil
	}
	n := copy(p, b.data[offset:])
	return n, nil
}

func (b *bufferSubstrate) Close() error { return nil }
