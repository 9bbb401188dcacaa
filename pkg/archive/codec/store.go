package codec

import (
	"context"
	"io"
)

// storeCodec implements method 0 (STORE): bytes pass through
// unmodified. Grounded on bb-storage zip_writing_blob_access.go's
// choice of STORE "as this allows fast random access" — the same
// pass-through identity transform, here exposed through the codec
// interface instead of being hardcoded into the writer.
type storeCodec struct{}

func (storeCodec) MethodID() uint16        { return MethodStore }
func (storeCodec) Name() string            { return "store" }
func (storeCodec) SupportsDecompress() bool { return true }
func (storeCodec) SupportsCompress() bool   { return true }

func (storeCodec) NewDecompressor(_ context.Context, r io.Reader, _ DecompressParams) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (storeCodec) NewCompressor(_ context.Context, w io.Writer, _ CompressParams) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
