package codec

import (
	"context"
	"io"

	"github.com/dsnet/compress/brotli"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// brotliCodec is not assigned a ZIP method id by PKWARE (brotli-in-ZIP
// is a de facto extension some writers use under a private method id);
// it is registered here under a private-range id so a ZIP entry whose
// method field carries that id can be decoded, per spec §1's
// "brotli... codec objects" being in scope for the codec registry even
// though spec §6.3's method table omits a PKWARE id for it. The codec
// decompresses only; it cannot recompress, and the facade does not
// unwrap brotli streams. Grounded on
// other_examples/dsnet-compress__brotli-reader.go (the library this
// wraps is also a SPEC_FULL.md Domain Stack entry).
const MethodBrotli = 0xFFF1 // Private-use id, not assigned by PKWARE.

type brotliCodec struct{}

func (brotliCodec) MethodID() uint16        { return MethodBrotli }
func (brotliCodec) Name() string            { return "brotli" }
func (brotliCodec) SupportsDecompress() bool { return true }
func (brotliCodec) SupportsCompress() bool   { return false }

func (brotliCodec) NewDecompressor(_ context.Context, r io.Reader, _ DecompressParams) (io.ReadCloser, error) {
	return brotli.NewReader(r), nil
}

func (brotliCodec) NewCompressor(_ context.Context, _ io.Writer, _ CompressParams) (io.WriteCloser, error) {
	return nil, bferrors.New(bferrors.CodeUnsupportedAlgorithm, "brotli compression is not supported, only decompression")
}
