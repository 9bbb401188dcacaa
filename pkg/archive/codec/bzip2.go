package codec

import (
	"compress/bzip2"
	"context"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// bzip2Codec implements method 12 decompression only. Per spec §1 the
// bzip2 decode algorithm itself is out of scope ("only... bzip2
// pre-flight [is] specified in depth"); decode is delegated to the
// standard library's compress/bzip2, which has no compressor (bzip2
// encoding is unsupported for the same reason pack examples like
// cosnicolaou-pbzip2 and dsnet-compress/bzip2 exist: it's a
// substantial, rarely-needed undertaking on its own). Resource bounds
// on bzip2 input are enforced before this codec ever runs, by
// pkg/archive/bzip2's pre-flight (spec §4.4).
type bzip2Codec struct{}

func (bzip2Codec) MethodID() uint16        { return MethodBzip2 }
func (bzip2Codec) Name() string            { return "bzip2" }
func (bzip2Codec) SupportsDecompress() bool { return true }
func (bzip2Codec) SupportsCompress() bool   { return false }

func (bzip2Codec) NewDecompressor(_ context.Context, r io.Reader, _ DecompressParams) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

func (bzip2Codec) NewCompressor(_ context.Context, _ io.Writer, _ CompressParams) (io.WriteCloser, error) {
	return nil, bferrors.New(bferrors.CodeUnsupportedAlgorithm, "bzip2 compression is not supported, only decompression")
}
