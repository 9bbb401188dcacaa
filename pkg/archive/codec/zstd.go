package codec

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// zstdCodec implements method 93 (Zstandard). Grounded verbatim on
// bb-storage's pkg/util/zstd_reader.go: a zstd.Decoder wrapped so that
// closing the returned reader also closes the underlying one.
type zstdCodec struct{}

func (zstdCodec) MethodID() uint16        { return MethodZstd }
func (zstdCodec) Name() string            { return "zstd" }
func (zstdCodec) SupportsDecompress() bool { return true }
func (zstdCodec) SupportsCompress() bool   { return true }

func (zstdCodec) NewDecompressor(_ context.Context, r io.Reader, params DecompressParams) (io.ReadCloser, error) {
	opts := []zstd.DOption{}
	if params.Limits.MaxDictionaryBytes > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(params.Limits.MaxDictionaryBytes))
	}
	dec, err := zstd.NewReader(r, opts...)
	if err != nil {
		return nil, bferrors.Wrap(bferrors.CodeBackendUnavailable, err, "failed to construct zstd decoder")
	}
	return &zstdReadCloser{Decoder: dec}, nil
}

// zstdReadCloser mirrors bb-storage's pkg/util.zstdReadCloser: the
// *zstd.Decoder's Close doesn't return an error, so Close() is adapted
// to satisfy io.ReadCloser.
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func (zstdCodec) NewCompressor(_ context.Context, w io.Writer, params CompressParams) (io.WriteCloser, error) {
	opts := []zstd.EOption{}
	if params.Level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(params.Level)))
	}
	enc, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return nil, bferrors.Wrap(bferrors.CodeBackendUnavailable, err, "failed to construct zstd encoder")
	}
	return enc, nil
}
