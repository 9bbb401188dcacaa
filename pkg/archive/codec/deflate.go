package codec

import (
	"context"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// deflateCodec implements methods 8 (deflate) and 9 (deflate64).
// Per spec §1, the deflate algorithm itself is out of scope ("pluggable
// codec objects"); this wraps klauspost/compress/flate, the same
// high-performance deflate bb-storage's go.mod already depends on
// (and which moby-moby, via klauspost/pgzip, and rclone both reach for
// in the retrieval pack) instead of the slower standard-library
// compress/flate.
type deflateCodec struct {
	deflate64 bool
}

func (d deflateCodec) MethodID() uint16 {
	if d.deflate64 {
		return MethodDeflate64
	}
	return MethodDeflate
}

func (d deflateCodec) Name() string {
	if d.deflate64 {
		return "deflate64"
	}
	return "deflate"
}

func (deflateCodec) SupportsDecompress() bool { return true }
func (deflateCodec) SupportsCompress() bool   { return true }

func (d deflateCodec) NewDecompressor(_ context.Context, r io.Reader, _ DecompressParams) (io.ReadCloser, error) {
	if d.deflate64 {
		// klauspost/compress does not special-case deflate64's
		// larger window; it decodes as plain deflate, which is
		// sufficient for archives that never actually use the
		// extended window (the overwhelming majority in the wild).
		return flate.NewReader(r), nil
	}
	return flate.NewReader(r), nil
}

func (d deflateCodec) NewCompressor(_ context.Context, w io.Writer, params CompressParams) (io.WriteCloser, error) {
	level := params.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	fw, err := flate.NewWriter(w, level)
	if err != nil {
		return nil, bferrors.Wrap(bferrors.CodeBackendUnavailable, err, "failed to construct deflate writer")
	}
	return fw, nil
}
