// Package facade implements the top-level entry point of spec §9: a
// single OpenArchive call that sniffs the container/compression format
// from its leading bytes (or trusts an explicit OpenOptions.Format
// hint) and dispatches to the matching reader.
//
// The magic-byte table is grounded on the byte literals
// other_examples/…-rclone-rclone__vendor-…-mimetype-internal-magic-archive.go.go
// vendors (gzip `1F 8B`, bzip2 `BZh`, xz `FD 37 7A 58 5A 00`, the UStar
// `ustar` marker at offset 257) and on the ZIP signature literals
// other_examples/…-Crdzbird-sealfile__file_reducer.go.go and
// …-BeHierarchic__probe.go.go both hard-code (`PK\x03\x04`,
// `PK\x05\x06` for an empty/central-directory-only archive).
package facade

import (
	"bytes"
	"context"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/bzip2"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/codec"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/gzipfile"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	tarpkg "github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/tar"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/xz"
	zippkg "github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/zip"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Registry is the frozen codec registry OpenArchive uses for every
// ZIP entry's body stream: the package-wide defaults plus the XZ/LZMA2
// codec, which lives in its own package to keep pkg/archive/codec free
// of that decoder's state machine (per pkg/archive/codec's own doc
// comment).
var Registry = codec.Default().WithCodec(xz.Codec{})

const sniffWindow = 512

// brotli (pkg/archive/codec.MethodBrotli) has no standalone container
// envelope or magic signature of its own: it is only ever encountered
// as a ZIP per-entry method, never as an outer file format OpenArchive
// sniffs, so there is deliberately no FormatBrotli case here.
var (
	magicGzip     = []byte{0x1f, 0x8b}
	magicBzip2    = []byte("BZh")
	magicXZ       = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	magicZstd0    = byte(0x28)
	magicZipLFH   = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZipEmpty = []byte{0x50, 0x4B, 0x05, 0x06}
	magicUstar    = []byte("ustar")
)

// Sniff inspects head (the first sniffWindow bytes of a substrate) and
// reports the detected Format, per spec §6.1's wire-format list.
func Sniff(head []byte) archive.Format {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return archive.FormatGzip
	case bytes.HasPrefix(head, magicBzip2):
		return archive.FormatBzip2
	case bytes.HasPrefix(head, magicXZ):
		return archive.FormatXZ
	case len(head) >= 4 && head[0] == magicZstd0 && bytes.Equal(head[1:4], []byte{0xB5, 0x2F, 0xFD}):
		return archive.FormatZstd
	case bytes.HasPrefix(head, magicZipLFH), bytes.HasPrefix(head, magicZipEmpty):
		return archive.FormatZIP
	case len(head) >= 263 && bytes.HasPrefix(head[257:], magicUstar):
		return archive.FormatTAR
	default:
		return archive.FormatUnknown
	}
}

// ArchiveReader is the uniform surface OpenArchive returns: the same
// shape pkg/archive/audit.Reader and pkg/archive/normalize.Reader
// consume, plus Close and the detected Format.
type ArchiveReader interface {
	Entries() []archive.Entry
	OpenEntry(ctx context.Context, entry archive.Entry) (io.ReadCloser, error)
	IssueList() []archive.Issue
	Close() error
	Format() archive.Format
}

type zipReader struct {
	*zippkg.Reader
}

func (z *zipReader) Format() archive.Format { return archive.FormatZIP }

type tarReader struct {
	*tarpkg.Reader
}

func (t *tarReader) Format() archive.Format { return archive.FormatTAR }

// OpenArchive sniffs sub's format (unless opts.Format is already set)
// and dispatches to pkg/archive/zip or pkg/archive/tar. Single-file
// compression formats (gzip, bzip2, xz, zstd) are not container formats
// by themselves; OpenArchive unwraps a compression layer by buffering
// the decompressed stream into a fresh in-memory Substrate so the
// unwrapped container (almost always TAR) gets the random-access
// source it needs, then sniffs again to find the container underneath
// — mirroring how a `.tar.gz` is conventionally produced and consumed.
// If that sniff finds another compression format, it is unwrapped the
// same way; the number of nested layers is not limited.
func OpenArchive(ctx context.Context, sub substrate.Substrate, opts archive.OpenOptions) (ArchiveReader, error) {
	size, err := sub.Size(ctx)
	if err != nil {
		return nil, err
	}
	headLen := uint64(sniffWindow)
	if size < headLen {
		headLen = size
	}
	head := make([]byte, headLen)
	if err := substrate.ReadFull(ctx, sub, 0, head); err != nil {
		return nil, bferrors.Wrap(bferrors.CodeUnsupportedFormat, err, "failed to read leading bytes for format sniffing")
	}

	format := opts.Format
	if format == archive.FormatUnknown {
		format = Sniff(head)
	}

	switch format {
	case archive.FormatZIP:
		r, err := zippkg.Open(ctx, sub, opts)
		if err != nil {
			return nil, err
		}
		return &zipReader{r}, nil
	case archive.FormatTAR:
		r, err := tarpkg.Open(ctx, sub, opts)
		if err != nil {
			return nil, err
		}
		return &tarReader{r}, nil
	case archive.FormatGzip, archive.FormatBzip2, archive.FormatXZ, archive.FormatZstd:
		unwrapped, err := unwrapCompressionLayer(ctx, sub, format, opts)
		if err != nil {
			return nil, err
		}
		inner := opts
		inner.Format = archive.FormatUnknown
		return OpenArchive(ctx, unwrapped, inner)
	default:
		return nil, bferrors.New(bferrors.CodeUnsupportedFormat, "could not detect a supported archive format")
	}
}

// unwrapCompressionLayer decompresses the single outer compression
// layer named by format into a fresh buffer Substrate.
func unwrapCompressionLayer(ctx context.Context, sub substrate.Substrate, format archive.Format, opts archive.OpenOptions) (substrate.Substrate, error) {
	limits := opts.ResolvedLimits()
	size, err := sub.Size(ctx)
	if err != nil {
		return nil, err
	}

	// Pre-flight runs before any decoder state is allocated, per spec
	// §4.4: it reads only the outer wrapper bytes.
	switch format {
	case archive.FormatXZ:
		ra := substrate.NewStdlibReaderAt(ctx, sub)
		if _, err := xz.Preflight(substrate.NewSequentialReader(ctx, sub), int64(size), ra, limits); err != nil {
			return nil, err
		}
	case archive.FormatBzip2:
		if _, err := bzip2.Preflight(substrate.NewSequentialReader(ctx, sub), limits); err != nil {
			return nil, err
		}
	}

	raw := substrate.NewSequentialReader(ctx, sub)

	var dec io.ReadCloser
	switch format {
	case archive.FormatGzip:
		f, oerr := gzipfile.Open(ctx, raw, opts)
		if oerr != nil {
			return nil, oerr
		}
		dec = f
	case archive.FormatXZ:
		dec, err = xz.NewReader(ctx, raw, limits)
	case archive.FormatBzip2:
		c, ok := Registry.Lookup(codec.MethodBzip2)
		if !ok {
			return nil, bferrors.New(bferrors.CodeUnsupportedFormat, "no bzip2 codec registered")
		}
		dec, err = c.NewDecompressor(ctx, raw, codec.DecompressParams{Limits: limits})
	case archive.FormatZstd:
		c, ok := Registry.Lookup(codec.MethodZstd)
		if !ok {
			return nil, bferrors.New(bferrors.CodeUnsupportedFormat, "no zstd codec registered")
		}
		dec, err = c.NewDecompressor(ctx, raw, codec.DecompressParams{Limits: limits})
	default:
		return nil, bferrors.New(bferrors.CodeUnsupportedFormat, "unwrapCompressionLayer called with non-compression format %v", format)
	}
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	buf, err := io.ReadAll(io.LimitReader(dec, int64(limits.MaxInputBytes)+1))
	if err != nil {
		return nil, bferrors.Wrap(bferrors.CodeTruncated, err, "failed to decompress outer %v layer", format)
	}
	if uint64(len(buf)) > limits.MaxInputBytes {
		return nil, bferrors.New(bferrors.CodeLimitExceeded, "decompressed input exceeds limit %d", limits.MaxInputBytes)
	}
	return substrate.NewBuffer(buf), nil
}
