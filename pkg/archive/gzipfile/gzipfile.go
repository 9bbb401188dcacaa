// Package gzipfile implements the single-file gzip container of spec
// §6.1 ("gzip: RFC 1952 header and trailer, optional
// FNAME/FCOMMENT/FEXTRA/FHCRC"). gzip is explicitly out of this
// engine's deep-spec scope (spec §1: "concrete codec implementations
// for gzip/deflate/zstd/brotli are pluggable codec objects"), so the
// header/trailer parsing itself is delegated to a real third-party
// gzip implementation rather than hand-rolled: github.com/klauspost/pgzip,
// a drop-in-compatible, concurrent gzip reader/writer retrieved
// alongside the rest of this corpus (other_examples/manifests/klauspost-pgzip),
// exposing the same Header{Name, Comment, Extra, ModTime, OS} shape as
// stdlib compress/gzip.
package gzipfile

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// File is the single logical entry a gzip member decompresses to.
type File struct {
	Entry archive.Entry

	gz *pgzip.Reader
}

// Open parses r's gzip header and returns the single File it wraps.
// The entry's Name resolves spec §9's open question — "when a gzip
// member declares an FNAME that normalizes to empty after sanitation"
// — as sanitize-then-fallback-to-"data", the spec's own recommendation.
func Open(ctx context.Context, r io.Reader, opts archive.OpenOptions) (*File, error) {
	if err := bferrors.FromContext(ctx); err != nil {
		return nil, err
	}
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, bferrors.Wrap(bferrors.CodeGzipBadHeader, err, "invalid gzip header")
	}

	entry := archive.Entry{
		Name:    sanitizeName(gz.Header.Name),
		Type:    archive.TypeFile,
		Comment: gz.Header.Comment,
	}
	if !gz.Header.ModTime.IsZero() {
		m := gz.Header.ModTime
		entry.MTime = &m
	} else {
		m := time.Unix(0, 0).UTC()
		entry.MTime = &m
	}

	return &File{Entry: entry, gz: gz}, nil
}

// Read decompresses the member's payload.
func (f *File) Read(p []byte) (int, error) { return f.gz.Read(p) }

// Close releases the gzip reader.
func (f *File) Close() error { return f.gz.Close() }

// sanitizeName strips any path structure a (necessarily untrusted)
// FNAME field might carry, per spec §4.7's name-normalization rules
// applied to a single name rather than an archive's worth of them, and
// falls back to "data" when nothing usable survives.
func sanitizeName(fname string) string {
	name := strings.TrimSpace(fname)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	switch name {
	case "", ".", "/":
		return "data"
	default:
		return name
	}
}
