// Package bzip2 implements the bzip2 resource pre-flight of spec §4.4:
// "magic BZh{1..9} -> block-size class, compared to max_bzip2_block_size".
// Decoding itself is out of scope (spec §1); actual decompression is
// delegated to the standard library via pkg/archive/codec's bzip2Codec,
// which only runs once this pre-flight has cleared the header.
package bzip2

import (
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// PreflightResult carries the block-size class (the `9` in `BZh9`, in
// units of 100 KiB) that a bzip2 stream's header declares.
type PreflightResult struct {
	BlockSize100k int
}

// Preflight reads only the 4-byte bzip2 stream header (magic "BZh" plus
// an ASCII digit '1'-'9') and checks its block-size class against
// limits.MaxBzip2BlockSize, without decoding any block data.
func Preflight(r io.Reader, limits archive.Limits) (PreflightResult, error) {
	lim := limits.Normalize(archive.DefaultLimits())
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return PreflightResult{}, bferrors.Wrap(bferrors.CodeTruncated, err, "failed to read bzip2 header")
	}
	if hdr[0] != 'B' || hdr[1] != 'Z' || hdr[2] != 'h' {
		return PreflightResult{}, bferrors.New(bferrors.CodeBadHeader, "bad bzip2 magic")
	}
	if hdr[3] < '1' || hdr[3] > '9' {
		return PreflightResult{}, bferrors.New(bferrors.CodeBadHeader, "invalid bzip2 block-size digit %q", hdr[3])
	}
	blockSize := int(hdr[3] - '0')
	if uint64(blockSize) > lim.MaxBzip2BlockSize {
		return PreflightResult{}, bferrors.New(bferrors.CodeResourceLimit, "bzip2 block size %d00k exceeds limit %d00k", blockSize, lim.MaxBzip2BlockSize)
	}
	return PreflightResult{BlockSize100k: blockSize}, nil
}
