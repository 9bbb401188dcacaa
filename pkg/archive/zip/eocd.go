// Package zip implements the ZIP central-directory reader and
// normalized writer of spec §4.2: EOCD search with ZIP64 follow-up,
// central-directory iteration, local-header reconciliation, three-kind
// collision detection, and a codec-piped entry body stream.
//
// Grounded on the raw EOCD/ZIP64-EOCD/local-header byte layouts
// bb-storage hand-encodes in pkg/blobstore/zip_writing_blob_access.go
// (which writes the same fields this package reads), cross-checked
// against the central-directory-only streaming readers in the example
// pack (minio/zipindex, zhyee/zipstream, xenking/zipstream) for the
// reconciliation-without-seeking-back idiom.
package zip

import (
	"context"
	"encoding/binary"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const (
	sigEOCD       = 0x06054b50
	sigEOCD64Loc  = 0x07064b50
	sigEOCD64     = 0x06064b50
	sigCentralDir = 0x02014b50
	sigLocalFile  = 0x04034b50

	eocdFixedSize      = 22
	eocd64LocatorSize  = 20
	eocd64FixedSize    = 56 // signature+size field through offset, excluding "size of this record" variable tail
	sentinel32         = 0xFFFFFFFF
	sentinel16         = 0xFFFF
)

// EOCDInfo holds the resolved end-of-central-directory fields, after
// following the ZIP64 locator/EOCD when the 32-bit record carries
// sentinel values (spec §4.2).
type EOCDInfo struct {
	TotalEntries uint64
	CDSize       uint64
	CDOffset     uint64
	CommentLen   uint16
	IsZIP64      bool
	MultipleEOCD bool // an earlier EOCD signature occurrence was found and ignored
}

// FindEOCD scans the tail of s for the EOCD signature, accepting the
// last occurrence and setting MultipleEOCD when earlier ones exist
// (Open reports ZIP_MULTIPLE_EOCD as a warning in the compat profile
// and as an error otherwise), then follows the ZIP64 locator/EOCD when
// sentinel values are present.
func FindEOCD(ctx context.Context, s substrate.Substrate, limits archive.Limits) (EOCDInfo, error) {
	var info EOCDInfo
	size, err := s.Size(ctx)
	if err != nil {
		return info, err
	}
	searchLen := limits.MaxZIPEOCDSearchBytes
	if searchLen == 0 || searchLen > size {
		searchLen = size
	}
	tailOffset := size - searchLen
	tail := make([]byte, searchLen)
	if err := substrate.ReadFull(ctx, s, tailOffset, tail); err != nil {
		return info, err
	}

	var occurrences []int
	for i := 0; i+eocdFixedSize <= len(tail); i++ {
		if binary.LittleEndian.Uint32(tail[i:i+4]) == sigEOCD {
			commentLen := binary.LittleEndian.Uint16(tail[i+20 : i+22])
			if i+eocdFixedSize+int(commentLen) <= len(tail) {
				occurrences = append(occurrences, i)
			}
		}
	}
	if len(occurrences) == 0 {
		return info, bferrors.New(bferrors.CodeZIPEOCDNotFound, "no end-of-central-directory record found in last %d bytes", searchLen)
	}
	if len(occurrences) > 1 {
		info.MultipleEOCD = true
	}
	eocdPos := occurrences[len(occurrences)-1]
	eocdAbsOffset := tailOffset + uint64(eocdPos)
	rec := tail[eocdPos:]

	diskNumber := binary.LittleEndian.Uint16(rec[4:6])
	diskWithCD := binary.LittleEndian.Uint16(rec[6:8])
	if diskNumber != 0 || diskWithCD != 0 {
		return info, bferrors.New(bferrors.CodeUnsupportedFeature, "multi-disk ZIP archives are not supported")
	}
	totalEntries := uint64(binary.LittleEndian.Uint16(rec[10:12]))
	cdSize := uint64(binary.LittleEndian.Uint32(rec[12:16]))
	cdOffset := uint64(binary.LittleEndian.Uint32(rec[16:20]))
	commentLen := binary.LittleEndian.Uint16(rec[20:22])

	if totalEntries == sentinel16 || cdSize == sentinel32 || cdOffset == sentinel32 {
		zi, err := followZIP64(ctx, s, eocdAbsOffset)
		if err != nil {
			return info, err
		}
		info.IsZIP64 = true
		info.TotalEntries = zi.totalEntries
		info.CDSize = zi.cdSize
		info.CDOffset = zi.cdOffset
	} else {
		info.TotalEntries = totalEntries
		info.CDSize = cdSize
		info.CDOffset = cdOffset
	}
	info.CommentLen = commentLen

	lim := limits.Normalize(archive.DefaultLimits())
	if lim.MaxZIPCommentBytes > 0 && uint64(info.CommentLen) > lim.MaxZIPCommentBytes {
		return info, bferrors.New(bferrors.CodeLimitExceeded, "ZIP comment length %d exceeds limit %d", info.CommentLen, lim.MaxZIPCommentBytes)
	}
	if lim.MaxZIPCentralDirectoryBytes > 0 && info.CDSize > lim.MaxZIPCentralDirectoryBytes {
		return info, bferrors.New(bferrors.CodeLimitExceeded, "ZIP central directory size %d exceeds limit %d", info.CDSize, lim.MaxZIPCentralDirectoryBytes)
	}
	if lim.MaxEntries > 0 && info.TotalEntries > lim.MaxEntries {
		return info, bferrors.New(bferrors.CodeLimitExceeded, "ZIP entry count %d exceeds limit %d", info.TotalEntries, lim.MaxEntries)
	}
	return info, nil
}

type zip64Info struct {
	totalEntries uint64
	cdSize       uint64
	cdOffset     uint64
}

func followZIP64(ctx context.Context, s substrate.Substrate, eocdOffset uint64) (zip64Info, error) {
	var zi zip64Info
	if eocdOffset < eocd64LocatorSize {
		return zi, bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 locator would start before byte 0")
	}
	locOffset := eocdOffset - eocd64LocatorSize
	loc := make([]byte, eocd64LocatorSize)
	if err := substrate.ReadFull(ctx, s, locOffset, loc); err != nil {
		return zi, err
	}
	if binary.LittleEndian.Uint32(loc[0:4]) != sigEOCD64Loc {
		return zi, bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 end-of-central-directory locator signature not found")
	}
	diskOfEOCD64 := binary.LittleEndian.Uint32(loc[4:8])
	eocd64Offset := binary.LittleEndian.Uint64(loc[8:16])
	totalDisks := binary.LittleEndian.Uint32(loc[16:20])
	if diskOfEOCD64 != 0 || totalDisks > 1 {
		return zi, bferrors.New(bferrors.CodeUnsupportedFeature, "multi-disk ZIP64 archives are not supported")
	}

	hdr := make([]byte, eocd64FixedSize)
	if err := substrate.ReadFull(ctx, s, eocd64Offset, hdr); err != nil {
		return zi, err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != sigEOCD64 {
		return zi, bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 end-of-central-directory signature not found")
	}
	diskNumber := binary.LittleEndian.Uint32(hdr[16:20])
	diskWithCD := binary.LittleEndian.Uint32(hdr[20:24])
	if diskNumber != 0 || diskWithCD != 0 {
		return zi, bferrors.New(bferrors.CodeUnsupportedFeature, "multi-disk ZIP archives are not supported")
	}
	zi.totalEntries = binary.LittleEndian.Uint64(hdr[32:40])
	zi.cdSize = binary.LittleEndian.Uint64(hdr[40:48])
	zi.cdOffset = binary.LittleEndian.Uint64(hdr[48:56])
	return zi, nil
}
