package zip

import (
	"context"
	"encoding/binary"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const cdFixedSize = 46

// Extra field tags referenced by spec §4.2.
const (
	extraTagZIP64        = 0x0001
	extraTagInfoZIPUnix  = 0x5455 // extended timestamp; not decoded into Entry fields, kept for completeness
	extraTagUnicodePath  = 0x7075
	extraTagAESExtra     = 0x9901
)

// cdEntry is the as-parsed central directory record, before name
// decoding or local-header reconciliation.
type cdEntry struct {
	VersionMadeBy     uint16
	VersionNeeded     uint16
	Flags             uint16
	Method            uint16
	ModTime           uint16
	ModDate           uint16
	CRC32             uint32
	CompressedSize    uint64
	UncompressedSize  uint64
	NameRaw           []byte
	Extra             map[uint16][]byte
	CommentRaw        []byte
	DiskNumberStart   uint32
	InternalAttrs     uint16
	ExternalAttrs     uint32
	LocalHeaderOffset uint64

	RecordSize int // bytes consumed by this record, for the cd_size walk
}

// parseCentralDirectory walks cdSize bytes starting at cdOffset,
// decoding one central directory record at a time (spec §4.2).
func parseCentralDirectory(ctx context.Context, s substrate.Substrate, cdOffset, cdSize uint64, limits archive.Limits) ([]cdEntry, error) {
	buf := make([]byte, cdSize)
	if err := substrate.ReadFull(ctx, s, cdOffset, buf); err != nil {
		return nil, err
	}
	var entries []cdEntry
	pos := 0
	lim := limits.Normalize(archive.DefaultLimits())
	for pos < len(buf) {
		if err := bferrors.FromContext(ctx); err != nil {
			return nil, err
		}
		if pos+cdFixedSize > len(buf) {
			return nil, bferrors.New(bferrors.CodeZIPBadCentralDirectory, "central directory record truncated at offset %d", pos)
		}
		rec := buf[pos:]
		if binary.LittleEndian.Uint32(rec[0:4]) != sigCentralDir {
			return nil, bferrors.New(bferrors.CodeZIPInvalidSignature, "bad central directory record signature at offset %d", pos)
		}
		e := cdEntry{
			VersionMadeBy:     binary.LittleEndian.Uint16(rec[4:6]),
			VersionNeeded:     binary.LittleEndian.Uint16(rec[6:8]),
			Flags:             binary.LittleEndian.Uint16(rec[8:10]),
			Method:            binary.LittleEndian.Uint16(rec[10:12]),
			ModTime:           binary.LittleEndian.Uint16(rec[12:14]),
			ModDate:           binary.LittleEndian.Uint16(rec[14:16]),
			CRC32:             binary.LittleEndian.Uint32(rec[16:20]),
			CompressedSize:    uint64(binary.LittleEndian.Uint32(rec[20:24])),
			UncompressedSize:  uint64(binary.LittleEndian.Uint32(rec[24:28])),
			DiskNumberStart:   uint32(binary.LittleEndian.Uint16(rec[34:36])),
			InternalAttrs:     binary.LittleEndian.Uint16(rec[36:38]),
			ExternalAttrs:     binary.LittleEndian.Uint32(rec[38:42]),
			LocalHeaderOffset: uint64(binary.LittleEndian.Uint32(rec[42:46])),
		}
		nameLen := int(binary.LittleEndian.Uint16(rec[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:34]))
		total := cdFixedSize + nameLen + extraLen + commentLen
		if pos+total > len(buf) {
			return nil, bferrors.New(bferrors.CodeZIPBadCentralDirectory, "central directory record %d overruns central directory", len(entries))
		}
		e.NameRaw = rec[cdFixedSize : cdFixedSize+nameLen]
		extraRaw := rec[cdFixedSize+nameLen : cdFixedSize+nameLen+extraLen]
		e.CommentRaw = rec[cdFixedSize+nameLen+extraLen : total]
		e.RecordSize = total

		extra, err := parseExtraFields(extraRaw)
		if err != nil {
			return nil, err
		}
		e.Extra = extra

		if err := resolveZIP64(&e); err != nil {
			return nil, err
		}
		if lim.MaxZIPCommentBytes > 0 && uint64(len(e.CommentRaw)) > lim.MaxZIPCommentBytes {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "ZIP entry comment length %d exceeds limit %d", len(e.CommentRaw), lim.MaxZIPCommentBytes)
		}

		entries = append(entries, e)
		pos += total
	}
	if lim.MaxEntries > 0 && uint64(len(entries)) > lim.MaxEntries {
		return nil, bferrors.New(bferrors.CodeLimitExceeded, "ZIP entry count %d exceeds limit %d", len(entries), lim.MaxEntries)
	}
	return entries, nil
}

// parseExtraFields decodes the general extra-field TLV sequence:
// 2-byte tag, 2-byte length, then that many bytes of payload.
func parseExtraFields(raw []byte) (map[uint16][]byte, error) {
	fields := make(map[uint16][]byte)
	pos := 0
	for pos+4 <= len(raw) {
		tag := binary.LittleEndian.Uint16(raw[pos : pos+2])
		size := int(binary.LittleEndian.Uint16(raw[pos+2 : pos+4]))
		pos += 4
		if pos+size > len(raw) {
			return nil, bferrors.New(bferrors.CodeZIPBadCentralDirectory, "extra field tag 0x%04x overruns extra field block", tag)
		}
		fields[tag] = raw[pos : pos+size]
		pos += size
	}
	return fields, nil
}

// resolveZIP64 pulls the missing 64-bit values from extra tag 0x0001
// in the fixed order {uncompressed size, compressed size, local header
// offset, disk number start}, substituting only the fields whose
// 32-bit counterpart held the sentinel 0xFFFFFFFF (spec §4.2).
func resolveZIP64(e *cdEntry) error {
	ext, ok := e.Extra[extraTagZIP64]
	if !ok {
		return nil
	}
	pos := 0
	take64 := func() (uint64, bool) {
		if pos+8 > len(ext) {
			return 0, false
		}
		v := binary.LittleEndian.Uint64(ext[pos : pos+8])
		pos += 8
		return v, true
	}
	if e.UncompressedSize == sentinel32 {
		v, ok := take64()
		if !ok {
			return bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 extra field missing uncompressed size")
		}
		e.UncompressedSize = v
	}
	if e.CompressedSize == sentinel32 {
		v, ok := take64()
		if !ok {
			return bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 extra field missing compressed size")
		}
		e.CompressedSize = v
	}
	if e.LocalHeaderOffset == sentinel32 {
		v, ok := take64()
		if !ok {
			return bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 extra field missing local header offset")
		}
		e.LocalHeaderOffset = v
	}
	if e.DiskNumberStart == sentinel16 {
		if pos+4 > len(ext) {
			return bferrors.New(bferrors.CodeZIPBadZIP64, "ZIP64 extra field missing disk number start")
		}
		e.DiskNumberStart = binary.LittleEndian.Uint32(ext[pos : pos+4])
		pos += 4
	}
	return nil
}
