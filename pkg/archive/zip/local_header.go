package zip

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const localHeaderFixedSize = 30

// reconcileLocalHeader re-reads the local header at e.LocalHeaderOffset
// and verifies it matches the central directory record byte-for-byte
// in flags, method, name length and name bytes, then returns the data
// offset. The local extra-field length is not compared; it is used
// only to locate the entry data.
func reconcileLocalHeader(ctx context.Context, s substrate.Substrate, e cdEntry, cdOffset, fileSize uint64) (uint64, error) {
	hdr := make([]byte, localHeaderFixedSize)
	if err := substrate.ReadFull(ctx, s, e.LocalHeaderOffset, hdr); err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != sigLocalFile {
		return 0, bferrors.New(bferrors.CodeZIPInvalidSignature, "bad local file header signature for %q", e.NameRaw)
	}
	flags := binary.LittleEndian.Uint16(hdr[6:8])
	method := binary.LittleEndian.Uint16(hdr[8:10])
	nameLen := binary.LittleEndian.Uint16(hdr[26:28])
	extraLen := binary.LittleEndian.Uint16(hdr[28:30])

	if flags != e.Flags {
		return 0, bferrors.New(bferrors.CodeZIPHeaderMismatch, "local header flags 0x%04x do not match central directory 0x%04x for %q", flags, e.Flags, e.NameRaw)
	}
	if method != e.Method {
		return 0, bferrors.New(bferrors.CodeZIPHeaderMismatch, "local header method %d does not match central directory %d for %q", method, e.Method, e.NameRaw)
	}
	if int(nameLen) != len(e.NameRaw) {
		return 0, bferrors.New(bferrors.CodeZIPHeaderMismatch, "local header name length %d does not match central directory %d for %q", nameLen, len(e.NameRaw), e.NameRaw)
	}

	name := make([]byte, nameLen)
	if err := substrate.ReadFull(ctx, s, e.LocalHeaderOffset+localHeaderFixedSize, name); err != nil {
		return 0, err
	}
	if !bytes.Equal(name, e.NameRaw) {
		return 0, bferrors.New(bferrors.CodeZIPHeaderMismatch, "local header name bytes do not match central directory for %q", e.NameRaw)
	}

	dataOffset := e.LocalHeaderOffset + localHeaderFixedSize + uint64(nameLen) + uint64(extraLen)
	dataEnd := dataOffset + e.CompressedSize
	if dataEnd > fileSize {
		return 0, bferrors.New(bferrors.CodeZIPBadCentralDirectory, "entry %q data runs past end of file", e.NameRaw)
	}
	if dataEnd > cdOffset {
		return 0, bferrors.New(bferrors.CodeZIPOverlappingEntries, "entry %q data overlaps the central directory", e.NameRaw)
	}
	return dataOffset, nil
}
