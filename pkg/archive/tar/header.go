// Package tar implements the ustar/PAX TAR reader and normalized
// writer of spec §4.3: 512-byte block iteration, octal/GNU base-256
// numeric fields, checksum verification, and PAX `x`/`g` extended
// header records.
//
// Grounded on quay-claircore's pkg/tarfs (magic-constant table,
// normPath's path-cleaning convention), generalized from "wrap
// archive/tar and build an index on top" to a from-scratch block
// parser, since this package's job is to produce archive.Entry records
// directly rather than present an fs.FS.
package tar

import (
	"strconv"
	"strings"
	"time"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const blockSize = 512

// Field offsets within a 512-byte ustar header block.
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offUID      = 108
	lenUID      = 8
	offGID      = 116
	lenGID      = 8
	offSize     = 124
	lenSize     = 12
	offMtime    = 136
	lenMtime    = 12
	offChksum   = 148
	lenChksum   = 8
	offTypeflag = 156
	offLinkname = 157
	lenLinkname = 100
	offMagic    = 257
	lenMagic    = 6
	offUname    = 265
	lenUname    = 32
	offGname    = 297
	lenGname    = 32
	offDevmajor = 329
	lenDevmajor = 8
	offDevminor = 337
	lenDevminor = 8
	offPrefix   = 345
	lenPrefix   = 155
)

// Typeflag values spec §4.3 enumerates.
const (
	typeRegular  = '0'
	typeRegularAlt = '\x00'
	typeHardlink = '1'
	typeSymlink  = '2'
	typeChar     = '3'
	typeBlock    = '4'
	typeDir      = '5'
	typeFifo     = '6'
	typePAXEntry = 'x'
	typePAXGlobal = 'g'
)

// Magic values recognized in a ustar-family header, per
// quay-claircore's tarfs.go magic table.
var (
	magicPAX    = []byte("ustar\x00")
	magicGNU    = []byte("ustar ")
	magicOldGNU = []byte("ustar  \x00")
)

// header is the as-parsed fixed portion of a TAR block, before PAX
// overrides are applied.
type header struct {
	name     string
	mode     int64
	uid      int64
	gid      int64
	size     int64
	mtime    time.Time
	typeflag byte
	linkname string
	prefix   string
	checksumOK bool
}

func field(block []byte, off, n int) []byte { return block[off : off+n] }

func cstr(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// parseNumeric decodes a ustar numeric field: NUL/space-terminated
// octal, or GNU base-256 when the high bit of the first byte is set
// (spec §4.3: "GNU base-256 (high bit of byte 0 set)").
func parseNumeric(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if b[0]&0x80 != 0 {
		return parseBase256(b), nil
	}
	s := strings.TrimRight(string(b), "\x00 ")
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 64)
	if err != nil {
		return 0, bferrors.Wrap(bferrors.CodeTARBadChecksum, err, "invalid octal numeric field %q", s)
	}
	return int64(v), nil
}

// parseBase256 decodes a GNU tar base-256 numeric field: byte 0's high
// bit (0x80) marks base-256 encoding, its next bit (0x40) the sign;
// the value is sign-extended then shifted in one byte at a time,
// including byte 0 itself (its top two marker bits fold harmlessly
// into the high-order bits of the accumulator).
func parseBase256(b []byte) int64 {
	var v int64
	if b[0]&0x40 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func parseHeader(block []byte) (header, error) {
	var h header
	h.name = cstr(field(block, offName, lenName))
	mode, err := parseNumeric(field(block, offMode, lenMode))
	if err != nil {
		return h, err
	}
	h.mode = mode
	uid, err := parseNumeric(field(block, offUID, lenUID))
	if err != nil {
		return h, err
	}
	h.uid = uid
	gid, err := parseNumeric(field(block, offGID, lenGID))
	if err != nil {
		return h, err
	}
	h.gid = gid
	size, err := parseNumeric(field(block, offSize, lenSize))
	if err != nil {
		return h, err
	}
	if size < 0 {
		return h, bferrors.New(bferrors.CodeBadHeader, "entry %q has negative size %d", h.name, size)
	}
	h.size = size
	mtimeSec, err := parseNumeric(field(block, offMtime, lenMtime))
	if err != nil {
		return h, err
	}
	h.mtime = time.Unix(mtimeSec, 0).UTC()
	h.typeflag = block[offTypeflag]
	h.linkname = cstr(field(block, offLinkname, lenLinkname))

	magic := field(block, offMagic, lenMagic)
	isUstarFamily := bytesEqual(magic, magicPAX) || bytesEqual(magic[:6], magicOldGNU[:6]) || bytesEqual(magic, magicGNU)
	if isUstarFamily {
		h.prefix = cstr(field(block, offPrefix, lenPrefix))
		if h.prefix != "" {
			h.name = h.prefix + "/" + h.name
		}
	}
	return h, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// verifyChecksum recomputes the header checksum with the checksum
// field treated as eight ASCII spaces, and compares it to the stored
// value (spec §4.3).
func verifyChecksum(block []byte) (uint32, uint32, error) {
	stored, err := parseNumeric(field(block, offChksum, lenChksum))
	if err != nil {
		return 0, 0, err
	}
	var sum uint32
	for i, b := range block {
		if i >= offChksum && i < offChksum+lenChksum {
			sum += uint32(' ')
		} else {
			sum += uint32(b)
		}
	}
	return sum, uint32(stored), nil
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

func paddedSize(size int64) int64 {
	rem := size % blockSize
	if rem == 0 {
		return size
	}
	return size + (blockSize - rem)
}
