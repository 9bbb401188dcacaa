package zip

import (
	"encoding/binary"
	"hash/crc32"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// flagUTF8 is general-purpose bit 11, "language encoding flag (EFS)".
const flagUTF8 = 1 << 11

// decodeName implements spec §4.2's name-decoding precedence: "if the
// general-purpose bit 11 is set, UTF-8; else if an Info-ZIP Unicode
// Path extra field (tag 0x7075) is present and its CRC-over-raw-name
// matches, use that; otherwise CP437."
func decodeName(raw []byte, flags uint16, extra map[uint16][]byte) (string, error) {
	if flags&flagUTF8 != 0 {
		if !utf8.Valid(raw) {
			return "", bferrors.New(bferrors.CodeBadHeader, "entry name flagged UTF-8 is not valid UTF-8")
		}
		return string(raw), nil
	}
	if up, ok := extra[extraTagUnicodePath]; ok && len(up) >= 5 {
		version := up[0]
		storedCRC := binary.LittleEndian.Uint32(up[1:5])
		if version == 1 && crc32.ChecksumIEEE(raw) == storedCRC {
			unicodeName := up[5:]
			if utf8.Valid(unicodeName) {
				return string(unicodeName), nil
			}
		}
	}
	return decodeCP437(raw)
}

func decodeCP437(raw []byte) (string, error) {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", bferrors.Wrap(bferrors.CodeBadHeader, err, "failed to decode entry name as CP437")
	}
	return string(decoded), nil
}
