package tar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Writer emits a normalized ustar-family TAR stream: one 512-byte
// header per entry (PAX `x` record emitted first whenever the name or
// link name is too long for its fixed-width ustar field), the payload
// padded to a block boundary, and a two-zero-block trailer.
type Writer struct {
	w         *bufio.Writer
	finalized bool
}

// NewWriter builds a Writer that emits to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// EntryHeader is the normalized metadata WriteEntry emits a header
// for; it mirrors the fields spec §3 lists as optional on Entry.
type EntryHeader struct {
	Name     string
	LinkName string
	Size     int64
	Mode     uint32
	UID, GID uint32
	MTime    time.Time
	Typeflag byte
}

// WriteEntry writes h's header (plus a PAX extended header first, if
// Name or LinkName does not fit the fixed-width ustar fields) followed
// by up to h.Size bytes read from body, padded to the next 512-byte
// boundary.
func (w *Writer) WriteEntry(ctx context.Context, h EntryHeader, body io.Reader) error {
	if w.finalized {
		return bferrors.New(bferrors.CodeBadHeader, "writer already finalized")
	}
	if err := bferrors.FromContext(ctx); err != nil {
		return err
	}

	pax := map[string]string{}
	name := h.Name
	if len(name) > lenName {
		pax["path"] = name
		name = truncateASCII(name, lenName)
	}
	linkname := h.LinkName
	if len(linkname) > lenLinkname {
		pax["linkpath"] = linkname
		linkname = truncateASCII(linkname, lenLinkname)
	}
	if len(pax) > 0 {
		if err := w.writePAXHeader(pax); err != nil {
			return err
		}
	}

	block := make([]byte, blockSize)
	putCStr(block[offName:offName+lenName], name)
	putOctal(block[offMode:offMode+lenMode], int64(h.Mode))
	putOctal(block[offUID:offUID+lenUID], int64(h.UID))
	putOctal(block[offGID:offGID+lenGID], int64(h.GID))
	putOctal(block[offSize:offSize+lenSize], h.Size)
	putOctal(block[offMtime:offMtime+lenMtime], h.MTime.Unix())
	for i := 0; i < lenChksum; i++ {
		block[offChksum+i] = ' '
	}
	block[offTypeflag] = h.Typeflag
	putCStr(block[offLinkname:offLinkname+lenLinkname], linkname)
	copy(block[offMagic:offMagic+lenMagic], magicPAX)
	block[offMagic+lenMagic] = '0'
	block[offMagic+lenMagic+1] = '0'

	var sum uint32
	for _, b := range block {
		sum += uint32(b)
	}
	putOctal(block[offChksum:offChksum+lenChksum-1], int64(sum))
	block[offChksum+lenChksum-1] = ' '

	if _, err := w.w.Write(block); err != nil {
		return err
	}
	if h.Size > 0 {
		n, err := io.Copy(w.w, io.LimitReader(body, h.Size))
		if err != nil {
			return err
		}
		if n != h.Size {
			return bferrors.New(bferrors.CodeTruncated, "entry %q body shorter than declared size %d", h.Name, h.Size)
		}
		if pad := paddedSize(h.Size) - h.Size; pad > 0 {
			if _, err := w.w.Write(make([]byte, pad)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writePAXHeader emits a PAX extended-header block sequence carrying
// records as `LEN␠KEY=VALUE\n`.
func (w *Writer) writePAXHeader(records map[string]string) error {
	var payload []byte
	for k, v := range records {
		payload = append(payload, encodePAXRecord(k, v)...)
	}

	block := make([]byte, blockSize)
	putCStr(block[offName:offName+lenName], "PaxHeader")
	putOctal(block[offMode:offMode+lenMode], 0644)
	putOctal(block[offSize:offSize+lenSize], int64(len(payload)))
	for i := 0; i < lenChksum; i++ {
		block[offChksum+i] = ' '
	}
	block[offTypeflag] = typePAXEntry
	copy(block[offMagic:offMagic+lenMagic], magicPAX)
	block[offMagic+lenMagic] = '0'
	block[offMagic+lenMagic+1] = '0'

	var sum uint32
	for _, b := range block {
		sum += uint32(b)
	}
	putOctal(block[offChksum:offChksum+lenChksum-1], int64(sum))
	block[offChksum+lenChksum-1] = ' '

	if _, err := w.w.Write(block); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	if pad := paddedSize(int64(len(payload))) - int64(len(payload)); pad > 0 {
		if _, err := w.w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// encodePAXRecord renders one `LEN␠KEY=VALUE\n` record, solving the
// self-referential length by re-deriving it once if appending the
// length field's own digits pushed the total past the initial guess.
func encodePAXRecord(key, value string) []byte {
	size := len(key) + len(value) + 3 // ' ' + '=' + '\n'
	size += len(strconv.Itoa(size))
	record := fmt.Sprintf("%d %s=%s\n", size, key, value)
	if len(record) != size {
		size = len(record)
		record = fmt.Sprintf("%d %s=%s\n", size, key, value)
	}
	return []byte(record)
}

func truncateASCII(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func putCStr(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func putOctal(dst []byte, v int64) {
	s := strconv.FormatInt(v, 8)
	if len(s) > len(dst)-1 {
		s = s[len(s)-(len(dst)-1):]
	}
	for i := range dst {
		dst[i] = 0
	}
	pad := len(dst) - 1 - len(s)
	for i := 0; i < pad; i++ {
		dst[i] = '0'
	}
	copy(dst[pad:], s)
	dst[len(dst)-1] = 0
}

// Finalize writes the two-zero-block trailer and flushes the stream.
func (w *Writer) Finalize() error {
	w.finalized = true
	if _, err := w.w.Write(make([]byte, blockSize*2)); err != nil {
		return err
	}
	return w.w.Flush()
}
