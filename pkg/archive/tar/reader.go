package tar

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/pathnorm"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// entryPrivate is the reader-specific reopen state stashed in
// archive.Entry.Private: the byte offset of the entry's payload inside
// the buffered substrate (spec §3).
type entryPrivate struct {
	payloadOffset uint64
	size          uint64
}

// Issue is an alias for archive.Issue, kept so existing call sites in
// this package can keep writing the short form (mirrors
// pkg/archive/zip.Issue).
type Issue = archive.Issue

// Reader implements the TAR reader of spec §4.3 over a buffered,
// random-access Substrate (the whole archive is expected to already be
// materialized, e.g. by the facade buffering a decompressed stream into
// an in-memory substrate, since TAR has no central directory to seek
// to).
type Reader struct {
	sub    substrate.Substrate
	limits archive.Limits

	entries []archive.Entry
	Issues  []Issue
}

// Open scans sub block-by-block, accumulating PAX global/per-entry
// records and producing one archive.Entry per non-PAX header.
func Open(ctx context.Context, sub substrate.Substrate, opts archive.OpenOptions) (*Reader, error) {
	limits := opts.ResolvedLimits()
	r := &Reader{sub: sub, limits: limits}

	size, err := sub.Size(ctx)
	if err != nil {
		return nil, err
	}

	paxGlobal := map[string]string{}
	var paxNext map[string]string
	idx := pathnorm.NewIndex()

	var offset uint64
	var zeroBlocksSeen int
	var totalEntries, totalBytes uint64

	for offset < size {
		if err := bferrors.FromContext(ctx); err != nil {
			return nil, err
		}
		block := make([]byte, blockSize)
		if err := substrate.ReadFull(ctx, sub, offset, block); err != nil {
			return nil, bferrors.Wrap(bferrors.CodeTruncated, err, "truncated TAR header block at offset %d", offset)
		}
		offset += blockSize

		if isZeroBlock(block) {
			zeroBlocksSeen++
			if zeroBlocksSeen >= 2 {
				break
			}
			continue
		}
		zeroBlocksSeen = 0

		computed, stored, err := verifyChecksum(block)
		if err != nil {
			return nil, err
		}
		if computed != stored {
			if opts.Profile.IsStrict() {
				return nil, bferrors.New(bferrors.CodeTARBadChecksum, "TAR header checksum mismatch at offset %d: computed %d, stored %d", offset-blockSize, computed, stored)
			}
			r.Issues = append(r.Issues, Issue{Code: bferrors.CodeTARBadChecksum, Severity: archive.SeverityWarning, Message: "header checksum mismatch; continuing in compat profile"})
		}

		h, err := parseHeader(block)
		if err != nil {
			return nil, err
		}

		switch h.typeflag {
		case typePAXEntry:
			records, err := readPAXPayload(ctx, sub, offset, h.size)
			if err != nil {
				return nil, err
			}
			offset += uint64(paddedSize(h.size))
			paxNext = records
			continue
		case typePAXGlobal:
			records, err := readPAXPayload(ctx, sub, offset, h.size)
			if err != nil {
				return nil, err
			}
			offset += uint64(paddedSize(h.size))
			for k, v := range records {
				paxGlobal[k] = v
			}
			continue
		}

		name := h.name
		linkname := h.linkname
		entrySize := h.size
		mtime := h.mtime
		paxRecords := map[string]string{}
		for k, v := range paxGlobal {
			paxRecords[k] = v
		}
		for k, v := range paxNext {
			paxRecords[k] = v
		}
		if v, ok := paxRecords["path"]; ok {
			name = v
		}
		if v, ok := paxRecords["linkpath"]; ok {
			linkname = v
		}
		if v, ok := paxRecords["size"]; ok {
			// A PAX size record overrides a header size of zero (spec §8
			// scenario: "TAR with a PAX size value that overrides a
			// header size of zero").
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, bferrors.Wrap(bferrors.CodeBadHeader, err, "invalid PAX size record %q", v)
			}
			entrySize = parsed
		}
		if v, ok := paxRecords["mtime"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				sec := int64(parsed)
				nsec := int64((parsed - float64(sec)) * 1e9)
				mtime = time.Unix(sec, nsec).UTC()
			}
		}
		paxNext = nil

		isDir := h.typeflag == typeDir
		normalized, err := pathnorm.Normalize(name, isDir)
		if err != nil {
			return nil, err
		}
		for _, c := range idx.Add(normalized) {
			issue := Issue{Code: bferrors.CodeNameCollision, Severity: archive.SeverityWarning, EntryName: c.Name, Message: "entry name collides (" + c.Kind.String() + ") with " + c.ConflictsWith}
			switch c.Kind {
			case pathnorm.CollisionUnicodeNFC:
				return nil, bferrors.New(bferrors.CodeTARUnicodeCollision, "entry %q collides with %q under Unicode NFC normalization", c.Name, c.ConflictsWith)
			case pathnorm.CollisionDuplicate:
				if !opts.Profile.WarningsAreErrors() {
					r.Issues = append(r.Issues, issue)
				} else {
					return nil, bferrors.New(bferrors.CodeNameCollision, "entry %q duplicates %q", c.Name, c.ConflictsWith)
				}
			case pathnorm.CollisionCasefold:
				if !opts.Profile.WarningsAreErrors() {
					r.Issues = append(r.Issues, issue)
				} else {
					return nil, bferrors.New(bferrors.CodeNameCollision, "entry %q case-collides with %q", c.Name, c.ConflictsWith)
				}
			}
		}

		payloadOffset := offset
		padded := uint64(paddedSize(entrySize))
		if payloadOffset+padded > size {
			return nil, bferrors.New(bferrors.CodeTruncated, "entry %q payload runs past end of archive", name)
		}

		totalBytes += uint64(entrySize)
		if limits.MaxTotalUncompressedBytes > 0 && totalBytes > limits.MaxTotalUncompressedBytes {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "total uncompressed size exceeds limit %d", limits.MaxTotalUncompressedBytes)
		}
		if limits.MaxUncompressedEntryBytes > 0 && uint64(entrySize) > limits.MaxUncompressedEntryBytes {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "entry %q size %d exceeds limit %d", name, entrySize, limits.MaxUncompressedEntryBytes)
		}
		totalEntries++
		if limits.MaxEntries > 0 && totalEntries > limits.MaxEntries {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "entry count exceeds limit %d", limits.MaxEntries)
		}

		entry := archive.Entry{
			Name:       normalized,
			Size:       uint64(entrySize),
			IsDir:      isDir,
			IsSymlink:  h.typeflag == typeSymlink,
			Type:       classify(h.typeflag),
			LinkName:   linkname,
			PAXRecords: paxRecords,
			Private:    entryPrivate{payloadOffset: payloadOffset, size: uint64(entrySize)},
		}
		if !mtime.IsZero() {
			m := mtime
			entry.MTime = &m
		}
		mode := uint32(h.mode) & 0777
		entry.Mode = &mode
		uid := uint32(h.uid)
		gid := uint32(h.gid)
		entry.UID = &uid
		entry.GID = &gid
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		r.entries = append(r.entries, entry)

		offset += padded
	}

	return r, nil
}

func classify(typeflag byte) archive.EntryType {
	switch typeflag {
	case typeRegular, typeRegularAlt:
		return archive.TypeFile
	case typeHardlink:
		return archive.TypeHardlink
	case typeSymlink:
		return archive.TypeSymlink
	case typeChar:
		return archive.TypeCharDevice
	case typeBlock:
		return archive.TypeBlockDevice
	case typeDir:
		return archive.TypeDirectory
	case typeFifo:
		return archive.TypeFIFO
	default:
		return archive.TypeUnknown
	}
}

// readPAXPayload reads a PAX extended-header payload at offset and
// parses its `LEN␠KEY=VALUE\n` records (spec §4.3); LEN includes
// itself and the trailing newline.
func readPAXPayload(ctx context.Context, sub substrate.Substrate, offset uint64, size int64) (map[string]string, error) {
	if size < 0 {
		return nil, bferrors.New(bferrors.CodeBadHeader, "PAX header has negative size %d", size)
	}
	buf := make([]byte, size)
	if err := substrate.ReadFull(ctx, sub, offset, buf); err != nil {
		return nil, bferrors.Wrap(bferrors.CodeTruncated, err, "truncated PAX header payload")
	}
	records := map[string]string{}
	pos := 0
	for pos < len(buf) {
		sp := indexByte(buf[pos:], ' ')
		if sp < 0 {
			return nil, bferrors.New(bferrors.CodeBadHeader, "malformed PAX record: missing length separator")
		}
		recLen, err := strconv.Atoi(string(buf[pos : pos+sp]))
		if err != nil || recLen <= sp+1 || pos+recLen > len(buf) {
			return nil, bferrors.New(bferrors.CodeBadHeader, "malformed PAX record length")
		}
		body := buf[pos+sp+1 : pos+recLen]
		if len(body) == 0 || body[len(body)-1] != '\n' {
			return nil, bferrors.New(bferrors.CodeBadHeader, "malformed PAX record: missing trailing newline")
		}
		body = body[:len(body)-1]
		eq := indexByte(body, '=')
		if eq < 0 {
			return nil, bferrors.New(bferrors.CodeBadHeader, "malformed PAX record: missing '='")
		}
		key, value := string(body[:eq]), string(body[eq+1:])
		records[key] = value
		pos += recLen
	}
	return records, nil
}

// Entries returns the parsed entry list in block order.
func (r *Reader) Entries() []archive.Entry { return r.entries }

// IssueList returns the issues accumulated while scanning the archive,
// satisfying pkg/archive/audit's Reader interface.
func (r *Reader) IssueList() []archive.Issue { return r.Issues }

// OpenEntry returns a readable stream over entry's payload bytes.
// Unlike ZIP, TAR carries no per-entry compression or CRC of its own;
// any codec layering (e.g. a gzip- or zstd-wrapped tar stream) has
// already been unwrapped by the facade before this reader ever saw the
// bytes, so this is a plain windowed read.
func (r *Reader) OpenEntry(ctx context.Context, entry archive.Entry) (io.ReadCloser, error) {
	priv, ok := entry.Private.(entryPrivate)
	if !ok {
		return nil, bferrors.New(bferrors.CodeBadHeader, "entry %q was not produced by this reader", entry.Name)
	}
	return io.NopCloser(&substrateWindow{ctx: ctx, sub: r.sub, offset: priv.payloadOffset, remaining: priv.size}), nil
}

// Close releases the underlying substrate.
func (r *Reader) Close() error { return r.sub.Close() }

// substrateWindow adapts a bounded region of a Substrate to a
// sequential io.Reader, mirroring pkg/archive/zip's identical helper.
type substrateWindow struct {
	ctx       context.Context
	sub       substrate.Substrate
	offset    uint64
	remaining uint64
}

func (w *substrateWindow) Read(p []byte) (int, error) {
	if w.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > w.remaining {
		p = p[:w.remaining]
	}
	n, err := w.sub.ReadAt(w.ctx, w.offset, p)
	w.offset += uint64(n)
	w.remaining -= uint64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, bferrors.New(bferrors.CodeTruncated, "entry payload truncated with %d bytes remaining", w.remaining)
	}
	return n, nil
}
