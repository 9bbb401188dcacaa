package zip

import (
	"context"
	"hash/crc32"
	"io"
	"sort"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/codec"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/pathnorm"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

const (
	flagEncrypted     = 1 << 0
	flagStrongEncrypt = 1 << 6
)

// entryPrivate is the reader-specific reopen state stashed in
// archive.Entry.Private (spec §3's "Private carries reader-specific
// reopen state").
type entryPrivate struct {
	cd         cdEntry
	dataOffset uint64
}

// Reader implements the ZIP central-directory reader of spec §4.2 over
// a random-access Substrate.
type Reader struct {
	ctx      context.Context
	sub      substrate.Substrate
	limits   archive.Limits
	profile  archive.Profile
	registry *codec.Registry
	password string

	entries []archive.Entry

	// Issues accumulated while building the entry list: multiple-EOCD,
	// collisions. The auditor consumes these directly; OpenArchive
	// callers that just want entries can ignore them.
	Issues []archive.Issue
}

// Issue is an alias for archive.Issue, kept so existing call sites in
// this package can keep writing the short form.
type Issue = archive.Issue

// Open builds a Reader by locating the EOCD, walking the central
// directory, reconciling each selected entry's local header, decoding
// names, and populating the three collision indices.
func Open(ctx context.Context, sub substrate.Substrate, opts archive.OpenOptions) (*Reader, error) {
	limits := opts.ResolvedLimits()
	r := &Reader{
		ctx:      ctx,
		sub:      sub,
		limits:   limits,
		profile:  opts.Profile,
		registry: codec.Default(),
		password: opts.Password,
	}

	eocd, err := FindEOCD(ctx, sub, limits)
	if err != nil {
		return nil, err
	}
	if eocd.MultipleEOCD {
		if r.profile.IsStrict() {
			return nil, bferrors.New(bferrors.CodeZIPMultipleEOCD, "multiple end-of-central-directory records found")
		}
		r.Issues = append(r.Issues, Issue{Code: bferrors.CodeZIPMultipleEOCD, Severity: archive.SeverityWarning, Message: "multiple end-of-central-directory records found; using the last one"})
	}

	cdEntries, err := parseCentralDirectory(ctx, sub, eocd.CDOffset, eocd.CDSize, limits)
	if err != nil {
		return nil, err
	}

	fileSize, err := sub.Size(ctx)
	if err != nil {
		return nil, err
	}

	idx := pathnorm.NewIndex()
	var intervals []nameInterval
	var totalUncompressed uint64

	for _, cd := range cdEntries {
		if err := bferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		isDirByName := len(cd.NameRaw) > 0 && cd.NameRaw[len(cd.NameRaw)-1] == '/'
		isDirByAttrs := isUnixDirectory(cd.ExternalAttrs) && cd.UncompressedSize == 0
		isDir := isDirByName || isDirByAttrs

		name, err := decodeName(cd.NameRaw, cd.Flags, cd.Extra)
		if err != nil {
			return nil, err
		}
		normalized, err := pathnorm.Normalize(name, isDir)
		if err != nil {
			return nil, err
		}

		for _, c := range idx.Add(normalized) {
			issue := Issue{Code: bferrors.CodeNameCollision, Severity: archive.SeverityWarning, EntryName: c.Name, Message: "entry name collides (" + c.Kind.String() + ") with " + c.ConflictsWith}
			switch c.Kind {
			case pathnorm.CollisionUnicodeNFC:
				issue.Code = bferrors.CodeNameCollision
				return nil, bferrors.New(bferrors.CodeNameCollision, "entry %q collides with %q under Unicode NFC normalization", c.Name, c.ConflictsWith)
			case pathnorm.CollisionDuplicate:
				if !r.profile.WarningsAreErrors() {
					r.Issues = append(r.Issues, issue)
				} else {
					return nil, bferrors.New(bferrors.CodeNameCollision, "entry %q duplicates %q", c.Name, c.ConflictsWith)
				}
			case pathnorm.CollisionCasefold:
				issue.Code = bferrors.CodeZIPCaseCollision
				if !r.profile.WarningsAreErrors() {
					r.Issues = append(r.Issues, issue)
				} else {
					return nil, bferrors.New(bferrors.CodeZIPCaseCollision, "entry %q case-collides with %q", c.Name, c.ConflictsWith)
				}
			}
		}

		if cd.Flags&flagStrongEncrypt != 0 {
			return nil, bferrors.New(bferrors.CodeZIPUnsupportedEncryption, "entry %q uses strong encryption, which is unsupported", name)
		}

		dataOffset, err := reconcileLocalHeader(ctx, sub, cd, eocd.CDOffset, fileSize)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, nameInterval{
			start: cd.LocalHeaderOffset,
			end:   dataOffset + cd.CompressedSize,
			name:  name,
		})

		totalUncompressed += cd.UncompressedSize
		if limits.MaxTotalUncompressedBytes > 0 && totalUncompressed > limits.MaxTotalUncompressedBytes {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "total uncompressed size exceeds limit %d", limits.MaxTotalUncompressedBytes)
		}
		if limits.MaxUncompressedEntryBytes > 0 && cd.UncompressedSize > limits.MaxUncompressedEntryBytes {
			return nil, bferrors.New(bferrors.CodeLimitExceeded, "entry %q uncompressed size %d exceeds limit %d", name, cd.UncompressedSize, limits.MaxUncompressedEntryBytes)
		}

		method := cd.Method
		entry := archive.Entry{
			Name:      normalized,
			Size:      cd.UncompressedSize,
			IsDir:     isDir,
			IsSymlink: isUnixSymlink(cd.ExternalAttrs),
			Comment:   string(cd.CommentRaw),
			Method:    &method,
			Private:   entryPrivate{cd: cd, dataOffset: dataOffset},
		}
		if entry.IsDir {
			entry.Type = archive.TypeDirectory
		} else if entry.IsSymlink {
			entry.Type = archive.TypeSymlink
		} else {
			entry.Type = archive.TypeFile
		}
		if mtime := dosTimeToTime(cd.ModDate, cd.ModTime); mtime != nil {
			entry.MTime = mtime
		}
		if mode, ok := unixMode(cd.ExternalAttrs, cd.VersionMadeBy); ok {
			m := mode
			entry.Mode = &m
		}
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		r.entries = append(r.entries, entry)
	}

	if err := checkOverlaps(intervals); err != nil {
		return nil, err
	}

	return r, nil
}

type nameInterval struct {
	start, end uint64
	name       string
}

// checkOverlaps implements spec §4.2's "Range bookkeeping": sort
// {entry_start, data_end} intervals by start and verify none overlap.
func checkOverlaps(intervals []nameInterval) error {
	sorted := make([]nameInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].start < sorted[i-1].end {
			return bferrors.New(bferrors.CodeZIPOverlappingEntries, "entry %q overlaps entry %q", sorted[i].name, sorted[i-1].name)
		}
	}
	return nil
}

// Entries returns the parsed entry list in central-directory order.
func (r *Reader) Entries() []archive.Entry { return r.entries }

// IssueList returns the issues accumulated while building the entry
// list, satisfying pkg/archive/audit's Reader interface.
func (r *Reader) IssueList() []archive.Issue { return r.Issues }

// OpenEntry returns a readable, CRC-verifying stream over entry's body,
// implementing spec §4.2's "entry body stream": a windowed substrate
// read, piped through the AES-WinZip decryptor first if encrypted,
// then through the codec registered for the entry's method, with a
// running CRC-32 and byte counter.
func (r *Reader) OpenEntry(ctx context.Context, entry archive.Entry) (io.ReadCloser, error) {
	priv, ok := entry.Private.(entryPrivate)
	if !ok {
		return nil, bferrors.New(bferrors.CodeBadHeader, "entry %q was not produced by this reader", entry.Name)
	}
	cd := priv.cd

	window := &substrateWindow{ctx: ctx, sub: r.sub, offset: priv.dataOffset, remaining: cd.CompressedSize}

	var compressedSrc io.Reader = window
	method := cd.Method
	if cd.Flags&flagEncrypted != 0 {
		if method != codec.MethodAESWinZip {
			return nil, bferrors.New(bferrors.CodeZIPUnsupportedEncryption, "entry %q uses unsupported traditional ZIP encryption", entry.Name)
		}
		aesExtra, ok := cd.Extra[extraTagAESExtra]
		if !ok || len(aesExtra) < 7 {
			return nil, bferrors.New(bferrors.CodeZIPBadCentralDirectory, "AES-encrypted entry %q missing extra field 0x9901", entry.Name)
		}
		strength := codec.AESStrength(aesExtra[4])
		method = leUint16(aesExtra[5:7])
		if r.password == "" {
			return nil, bferrors.New(bferrors.CodeZIPPasswordRequired, "entry %q is encrypted and no password was supplied", entry.Name)
		}
		dec, err := codec.NewWinZipAESDecryptor(window, int64(cd.CompressedSize), r.password, strength)
		if err != nil {
			return nil, err
		}
		compressedSrc = dec
	}

	c, err := r.registry.MustLookup(method)
	if err != nil {
		return nil, err
	}
	plain, err := c.NewDecompressor(ctx, compressedSrc, codec.DecompressParams{Limits: r.limits, Password: r.password})
	if err != nil {
		return nil, err
	}

	return &crcVerifyingReader{
		ctx:        ctx,
		src:        plain,
		limits:     r.limits,
		name:       entry.Name,
		wantCRC:    cd.CRC32,
		wantSize:   cd.UncompressedSize,
		hash:       crc32.NewIEEE(),
		closeExtra: closersOf(compressedSrc),
	}, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func closersOf(r io.Reader) []io.Closer {
	if c, ok := r.(io.Closer); ok {
		return []io.Closer{c}
	}
	return nil
}

// substrateWindow adapts a bounded [offset, offset+remaining) region
// of a Substrate to a sequential io.Reader.
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
		return 0, bferrors.New(bferrors.CodeTruncated, "entry data truncated with %d bytes remaining", w.remaining)
	}
	return n, nil
}

// crcVerifyingReader wraps the decompressed body, enforcing
// max_uncompressed_entry_bytes and verifying the CRC-32/size recorded
// in the central directory once the stream is exhausted.
type crcVerifyingReader struct {
	ctx        context.Context
	src        io.ReadCloser
	limits     archive.Limits
	name       string
	wantCRC    uint32
	wantSize   uint64
	produced   uint64
	hash       uint32Hash
	closeExtra []io.Closer
	verified   bool
}

type uint32Hash interface {
	Write(p []byte) (int, error)
	Sum32() uint32
}

func (r *crcVerifyingReader) Read(p []byte) (int, error) {
	if err := bferrors.FromContext(r.ctx); err != nil {
		return 0, err
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
		r.produced += uint64(n)
		if r.limits.MaxUncompressedEntryBytes > 0 && r.produced > r.limits.MaxUncompressedEntryBytes {
			return n, bferrors.New(bferrors.CodeLimitExceeded, "entry %q exceeded max_uncompressed_entry_bytes during decode", r.name)
		}
	}
	if err == io.EOF {
		if verr := r.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (r *crcVerifyingReader) verify() error {
	if r.verified {
		return nil
	}
	r.verified = true
	if r.produced != r.wantSize {
		return bferrors.New(bferrors.CodeZIPBadCRC, "entry %q decompressed to %d bytes, central directory declared %d", r.name, r.produced, r.wantSize)
	}
	if r.hash.Sum32() != r.wantCRC {
		return bferrors.New(bferrors.CodeZIPBadCRC, "entry %q CRC-32 mismatch", r.name)
	}
	return nil
}

func (r *crcVerifyingReader) Close() error {
	err := r.src.Close()
	for _, c := range r.closeExtra {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Close releases the underlying substrate (spec §3 lifecycle: "closing
// a reader closes the substrate").
func (r *Reader) Close() error { return r.sub.Close() }
