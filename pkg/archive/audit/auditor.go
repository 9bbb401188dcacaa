// Package audit implements the deterministic, never-throws issue
// accumulator of spec §4.6: a fixed walk over an already-parsed
// archive that assembles the issues the readers collected (plus the
// structural checks that only make sense as a whole-archive pass) into
// an AuditReport, in the fixed ordering spec §4.6 names: structural
// issues first, then per-entry, then post-pass (range overlap,
// collisions).
//
// No single teacher file matches this 1:1 (bb-storage surfaces health
// through gRPC health-checking and Prometheus, never an
// issue-accumulator value); the state machine here is built directly
// from spec §4.6/§8, reusing the typed bferrors.Code vocabulary and the
// archive.Issue shape bb-storage's own "typed status, never a bare
// bool" discipline (pkg/util/status.go) argues for.
package audit

import (
	"context"
	"io"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/report"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Reader is the minimal surface both pkg/archive/zip.Reader and
// pkg/archive/tar.Reader already satisfy: the entry list plus whatever
// issues they accumulated while parsing.
type Reader interface {
	Entries() []archive.Entry
	IssueList() []archive.Issue
	OpenEntry(ctx context.Context, entry archive.Entry) (io.ReadCloser, error)
}

// AuditReport is spec §4.6's report value.
type AuditReport = report.Report

// Audit walks r's entries and issues, verifying each entry's body
// stream (which is where ZIP's CRC-32 check happens, per spec §4.2) and
// assembling a deterministic, insertion-ordered AuditReport.
//
// Ordering follows spec §4.6 exactly: structural issues the reader
// already collected (multiple-EOCD, bad TAR checksums) come first,
// then per-entry issues discovered during this walk (in entry order),
// then the reader's collision issues, which Audit holds back until the
// walk is done. Range overlaps make the reader fail outright, so they
// never reach this list.
func Audit(ctx context.Context, r Reader, opts archive.AuditOptions) (AuditReport, error) {
	entries := r.Entries()

	var issues, postPass []archive.Issue
	for _, is := range r.IssueList() {
		switch is.Code {
		case bferrors.CodeNameCollision, bferrors.CodeZIPCaseCollision, bferrors.CodeTARUnicodeCollision:
			postPass = append(postPass, is)
		default:
			issues = append(issues, is)
		}
	}

	for _, e := range entries {
		if err := bferrors.FromContext(ctx); err != nil {
			return AuditReport{}, err
		}
		if e.IsSymlink && opts.Profile.SymlinksFatal() {
			issues = append(issues, archive.Issue{
				Code:      bferrors.CodeUnsupportedFeature,
				Severity:  archive.SeverityError,
				EntryName: e.Name,
				Message:   "symlink entries are not permitted under this profile",
			})
			continue
		}
		if e.IsDir || e.IsSymlink || e.Type == archive.TypeHardlink {
			// No body to stream-verify.
			continue
		}
		body, err := r.OpenEntry(ctx, e)
		if err != nil {
			issues = append(issues, issueFromError(e.Name, err))
			continue
		}
		_, copyErr := io.Copy(io.Discard, body)
		closeErr := body.Close()
		if copyErr != nil {
			issues = append(issues, issueFromError(e.Name, copyErr))
		} else if closeErr != nil {
			issues = append(issues, issueFromError(e.Name, closeErr))
		}
	}

	issues = append(issues, postPass...)

	rep := report.FromIssues(len(entries), issues, opts.Profile.WarningsAreErrors())
	return rep, nil
}

// issueFromError converts a typed error raised while verifying an
// entry's body into an AuditIssue rather than aborting the whole walk,
// per spec §4.6's "deterministic walk... never throws".
func issueFromError(entryName string, err error) archive.Issue {
	code, ok := bferrors.Of(err)
	if !ok {
		code = bferrors.CodeBadHeader
	}
	return archive.Issue{
		Code:      code,
		Severity:  archive.SeverityError,
		EntryName: entryName,
		Message:   err.Error(),
	}
}

// AssertSafe converts a non-ok AuditReport into a typed
// ARCHIVE_AUDIT_FAILED error whose cause carries the report, per spec
// §4.6: "assertSafe converts a non-ok report into a typed error whose
// cause carries the report."
func AssertSafe(rep AuditReport) error {
	if rep.OK {
		return nil
	}
	return &AuditFailedError{Report: rep}
}

// AuditFailedError is the typed error AssertSafe raises; its Report
// field is the cause spec §4.6 requires callers be able to recover.
type AuditFailedError struct {
	Report AuditReport
}

func (e *AuditFailedError) Error() string {
	return bferrors.New(bferrors.CodeAuditFailed, "audit failed: %d error(s), %d warning(s)", e.Report.Summary.Errors, e.Report.Summary.Warnings).Error()
}

// Unwrap exposes the underlying typed code so bferrors.Is/Of still
// work on an AuditFailedError.
func (e *AuditFailedError) Unwrap() error {
	return bferrors.New(bferrors.CodeAuditFailed, "audit failed")
}
