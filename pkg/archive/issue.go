package archive

import "github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"

// Severity classifies an Issue's fatality, per spec §3/§4.6's
// `severity∈{info,warning,error}`.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String renders the severity the way reports spell it.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Issue is a single finding surfaced while parsing or auditing an
// archive: spec §4.6's `AuditIssue {code, severity, message,
// entry_name?, offset?, details?}`. Readers (zip.Reader, tar.Reader)
// accumulate Issues for conditions that are recoverable under the
// active Profile; the auditor assembles them, in order, into an
// AuditReport without re-deriving them.
type Issue struct {
	Code      bferrors.Code
	Severity  Severity
	Message   string
	EntryName string
	Offset    *uint64
	Details   map[string]string
}
