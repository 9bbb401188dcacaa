// Package report implements the schema-versioned, insertion-ordered
// JSON encoding spec §4.6/§6.4 requires of AuditReport and
// NormalizeReport: "schemaVersion = 1", keys `ok, summary, issues`, and
// every offset/size field rendered as a string so 64-bit values survive
// a JSON-number-is-a-float64 consumer. No teacher file produces
// reports this shape (bb-storage reports health and metrics through
// gRPC/Prometheus, never JSON), so this is built directly from spec
// §4.6/§6.4's field list; `encoding/json` is the library the teacher
// itself reaches for whenever it needs ad hoc JSON (see e.g.
// pkg/jwt/configuration.go), so that choice is grounded too.
package report

import (
	"encoding/json"
	"strconv"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
)

// SchemaVersion is the fixed schema tag every report carries.
const SchemaVersion = "1"

// BigUint64 renders as a JSON string, never a bare number, so offsets
// and sizes stay exact for consumers whose JSON numbers are float64
// (spec §6.4: "All integer fields representing offsets or sizes are
// strings").
type BigUint64 uint64

// MarshalJSON implements json.Marshaler.
func (b BigUint64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(b), 10) + `"`), nil
}

// IssueJSON is the wire shape of one archive.Issue.
type IssueJSON struct {
	Code      string            `json:"code"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	EntryName string            `json:"entryName,omitempty"`
	Offset    *BigUint64        `json:"offset,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Summary is the fixed field set spec §4.6 calls out: "summary is a
// fixed field set".
type Summary struct {
	Entries  int `json:"entries"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Report is the common shape of AuditReport; NormalizeReport embeds it
// and adds its own per-entry counters (spec §3: "NormalizeReport:
// superset of AuditReport").
type Report struct {
	SchemaVersion string      `json:"schemaVersion"`
	OK            bool        `json:"ok"`
	Summary       Summary     `json:"summary"`
	Issues        []IssueJSON `json:"issues"`
}

// ToJSON renders r in canonical field order. encoding/json marshals
// struct fields in declaration order and map keys in sorted order, so
// the same Report always produces byte-identical output (spec §5:
// "All reports are serialization-stable").
func (r Report) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromIssues builds a Report's Issues/Summary/OK fields from an
// insertion-ordered issue list, applying warningsAreErrors (spec §3's
// "agent... warnings become errors" rule) when computing OK.
func FromIssues(entryCount int, issues []archive.Issue, warningsAreErrors bool) Report {
	out := make([]IssueJSON, 0, len(issues))
	summary := Summary{Entries: entryCount}
	for _, is := range issues {
		switch is.Severity {
		case archive.SeverityError:
			summary.Errors++
		case archive.SeverityWarning:
			summary.Warnings++
		default:
			summary.Infos++
		}
		ij := IssueJSON{
			Code:      string(is.Code),
			Severity:  is.Severity.String(),
			Message:   is.Message,
			EntryName: is.EntryName,
			Details:   is.Details,
		}
		if is.Offset != nil {
			v := BigUint64(*is.Offset)
			ij.Offset = &v
		}
		out = append(out, ij)
	}
	ok := summary.Errors == 0 && (!warningsAreErrors || summary.Warnings == 0)
	return Report{
		SchemaVersion: SchemaVersion,
		OK:            ok,
		Summary:       summary,
		Issues:        out,
	}
}
