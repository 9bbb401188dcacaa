package audit

import "github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"

// CountsBySeverity tallies issues by severity, the same grouping
// report.FromIssues uses for Summary, exposed separately so callers
// don't need to round-trip through JSON to inspect counts.
func CountsBySeverity(issues []archive.Issue) (errors, warnings, infos int) {
	for _, is := range issues {
		switch is.Severity {
		case archive.SeverityError:
			errors++
		case archive.SeverityWarning:
			warnings++
		default:
			infos++
		}
	}
	return
}
