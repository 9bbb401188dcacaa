package archive

// Profile selects a bundle of defaults: how tight Limits is, and
// whether warnings that would otherwise be informational become fatal
// (spec §3).
type Profile int

const (
	// ProfileStrict is the default: the canonical decoder, warnings
	// stay warnings.
	ProfileStrict Profile = iota
	// ProfileCompat loosens the decoder (malformed-but-recoverable
	// input is tolerated) and demotes some errors to warnings.
	ProfileCompat
	// ProfileAgent is the strictest profile: warnings become errors
	// and resource caps are tighter, intended for untrusted input
	// handled by an autonomous agent.
	ProfileAgent
)

// String renders the profile name used in OpenOptions/error messages.
func (p Profile) String() string {
	switch p {
	case ProfileStrict:
		return "strict"
	case ProfileCompat:
		return "compat"
	case ProfileAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// DefaultLimits returns the Limits this profile selects when the
// caller supplies none.
func (p Profile) DefaultLimits() Limits {
	switch p {
	case ProfileAgent:
		return agentLimits()
	default:
		return DefaultLimits()
	}
}

// WarningsAreErrors reports whether issues of severity warning must be
// treated as errors for report.OK purposes (spec §3: "agent... warnings
// become errors").
func (p Profile) WarningsAreErrors() bool {
	return p == ProfileAgent
}

// IsStrict reports whether the decoder should reject malformed-but-
// recoverable structures instead of emitting a warning and continuing.
func (p Profile) IsStrict() bool {
	return p != ProfileCompat
}

// SymlinksFatal reports whether encountering a symlink entry during
// audit is an error rather than informational, per the per-profile
// fatality selection named in spec §3.
func (p Profile) SymlinksFatal() bool {
	return p == ProfileAgent
}

// TrailingBytesFatal reports whether trailing bytes after the archive's
// logical end are an error rather than a warning.
func (p Profile) TrailingBytesFatal() bool {
	return p != ProfileCompat
}

// UnsupportedChecksFatal reports whether an unrecognized XZ check type
// is an error (strict/agent) or merely informational (compat), per spec
// §4.5.
func (p Profile) UnsupportedChecksFatal() bool {
	return p != ProfileCompat
}
