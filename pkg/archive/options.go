package archive

// Format names a container/compression family the facade can detect
// and dispatch on (spec §9: ArchiveReader collapses to a tagged
// variant; Format is the tag).
type Format int

const (
	// FormatUnknown means the facade could not sniff a supported format.
	FormatUnknown Format = iota
	FormatZIP
	FormatTAR
	FormatGzip // Single-file gzip (the payload may itself be a tar, but that is the caller's concern).
	FormatBzip2
	FormatXZ
	FormatZstd
	FormatBrotli
)

// InputKind names the substrate shapes an archive can be opened from
// (buffer, blob, HTTP range). OpenOptions has no field of this type,
// and OpenArchive does not consult it.
type InputKind int

const (
	InputKindBuffer InputKind = iota
	InputKindBlob
	InputKindHTTPRange
)

// OpenOptions are the explicit, all-fields-validated arguments to
// OpenArchive, replacing the "named-option bag" the distilled spec
// described only informally (spec §9). Unknown fields cannot exist in
// Go's struct literal syntax the way they could in a dynamically typed
// option bag, so "unknown fields rejected at construction" is enforced
// simply by there being no catch-all map here.
type OpenOptions struct {
	Profile  Profile
	Limits   *Limits // nil selects Profile.DefaultLimits().
	Password string
	Filename string // Not read by OpenArchive; format detection uses content only.
	Format   Format // FormatUnknown triggers sniffing.
}

// ResolvedLimits returns o.Limits normalized against o.Profile's
// defaults, or the profile defaults outright if none were supplied.
func (o OpenOptions) ResolvedLimits() Limits {
	defaults := o.Profile.DefaultLimits()
	if o.Limits == nil {
		return defaults
	}
	return o.Limits.Normalize(defaults)
}

// AuditOptions configure a single Auditor.Audit call.
type AuditOptions struct {
	Profile Profile
	Limits  *Limits
}

// ResolvedLimits mirrors OpenOptions.ResolvedLimits.
func (o AuditOptions) ResolvedLimits() Limits {
	defaults := o.Profile.DefaultLimits()
	if o.Limits == nil {
		return defaults
	}
	return o.Limits.Normalize(defaults)
}

// ConflictPolicy selects how the normalizer resolves a name collision
// (spec §4.7).
type ConflictPolicy int

const (
	ConflictError ConflictPolicy = iota
	ConflictLastWins
	ConflictRename
)

// UnsupportedMethodPolicy selects what the normalizer does when an
// entry's compression method has no registered codec (spec §4.7
// "unsupported methods fail or drop per on_unsupported").
type UnsupportedMethodPolicy int

const (
	UnsupportedMethodFail UnsupportedMethodPolicy = iota
	UnsupportedMethodDrop
)

// NormalizeMode selects between lossless passthrough and safe
// recompression (spec §4.7).
type NormalizeMode int

const (
	ModeSafe NormalizeMode = iota
	ModeLossless
)

// NormalizeOptions configure a single Normalizer.Normalize call.
type NormalizeOptions struct {
	Profile Profile
	Limits  *Limits

	Mode NormalizeMode

	// Deterministic, when true, scrubs timestamps/ownership/mode and
	// sorts entries by ascending normalized name (spec §4.7). When
	// false, original metadata and entry order are preserved.
	Deterministic bool

	// TargetMethod is the codec method id used for recompression in
	// ModeSafe (default: deflate, method 8).
	TargetMethod uint16

	OnDuplicate  ConflictPolicy
	OnCaseFold   ConflictPolicy
	OnUnsupported UnsupportedMethodPolicy

	Password string // Not read by Normalize; entries are decrypted by the reader with OpenOptions.Password.
}

// ResolvedLimits mirrors OpenOptions.ResolvedLimits.
func (o NormalizeOptions) ResolvedLimits() Limits {
	defaults := o.Profile.DefaultLimits()
	if o.Limits == nil {
		return defaults
	}
	return o.Limits.Normalize(defaults)
}

// DefaultNormalizeOptions returns the spec's stated defaults: safe
// mode, deterministic output, deflate target, duplicate/case-fold
// collisions fatal.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		Profile:       ProfileStrict,
		Mode:          ModeSafe,
		Deterministic: true,
		TargetMethod:  8, // deflate
		OnDuplicate:   ConflictError,
		OnCaseFold:    ConflictError,
		OnUnsupported: UnsupportedMethodFail,
	}
}
