package archive

// Limits is an enumerated, all-fields-defaulted resource bound
// structure (spec §3). Every field is clamped at construction time by
// Normalize: out-of-range values fall back to their default rather than
// being accepted silently, mirroring the "defaulted, validated
// configuration struct" discipline bb-storage applies at
// pkg/blockdevice/configuration.go and pkg/eviction/configuration.go,
// minus the Protobuf transport those use (this module has no
// bazel/protoc toolchain available; see SPEC_FULL.md Ambient Stack).
type Limits struct {
	MaxEntries uint64

	MaxUncompressedEntryBytes uint64
	MaxTotalUncompressedBytes uint64
	MaxCompressionRatio       float64

	MaxDictionaryBytes uint64

	MaxXZDictionaryBytes      uint64
	MaxXZBufferedInputBytes   uint64
	MaxXZIndexRecords         uint64
	MaxXZIndexBytes           uint64
	MaxXZPreflightBlockHeaders uint64

	MaxZIPCentralDirectoryBytes uint64
	MaxZIPCommentBytes         uint64
	MaxZIPEOCDSearchBytes      uint64

	MaxBzip2BlockSize uint64 // In units of 100 KiB (the BZh<N> digit).

	MaxInputBytes uint64
}

// DefaultLimits returns the baseline resource bounds used by the
// "strict" and "compat" profiles. agentLimits starts from these and
// overrides individual fields with tighter fixed values.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:                 1 << 20, // 1,048,576 entries.
		MaxUncompressedEntryBytes:  16 << 30, // 16 GiB.
		MaxTotalUncompressedBytes:  64 << 30, // 64 GiB.
		MaxCompressionRatio:        1024,
		MaxDictionaryBytes:         64 << 20, // 64 MiB.
		MaxXZDictionaryBytes:       64 << 20, // 64 MiB.
		MaxXZBufferedInputBytes:    4 << 20,  // 4 MiB.
		MaxXZIndexRecords:          1 << 16,
		MaxXZIndexBytes:            16 << 20,
		MaxXZPreflightBlockHeaders: 1 << 16,
		MaxZIPCentralDirectoryBytes: 512 << 20, // 512 MiB.
		MaxZIPCommentBytes:         64 << 10,  // 64 KiB.
		MaxZIPEOCDSearchBytes:      64<<10 + 22,
		MaxBzip2BlockSize:          9,
		MaxInputBytes:              64 << 30, // 64 GiB.
	}
}

// agentLimits returns the tighter bounds the "agent" profile selects
// by default (spec §3's Profile description: "tighter resource caps").
func agentLimits() Limits {
	l := DefaultLimits()
	l.MaxEntries = 1 << 16
	l.MaxUncompressedEntryBytes = 1 << 30 // 1 GiB.
	l.MaxTotalUncompressedBytes = 4 << 30 // 4 GiB.
	l.MaxCompressionRatio = 256
	l.MaxDictionaryBytes = 32 << 20 // 32 MiB.
	l.MaxXZDictionaryBytes = 32 << 20
	l.MaxXZBufferedInputBytes = 1 << 20
	l.MaxXZIndexRecords = 1 << 12
	l.MaxXZIndexBytes = 1 << 20
	l.MaxXZPreflightBlockHeaders = 1 << 12
	l.MaxZIPCentralDirectoryBytes = 64 << 20
	l.MaxZIPCommentBytes = 4 << 10
	l.MaxBzip2BlockSize = 9
	l.MaxInputBytes = 4 << 30
	return l
}

// Normalize clamps every field of l to a safe range, replacing
// zero/negative/overflowing values with the corresponding field from
// defaults. It never panics and never produces a Limits that is less
// safe than defaults.
func (l Limits) Normalize(defaults Limits) Limits {
	clampU := func(v, def uint64) uint64 {
		if v == 0 || v > def {
			return def
		}
		return v
	}
	out := l
	out.MaxEntries = clampU(l.MaxEntries, defaults.MaxEntries)
	out.MaxUncompressedEntryBytes = clampU(l.MaxUncompressedEntryBytes, defaults.MaxUncompressedEntryBytes)
	out.MaxTotalUncompressedBytes = clampU(l.MaxTotalUncompressedBytes, defaults.MaxTotalUncompressedBytes)
	if l.MaxCompressionRatio <= 0 || l.MaxCompressionRatio > defaults.MaxCompressionRatio {
		out.MaxCompressionRatio = defaults.MaxCompressionRatio
	}
	out.MaxDictionaryBytes = clampU(l.MaxDictionaryBytes, defaults.MaxDictionaryBytes)
	out.MaxXZDictionaryBytes = clampU(l.MaxXZDictionaryBytes, defaults.MaxXZDictionaryBytes)
	out.MaxXZBufferedInputBytes = clampU(l.MaxXZBufferedInputBytes, defaults.MaxXZBufferedInputBytes)
	out.MaxXZIndexRecords = clampU(l.MaxXZIndexRecords, defaults.MaxXZIndexRecords)
	out.MaxXZIndexBytes = clampU(l.MaxXZIndexBytes, defaults.MaxXZIndexBytes)
	out.MaxXZPreflightBlockHeaders = clampU(l.MaxXZPreflightBlockHeaders, defaults.MaxXZPreflightBlockHeaders)
	out.MaxZIPCentralDirectoryBytes = clampU(l.MaxZIPCentralDirectoryBytes, defaults.MaxZIPCentralDirectoryBytes)
	out.MaxZIPCommentBytes = clampU(l.MaxZIPCommentBytes, defaults.MaxZIPCommentBytes)
	out.MaxZIPEOCDSearchBytes = clampU(l.MaxZIPEOCDSearchBytes, defaults.MaxZIPEOCDSearchBytes)
	if l.MaxBzip2BlockSize == 0 || l.MaxBzip2BlockSize > 9 {
		out.MaxBzip2BlockSize = defaults.MaxBzip2BlockSize
	}
	out.MaxInputBytes = clampU(l.MaxInputBytes, defaults.MaxInputBytes)
	return out
}
