// Package bferrors defines the stable, typed error vocabulary used
// throughout bytefold. Every family named in the specification
// (structural, ZIP-specific, HTTP, compression, cancellation) is
// exposed as a Code constant. Errors wrap a *status.Status (as produced
// by google.golang.org/grpc/status) so that they compose with anything
// in the ecosystem that already understands gRPC status errors; the
// Code is kept on the error value itself (and also prefixed onto the
// status message), so callers can branch on the family-specific string
// with Of or Is without parsing messages.
package bferrors

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is a stable identifier for a failure family, matching the
// vocabulary in spec §7 verbatim.
type Code string

// Structural codes.
const (
	CodeUnsupportedFormat  Code = "ARCHIVE_UNSUPPORTED_FORMAT"
	CodeBadHeader          Code = "ARCHIVE_BAD_HEADER"
	CodeTruncated          Code = "ARCHIVE_TRUNCATED"
	CodeLimitExceeded      Code = "ARCHIVE_LIMIT_EXCEEDED"
	CodePathTraversal      Code = "ARCHIVE_PATH_TRAVERSAL"
	CodeNameCollision      Code = "ARCHIVE_NAME_COLLISION"
	CodeUnsupportedFeature Code = "ARCHIVE_UNSUPPORTED_FEATURE"
	CodeAuditFailed        Code = "ARCHIVE_AUDIT_FAILED"
)

// ZIP-specific codes.
const (
	CodeZIPEOCDNotFound          Code = "ZIP_EOCD_NOT_FOUND"
	CodeZIPBadEOCD               Code = "ZIP_BAD_EOCD"
	CodeZIPBadZIP64              Code = "ZIP_BAD_ZIP64"
	CodeZIPBadCentralDirectory   Code = "ZIP_BAD_CENTRAL_DIRECTORY"
	CodeZIPUnsupportedMethod     Code = "ZIP_UNSUPPORTED_METHOD"
	CodeZIPUnsupportedEncryption Code = "ZIP_UNSUPPORTED_ENCRYPTION"
	CodeZIPBadCRC                Code = "ZIP_BAD_CRC"
	CodeZIPBadPassword           Code = "ZIP_BAD_PASSWORD"
	CodeZIPPasswordRequired      Code = "ZIP_PASSWORD_REQUIRED"
	CodeZIPAuthFailed            Code = "ZIP_AUTH_FAILED"
	CodeZIPZIP64Required         Code = "ZIP_ZIP64_REQUIRED"
	CodeZIPInvalidSignature      Code = "ZIP_INVALID_SIGNATURE"
	CodeZIPEntriesNotStored      Code = "ZIP_ENTRIES_NOT_STORED"
	CodeZIPHeaderMismatch        Code = "ZIP_HEADER_MISMATCH"
	CodeZIPOverlappingEntries    Code = "ZIP_OVERLAPPING_ENTRIES"
	CodeZIPMultipleEOCD          Code = "ZIP_MULTIPLE_EOCD"
	CodeZIPCaseCollision         Code = "ZIP_CASE_COLLISION"
)

// TAR-specific codes. These were not enumerated individually in spec §7
// (which lists only the cross-format structural codes), but §8's
// scenario table names TAR_UNICODE_COLLISION explicitly, so it is added
// here alongside the structural codes TAR parsing reuses.
const (
	CodeTARBadChecksum     Code = "TAR_BAD_CHECKSUM"
	CodeTARUnicodeCollision Code = "TAR_UNICODE_COLLISION"
)

// HTTP codes.
const (
	CodeHTTPRangeUnsupported   Code = "HTTP_RANGE_UNSUPPORTED"
	CodeHTTPResourceChanged    Code = "HTTP_RESOURCE_CHANGED"
	CodeHTTPRangeInvalid       Code = "HTTP_RANGE_INVALID"
	CodeHTTPBadResponse        Code = "HTTP_BAD_RESPONSE"
	CodeHTTPSizeUnknown        Code = "HTTP_SIZE_UNKNOWN"
	CodeHTTPContentEncoding    Code = "HTTP_CONTENT_ENCODING"
	CodeHTTPStrongETagRequired Code = "HTTP_STRONG_ETAG_REQUIRED"
)

// Compression codes.
const (
	CodeXZBadData                Code = "COMPRESSION_XZ_BAD_DATA"
	CodeXZTruncated              Code = "COMPRESSION_XZ_TRUNCATED"
	CodeXZBadCheck               Code = "COMPRESSION_XZ_BAD_CHECK"
	CodeXZUnsupportedCheck       Code = "COMPRESSION_XZ_UNSUPPORTED_CHECK"
	CodeXZUnsupportedFilter      Code = "COMPRESSION_XZ_UNSUPPORTED_FILTER"
	CodeXZBufferLimit            Code = "COMPRESSION_XZ_BUFFER_LIMIT"
	CodeXZLimitExceeded          Code = "COMPRESSION_XZ_LIMIT_EXCEEDED"
	CodeResourceLimit            Code = "COMPRESSION_RESOURCE_LIMIT"
	CodeResourcePreflightPartial Code = "COMPRESSION_RESOURCE_PREFLIGHT_INCOMPLETE"
	CodeLZMABadData              Code = "COMPRESSION_LZMA_BAD_DATA"
	CodeGzipBadHeader            Code = "COMPRESSION_GZIP_BAD_HEADER"
	CodeUnsupportedAlgorithm     Code = "COMPRESSION_UNSUPPORTED_ALGORITHM"
	CodeBackendUnavailable       Code = "COMPRESSION_BACKEND_UNAVAILABLE"
)

// CodeCancelled is surfaced exactly once per call, per spec §7.
const CodeCancelled Code = "CANCELLED"

// grpcCodeFor maps a bferrors.Code to the nearest gRPC status code, so
// that archive errors compose cleanly with anything downstream that
// branches on codes.Code (as every bb-storage BlobAccess decorator
// does).
func grpcCodeFor(code Code) codes.Code {
	switch code {
	case CodeCancelled:
		return codes.Canceled
	case CodeLimitExceeded, CodeXZBufferLimit, CodeXZLimitExceeded, CodeResourceLimit:
		return codes.ResourceExhausted
	case CodeZIPPasswordRequired, CodeZIPBadPassword, CodeZIPAuthFailed:
		return codes.Unauthenticated
	case CodeUnsupportedFormat, CodeUnsupportedFeature, CodeZIPUnsupportedMethod,
		CodeZIPUnsupportedEncryption, CodeXZUnsupportedCheck, CodeXZUnsupportedFilter,
		CodeUnsupportedAlgorithm, CodeZIPZIP64Required, CodeZIPEntriesNotStored:
		return codes.Unimplemented
	case CodeBackendUnavailable, CodeHTTPRangeUnsupported:
		return codes.Unavailable
	default:
		return codes.InvalidArgument
	}
}

// statusError pairs a Code with a gRPC status. gRPC status details
// require registered proto types, which this standalone module does not
// carry, so the code is instead prefixed onto the status message in a
// fixed "[CODE] message" form for human readers, and kept in the code
// field, from which Of below recovers it. This
// keeps errors plain `error` values usable with errors.Is/errors.As
// while still letting status.Convert(err) produce a sensible message.
type statusError struct {
	code Code
	s    *status.Status
}

func (e *statusError) Error() string { return e.s.Err().Error() }

func (e *statusError) GRPCStatus() *status.Status { return e.s }

func (e *statusError) Unwrap() error { return e.s.Err() }

// New creates an error carrying the given Code and formatted message.
func New(code Code, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &statusError{
		code: code,
		s:    status.New(grpcCodeFor(code), fmt.Sprintf("[%s] %s", code, msg)),
	}
}

// Wrap attaches a Code to an existing error, preserving its message as
// a suffix, mirroring the StatusWrapWithCode convention bb-storage uses
// throughout its BlobAccess decorators (pkg/util/status.go).
func Wrap(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	underlying := status.Convert(err).Message()
	return &statusError{
		code: code,
		s:    status.Newf(grpcCodeFor(code), "[%s] %s: %s", code, msg, underlying),
	}
}

// Of extracts the Code attached to err, if any, and whether one was
// found.
func Of(err error) (Code, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, true
	}
	return "", false
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	c, ok := Of(err)
	return ok && c == code
}

// FromContext converts ctx.Err() into a CodeCancelled error if the
// context has been cancelled or has exceeded its deadline, matching the
// suspension-point cancellation contract of spec §5. It returns nil if
// ctx carries no error.
func FromContext(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.Canceled, context.DeadlineExceeded:
		return New(CodeCancelled, "operation cancelled")
	default:
		return New(CodeCancelled, "operation cancelled: %v", ctx.Err())
	}
}
