// Package engineerror defines the capture engine's error taxonomy.
//
// Classified failures in the engine are reported as a *CaptureError (or wrap
// one via fmt.Errorf("...: %w", err), following the wrapping idiom the rest
// of this module uses) so that callers can recover structured remediation
// data instead of parsing message strings. Some platform-level failures (X11
// protocol errors, Win32 call failures, unclassified portal errors) are
// returned as plain wrapped errors that carry no Kind.
package engineerror

import (
	"errors"
	"fmt"
)

// Kind enumerates the recognized error categories (spec §3, §7).
type Kind string

const (
	KindWindowNotFound              Kind = "window_not_found"
	KindPortalUnavailable           Kind = "portal_unavailable"
	KindPermissionDenied            Kind = "permission_denied"
	KindEncodingFailed              Kind = "encoding_failed"
	KindCaptureTimeout              Kind = "capture_timeout"
	KindInvalidParameter            Kind = "invalid_parameter"
	KindBackendNotAvailable         Kind = "backend_not_available"
	KindIOError                     Kind = "io_error"
	KindImageError                  Kind = "image_error"
	KindKeyringUnavailable          Kind = "keyring_unavailable"
	KindKeyringOperationFailed      Kind = "keyring_operation_failed"
	KindTokenNotFound               Kind = "token_not_found"
	KindEncryptionFailed            Kind = "encryption_failed"
	KindUnsupportedPlatformVersion  Kind = "unsupported_platform_version"
	KindWindowClosed                Kind = "window_closed"
	KindNotSupported                Kind = "not_supported"
)

// RecoveryAction suggests what a caller should do next.
type RecoveryAction string

const (
	ActionCallTool     RecoveryAction = "call_tool"
	ActionRetry        RecoveryAction = "retry"
	ActionModifyParams RecoveryAction = "modify_params"
	ActionRequireUser  RecoveryAction = "require_user"
	ActionNone         RecoveryAction = "none"
)

// Category groups kinds into a coarse recovery bucket.
type Category string

const (
	CategoryNotFound         Category = "not_found"
	CategoryPermissionDenied Category = "permission_denied"
	CategoryInvalidInput     Category = "invalid_input"
	CategoryUnavailable      Category = "unavailable"
	CategoryTimeout          Category = "timeout"
	CategorySystemError      Category = "system_error"
	CategoryProcessingError  Category = "processing_error"
)

// Recovery is the structured remediation descriptor exposed alongside the
// human-readable error message (spec §7).
type Recovery struct {
	Message       string
	Action        RecoveryAction
	SuggestedTool string
	ToolParams    map[string]string
	IsTransient   bool
	Category      Category
}

// CaptureError is the single exported error type for the engine. Backend and
// component code should construct one of these via the New* helpers rather
// than ad-hoc fmt.Errorf, so callers can always recover the Kind and
// Recovery via errors.As.
type CaptureError struct {
	Kind    Kind
	Op      string
	Detail  string
	Wrapped error

	Operation string // keyring op (store/retrieve/delete) for KindKeyringOperationFailed
	Param     string // parameter name for KindInvalidParameter
	Feature   string // feature name for KindNotSupported
	Backend   string // backend name for KindNotSupported / KindBackendNotAvailable
	Current   string // current platform version for KindUnsupportedPlatformVersion
	Minimum   string // minimum platform version for KindUnsupportedPlatformVersion
	DurationMS int64 // for KindCaptureTimeout
}

func (e *CaptureError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Wrapped }

// Is reports whether target is a *CaptureError with the same Kind, so
// errors.Is(err, &CaptureError{Kind: KindWindowNotFound}) matches any
// WindowNotFound error in err's chain. Direct comparisons should prefer
// HasKind, or errors.As + (*CaptureError).Kind.
func (e *CaptureError) Is(target error) bool {
	var other *CaptureError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Recovery derives the structured recovery descriptor for this error. The
// mapping mirrors spec §7's taxonomy-to-recovery table.
func (e *CaptureError) Recovery() Recovery {
	switch e.Kind {
	case KindWindowNotFound:
		return Recovery{Message: "no window matched the selector", Action: ActionCallTool, SuggestedTool: "list_windows", Category: CategoryNotFound}
	case KindPortalUnavailable:
		return Recovery{Message: "the desktop screencast portal is unreachable", Action: ActionRetry, IsTransient: true, Category: CategoryUnavailable}
	case KindPermissionDenied:
		return Recovery{Message: "the user denied or cancelled the capture prompt", Action: ActionRequireUser, Category: CategoryPermissionDenied}
	case KindEncodingFailed:
		return Recovery{Message: "the captured frame could not be encoded", Action: ActionNone, Category: CategoryProcessingError}
	case KindCaptureTimeout:
		return Recovery{Message: "the capture operation timed out", Action: ActionRetry, IsTransient: true, Category: CategoryTimeout}
	case KindInvalidParameter:
		return Recovery{Message: "one or more parameters were invalid", Action: ActionModifyParams, Category: CategoryInvalidInput}
	case KindBackendNotAvailable:
		return Recovery{Message: "no capture backend is available on this host", Action: ActionNone, Category: CategoryUnavailable}
	case KindIOError:
		return Recovery{Message: "a filesystem operation failed", Action: ActionRetry, IsTransient: true, Category: CategorySystemError}
	case KindImageError:
		return Recovery{Message: "the image buffer was malformed", Action: ActionNone, Category: CategoryProcessingError}
	case KindKeyringUnavailable:
		return Recovery{Message: "the platform keyring is unavailable; enable the file fallback to proceed", Action: ActionModifyParams, Category: CategoryUnavailable}
	case KindKeyringOperationFailed:
		return Recovery{Message: "a keyring operation failed", Action: ActionRetry, IsTransient: true, Category: CategorySystemError}
	case KindTokenNotFound:
		return Recovery{Message: "no restore token is stored for this source", Action: ActionCallTool, SuggestedTool: "prime_consent", Category: CategoryNotFound}
	case KindEncryptionFailed:
		return Recovery{Message: "the token store could not be encrypted or decrypted", Action: ActionNone, Category: CategorySystemError}
	case KindUnsupportedPlatformVersion:
		return Recovery{Message: "the host OS build is below the minimum required version", Action: ActionNone, Category: CategoryUnavailable}
	case KindWindowClosed:
		return Recovery{Message: "the target window closed during capture", Action: ActionCallTool, SuggestedTool: "list_windows", Category: CategoryNotFound}
	case KindNotSupported:
		return Recovery{Message: fmt.Sprintf("%s is not supported on the %s backend", e.Feature, e.Backend), Action: ActionNone, Category: CategoryInvalidInput}
	default:
		return Recovery{Message: "an unrecognized error occurred", Action: ActionNone, Category: CategorySystemError}
	}
}

func new(kind Kind, op, detail string, wrapped error) *CaptureError {
	return &CaptureError{Kind: kind, Op: op, Detail: detail, Wrapped: wrapped}
}

// NewWindowNotFound builds a KindWindowNotFound error.
func NewWindowNotFound(op, detail string) *CaptureError {
	return new(KindWindowNotFound, op, detail, nil)
}

// NewPortalUnavailable builds a KindPortalUnavailable error.
func NewPortalUnavailable(op string, wrapped error) *CaptureError {
	return new(KindPortalUnavailable, op, "portal unavailable", wrapped)
}

// NewPermissionDenied builds a KindPermissionDenied error.
func NewPermissionDenied(op, detail string) *CaptureError {
	return new(KindPermissionDenied, op, detail, nil)
}

// NewEncodingFailed builds a KindEncodingFailed error with format/reason.
func NewEncodingFailed(format, reason string) *CaptureError {
	return new(KindEncodingFailed, "encode", fmt.Sprintf("format=%s reason=%s", format, reason), nil)
}

// NewCaptureTimeout builds a KindCaptureTimeout error tagged with the
// deadline that elapsed, in milliseconds.
func NewCaptureTimeout(op string, durationMS int64) *CaptureError {
	e := new(KindCaptureTimeout, op, fmt.Sprintf("timed out after %dms", durationMS), nil)
	e.DurationMS = durationMS
	return e
}

// NewInvalidParameter builds a KindInvalidParameter error naming the offending
// parameter.
func NewInvalidParameter(param, detail string) *CaptureError {
	e := new(KindInvalidParameter, "validate", detail, nil)
	e.Param = param
	return e
}

// NewBackendNotAvailable builds a KindBackendNotAvailable error.
func NewBackendNotAvailable(backend string) *CaptureError {
	e := new(KindBackendNotAvailable, "backend", fmt.Sprintf("%s backend is not available", backend), nil)
	e.Backend = backend
	return e
}

// NewIOError wraps a filesystem error.
func NewIOError(op string, wrapped error) *CaptureError {
	return new(KindIOError, op, "io error", wrapped)
}

// NewImageError builds a KindImageError error.
func NewImageError(op, detail string) *CaptureError {
	return new(KindImageError, op, detail, nil)
}

// NewKeyringUnavailable builds a KindKeyringUnavailable error.
func NewKeyringUnavailable(op string) *CaptureError {
	return new(KindKeyringUnavailable, op, "keyring unavailable", nil)
}

// NewKeyringOperationFailed builds a KindKeyringOperationFailed error tagged
// with the keyring operation that failed (store/retrieve/delete).
func NewKeyringOperationFailed(operation string, wrapped error) *CaptureError {
	e := new(KindKeyringOperationFailed, "keyring", fmt.Sprintf("operation=%s", operation), wrapped)
	e.Operation = operation
	return e
}

// NewTokenNotFound builds a KindTokenNotFound error for a source-id.
func NewTokenNotFound(sourceID string) *CaptureError {
	return new(KindTokenNotFound, "rotate", fmt.Sprintf("source_id=%s", sourceID), nil)
}

// NewEncryptionFailed builds a KindEncryptionFailed error.
func NewEncryptionFailed(op string, wrapped error) *CaptureError {
	return new(KindEncryptionFailed, op, "encryption failed", wrapped)
}

// NewUnsupportedPlatformVersion builds a KindUnsupportedPlatformVersion error.
func NewUnsupportedPlatformVersion(current, minimum string) *CaptureError {
	e := new(KindUnsupportedPlatformVersion, "platform_check", fmt.Sprintf("current=%s minimum=%s", current, minimum), nil)
	e.Current = current
	e.Minimum = minimum
	return e
}

// NewWindowClosed builds a KindWindowClosed error.
func NewWindowClosed(handle string) *CaptureError {
	return new(KindWindowClosed, "capture", fmt.Sprintf("handle=%s", handle), nil)
}

// NewNotSupported builds a KindNotSupported error naming the feature and backend.
func NewNotSupported(feature, backend string) *CaptureError {
	e := new(KindNotSupported, "capability_check", fmt.Sprintf("feature=%s backend=%s", feature, backend), nil)
	e.Feature = feature
	e.Backend = backend
	return e
}

// KindOf extracts the Kind from err if it is, or wraps, a *CaptureError.
func KindOf(err error) (Kind, bool) {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// HasKind reports whether err is, or wraps, a *CaptureError with the given Kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
