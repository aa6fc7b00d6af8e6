package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError for subsystem-specific codes.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrUnavailable  = fmt.Errorf("unavailable")
	ErrConflict     = fmt.Errorf("conflict")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad = fmt.Errorf("failed to load configuration")

	// Fatal startup errors. The runtime aborts when one of these escapes Supervisor.Start.
	ErrExecutableNotFound = fmt.Errorf("backend executable not found")
	ErrBackendSpawn       = fmt.Errorf("backend spawn failed")
	ErrBackendModule      = fmt.Errorf("backend module import failed")

	// Backend contract errors.
	ErrBackendRejected   = fmt.Errorf("backend rejected request")
	ErrMalformedResponse = fmt.Errorf("malformed backend response")
	ErrBackendNotReady   = fmt.Errorf("backend not ready")
	ErrCircuitOpen       = fmt.Errorf("backend circuit open")

	// Station errors.
	ErrCameraPaused    = fmt.Errorf("camera is paused")
	ErrInspectionBusy  = fmt.Errorf("inspection already in progress")
	ErrStreamNotActive = fmt.Errorf("stream not active")

	// Gateway / RPC errors.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Supervisor.Start")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "backend", "stream"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsFatal reports whether err belongs to the fatal startup class: the
// backend cannot be launched or cannot import its modules.
func IsFatal(err error) bool {
	return errors.Is(err, ErrExecutableNotFound) ||
		errors.Is(err, ErrBackendSpawn) ||
		errors.Is(err, ErrBackendModule)
}

// ErrorCode is a machine-parseable error category for monitoring and RPC error frames.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeExecutableNotFound ErrorCode = "EXECUTABLE_NOT_FOUND"
	CodeBackendSpawn       ErrorCode = "BACKEND_SPAWN"
	CodeBackendModule      ErrorCode = "BACKEND_MODULE"
	CodeBackendRejected    ErrorCode = "BACKEND_REJECTED"
	CodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	CodeBackendNotReady    ErrorCode = "BACKEND_NOT_READY"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeCameraPaused       ErrorCode = "CAMERA_PAUSED"
	CodeInspectionBusy     ErrorCode = "INSPECTION_BUSY"
	CodeStreamNotActive    ErrorCode = "STREAM_NOT_ACTIVE"
	CodeRPCMethodNotFound  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload  ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeCameraTimeout   ErrorCode = "CAMERA_TIMEOUT"
	CodeBackendTimeout  ErrorCode = "BACKEND_TIMEOUT"
	CodeCameraNotFound  ErrorCode = "CAMERA_NOT_FOUND"
	CodeGuideInvalid    ErrorCode = "GUIDE_INVALID"
	CodeBackendDown     ErrorCode = "BACKEND_UNAVAILABLE"
	CodeStreamConflict  ErrorCode = "STREAM_CONFLICT"
	CodeProcessNotFound ErrorCode = "PROCESS_NOT_FOUND"

	// Category error codes. Fallback when no subsystem-specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeUnavailable  ErrorCode = "UNAVAILABLE"
	CodeConflict     ErrorCode = "CONFLICT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,
	ErrUnavailable:  CodeUnavailable,
	ErrConflict:     CodeConflict,

	ErrConfigLoad:         CodeConfigLoad,
	ErrExecutableNotFound: CodeExecutableNotFound,
	ErrBackendSpawn:       CodeBackendSpawn,
	ErrBackendModule:      CodeBackendModule,
	ErrBackendRejected:    CodeBackendRejected,
	ErrMalformedResponse:  CodeMalformedResponse,
	ErrBackendNotReady:    CodeBackendNotReady,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrCameraPaused:       CodeCameraPaused,
	ErrInspectionBusy:     CodeInspectionBusy,
	ErrStreamNotActive:    CodeStreamNotActive,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
	ErrRateLimit:          CodeRateLimit,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"camera":     CodeCameraNotFound,
		"supervisor": CodeProcessNotFound,
	},
	ErrTimeout: {
		"camera":  CodeCameraTimeout,
		"backend": CodeBackendTimeout,
	},
	ErrInvalidInput: {
		"overlay": CodeGuideInvalid,
	},
	ErrUnavailable: {
		"backend": CodeBackendDown,
	},
	ErrConflict: {
		"stream": CodeStreamConflict,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
