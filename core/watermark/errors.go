package watermark

import (
	"errors"
	"fmt"
	"net/http"

	"EchoMark/core/engine"
)

// Code is the stable machine-checkable category of a watermark error.
type Code string

const (
	CodeInvalidInput          Code = "invalid_input"
	CodeNotFound              Code = "not_found"
	CodePermissionDenied      Code = "permission_denied"
	CodeForeignWatermark      Code = "foreign_watermark_conflict"
	CodeUnregisteredWatermark Code = "unregistered_watermark_conflict"
	CodeAlreadyWatermarked    Code = "already_watermarked"
	CodeEngineUnavailable     Code = "engine_unavailable"
	CodeEngineTimeout         Code = "engine_timeout"
	CodeEngineError           Code = "engine_error"
	CodeWatermarkingFailed    Code = "watermarking_failed"
	CodeUploadFailed          Code = "upload_failed"
	CodeRateLimited           Code = "rate_limited"
)

// Error is a caller-visible failure of the watermark workflow. It
// carries an HTTP status and a stable code; the message is safe to
// forward to the caller (engine internals never end up in it).
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts a watermark *Error from any error chain.
func AsError(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// ErrInvalidInput 参数错误，调用方可修正
func ErrInvalidInput(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidInput, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound 资源不存在
func ErrNotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: what + " not found"}
}

// ErrPermissionDenied 无权访问
func ErrPermissionDenied(what string) *Error {
	return &Error{Code: CodePermissionDenied, Status: http.StatusForbidden, Message: "you don't have permission to " + what}
}

// ErrForeignWatermark 音频已带有他人注册的水印
func ErrForeignWatermark(ownerName string) *Error {
	return &Error{
		Code:    CodeForeignWatermark,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("audio file already contains a watermark owned by %s, cannot proceed with watermarking", ownerName),
	}
}

// ErrUnregisteredWatermark 检出了系统无法归属的水印，保守地视为冲突
func ErrUnregisteredWatermark() *Error {
	return &Error{
		Code:    CodeUnregisteredWatermark,
		Status:  http.StatusBadRequest,
		Message: "audio file already contains an unregistered watermark, cannot proceed with watermarking",
	}
}

// ErrAlreadyWatermarked 引擎在嵌入阶段发现已有水印
func ErrAlreadyWatermarked(cause error) *Error {
	return &Error{
		Code:    CodeAlreadyWatermarked,
		Status:  http.StatusBadRequest,
		Message: "audio file already contains a watermark, please use the original unwatermarked audio file",
		cause:   cause,
	}
}

// ErrWatermarkingFailed 嵌入阶段失败
func ErrWatermarkingFailed(detail string, cause error) *Error {
	return &Error{
		Code:    CodeWatermarkingFailed,
		Status:  http.StatusInternalServerError,
		Message: "watermarking failed: " + detail,
		cause:   cause,
	}
}

// ErrUploadFailed 对象存储上传失败
func ErrUploadFailed(cause error) *Error {
	return &Error{
		Code:    CodeUploadFailed,
		Status:  http.StatusInternalServerError,
		Message: "failed to upload audio file",
		cause:   cause,
	}
}

// ErrRateLimited 匿名检测超过限流阈值
func ErrRateLimited() *Error {
	return &Error{
		Code:    CodeRateLimited,
		Status:  http.StatusTooManyRequests,
		Message: "too many detection requests, please try again later",
	}
}

// FromEngineError maps an engine client failure onto the caller-facing
// taxonomy for the detection path. Embed failures go through
// ErrAlreadyWatermarked / ErrWatermarkingFailed instead.
func FromEngineError(err error) *Error {
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		return &Error{Code: CodeEngineUnavailable, Status: http.StatusServiceUnavailable, Message: "watermark engine is not reachable", cause: err}
	case errors.Is(err, engine.ErrTimeout):
		return &Error{Code: CodeEngineTimeout, Status: http.StatusRequestTimeout, Message: "watermark detection request timed out", cause: err}
	default:
		return &Error{Code: CodeEngineError, Status: http.StatusInternalServerError, Message: "watermark engine error during detection", cause: err}
	}
}
