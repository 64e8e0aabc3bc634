package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeCodec             ErrorCode = "CODEC_ERROR"        // malformed varint / wire type / frame
	CodeTransport         ErrorCode = "TRANSPORT_ERROR"    // HTTP non-2xx on open, append, or read
	CodeWire              ErrorCode = "WIRE_ERROR"         // trailer with nonzero grpc-status
	CodeHandler           ErrorCode = "HANDLER_ERROR"      // local exec failed (non-fatal)
	CodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION" // vendor request the session cannot honor
	CodeTimeout           ErrorCode = "TIMEOUT"            // session budget exhausted
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an explicit code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError with an explicit code and a cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewCodecError reports a malformed wire payload. Codec errors are recovered
// locally and never surface to the HTTP client as 5xx.
func NewCodecError(message string) *AppError {
	return &AppError{Code: CodeCodec, Message: message}
}

// NewTransportError reports a failed vendor HTTP call. Fatal for the session.
func NewTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeTransport, Message: message, Err: cause}
}

// NewWireError reports a nonzero grpc-status carried in a trailer frame.
func NewWireError(message string) *AppError {
	return &AppError{Code: CodeWire, Message: message}
}

// NewHandlerError reports a local tool execution failure. Not fatal; it is
// returned to the vendor in the error branch of the exec result.
func NewHandlerError(message string, cause error) *AppError {
	return &AppError{Code: CodeHandler, Message: message, Err: cause}
}

// NewProtocolViolation reports a vendor request the session must abort on.
func NewProtocolViolation(message string) *AppError {
	return &AppError{Code: CodeProtocolViolation, Message: message}
}

// NewTimeoutError reports the session-wide budget expiring.
func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// CodeOf extracts the ErrorCode from err, or CodeInternal when err is not an
// AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCode 判断错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsFatalToSession reports whether the session must terminate on err.
// Handler and codec errors are absorbed; everything else tears the turn down.
func IsFatalToSession(err error) bool {
	switch CodeOf(err) {
	case CodeHandler, CodeCodec:
		return false
	}
	return true
}
