// Package apperr 定义了返回给客户端的错误码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 是机器可读的错误码。
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnsupportedFileType   Code = "UNSUPPORTED_FILE_TYPE"
	CodeEmptyDocument         Code = "EMPTY_DOCUMENT"
	CodeNoChunksGenerated     Code = "NO_CHUNKS_GENERATED"
	CodeProviderUnavailable   Code = "PROVIDER_UNAVAILABLE"
	CodePartialCleanupFailure Code = "PARTIAL_CLEANUP_FAILURE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInternal              Code = "INTERNAL"
)

// AppError 包含错误码、出错的操作、可返回给客户端的信息以及原始错误。
type AppError struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error { return e.Err }

// E 构造一个 *AppError。
func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf 返回错误链中最外层 AppError 的错误码，没有时返回 CodeInternal。
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsCode 判断 err 是否带有指定错误码。
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// SafeMessage 返回客户端可见的信息，外部服务和内部错误不会暴露原因。
func SafeMessage(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return "internal server error"
	}
	switch ae.Code {
	case CodeProviderUnavailable:
		return "upstream service unavailable, please retry later"
	case CodeInternal:
		return "internal server error"
	}
	if ae.Message == "" {
		return string(ae.Code)
	}
	return ae.Message
}

// HTTPStatus 将 err 映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidRequest, CodeUnsupportedFileType, CodeEmptyDocument, CodeNoChunksGenerated:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodePartialCleanupFailure:
		return http.StatusOK
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
