package storage

import (
	"errors"
	"fmt"
)

// 后端原生错误码。不同后端的"不存在"错误码不做统一，调用方按后端区分。
const (
	CodeNoSuchKey         = "NoSuchKey"
	CodeNotFound          = "ENOENT"
	CodeRequestTimeout    = "RequestTimeout"
	CodeMaxRetriesReached = "MaxRetriesReached"
	CodeMissingParameter  = "MissingRequiredParameter"
	CodeInvalidRange      = "InvalidRange"
)

// ErrMissingBucket 表示既没有绑定默认 bucket，调用时也没有提供。
var ErrMissingBucket = errors.New("storage: bucket must be provided")

// Error 携带后端原生错误码。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode 实现 coder。
func (e *Error) ErrorCode() string { return e.Code }

type coder interface {
	ErrorCode() string
}

// ErrorCode 沿包装链取出第一个错误码，没有则返回空字符串。
func ErrorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// IsNotFound 判断 err 是否为任一后端的"对象不存在"错误。
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case CodeNoSuchKey, CodeNotFound:
		return true
	default:
		return false
	}
}

// IsTimeout 判断 err 是否为可重试的瞬时超时。
func IsTimeout(err error) bool {
	return ErrorCode(err) == CodeRequestTimeout
}
