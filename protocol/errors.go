package protocol

import (
	"errors"
	"fmt"
)

// 解码错误分类，可用 errors.Is 判断
var (
	ErrMalformedHeader  = errors.New("malformed header")
	ErrUnknownCommandID = errors.New("unknown command id")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrTruncatedPayload = errors.New("truncated payload")
	// ErrMalformedPayload 载荷长度正确但内容越界（枚举值、字符串长度等）
	ErrMalformedPayload = errors.New("malformed payload")
)

// DecodeError 带出错位置的解码错误
type DecodeError struct {
	Kind   error
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode: %v at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("decode: %v at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func decodeErr(kind error, off int, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Offset: off, Detail: fmt.Sprintf(format, args...)}
}
