package middleware

import "github.com/tokmz/courier/pkg/errors"

var (
	// ErrTooManyRequests 触发限流
	ErrTooManyRequests = errors.New(1429, errors.KindValidation, "too many requests", 429)
	// ErrRequestTimeout 处理超时
	ErrRequestTimeout = errors.New(1408, errors.KindTransfer, "request timeout", 408)
)
