package http1

import "github.com/tokmz/courier/pkg/errors"

var (
	// ErrConnBroken 连接写出失败后不再接受响应
	ErrConnBroken = errors.New(3101, errors.KindTransfer, "http1: connection broken")
	// ErrServerClosed 服务已关闭
	ErrServerClosed = errors.New(3102, errors.KindConnection, "http1: server closed")
	// ErrNoResponse 处理器返回前没有发送响应
	ErrNoResponse = errors.New(3103, errors.KindUnknown, "http1: handler returned without responding")
)
