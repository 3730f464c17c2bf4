package body

import "github.com/tokmz/courier/pkg/errors"

var (
	// ErrSerialize 消息体无法转换为字节（源读取失败、值序列化失败等）
	ErrSerialize = errors.ErrSerialization.WithMessage("body: serialize failed")
	// ErrTransfer 写入出站字节流失败
	ErrTransfer = errors.ErrTransfer.WithMessage("body: write to sink failed")
	// ErrNotMultipart Content-Type 不是 multipart
	ErrNotMultipart = errors.ErrValidation.WithMessage("body: content type is not multipart")
)
