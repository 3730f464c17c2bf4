package config

import "github.com/tokmz/courier/pkg/errors"

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(1101, errors.KindValidation, "config: file not found")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(1102, errors.KindValidation, "config: read failed")
	// ErrDecodeFailed 配置段反序列化失败
	ErrDecodeFailed = errors.New(1103, errors.KindValidation, "config: decode failed")
)
