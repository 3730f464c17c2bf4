package errors

import "errors"

// Kind 错误分类
type Kind uint8

const (
	// KindUnknown 未分类错误
	KindUnknown Kind = iota
	// KindValidation 参数校验错误（非法 URI、不支持的 scheme），在任何网络活动前失败，不重试
	KindValidation
	// KindConnection 连接错误（DNS、socket、TLS）
	KindConnection
	// KindProtocol 协议错误（握手响应非法或被拒绝）
	KindProtocol
	// KindTransfer 传输错误（写出响应体时 I/O 失败）
	KindTransfer
	// KindSerialization 序列化错误（消息体无法转换为字节）
	KindSerialization
)

// String 返回分类名称
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindTransfer:
		return "transfer"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind     Kind   `json:"-"`       // 错误分类
	Code     int    `json:"code"`    // 错误码
	Message  string `json:"message"` // 错误信息
	HttpCode int    `json:"-"`       // http状态码
	Err      error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
// 存在原始错误时追加在信息之后
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// code 错误码
// kind 错误分类
// message 错误信息
// httpCode 可选http状态码，默认500
func New(code int, kind Kind, message string, httpCode ...int) *Error {
	hc := 500
	if len(httpCode) > 0 {
		hc = httpCode[0]
	}
	return &Error{
		Kind:     kind,
		Code:     code,
		HttpCode: hc,
		Message:  message,
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	c := *e
	return &c
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 添加错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// WithKind 修改分类（返回新实例，不修改原错误）
func (e *Error) WithKind(kind Kind) *Error {
	c := e.Clone()
	c.Kind = kind
	return c
}

// Is 检查错误是否为指定类型
// 当 target 也是 *Error 时，比较 Code 是否相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Code == t.Code
	}
	return false
}

// KindOf 返回错误链上第一个 *Error 的分类
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As 转换为指定类型的错误
// err 待转换错误
// target 目标错误类型指针（必须是指针类型）
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
// err 待检查错误
// target 目标错误类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}
