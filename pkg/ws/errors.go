package ws

import "github.com/tokmz/courier/pkg/errors"

// 错误定义
var (
	// 参数校验错误，在任何网络活动前失败
	ErrInvalidURL    = errors.New(4001, errors.KindValidation, "ws: invalid url", 400)
	ErrInvalidScheme = errors.New(4002, errors.KindValidation, "ws: scheme must be ws or wss", 400)
	ErrUnknownPort   = errors.New(4003, errors.KindValidation, "ws: cannot determine port", 400)
	ErrInvalidConfig = errors.New(4004, errors.KindValidation, "ws: invalid config", 400)

	// 连接错误
	ErrDial              = errors.New(4101, errors.KindConnection, "ws: dial failed")
	ErrTLSHandshake      = errors.New(4102, errors.KindConnection, "ws: tls handshake failed")
	ErrHandshakeTimeout  = errors.New(4103, errors.KindConnection, "ws: handshake timed out")
	ErrIdleTimeout       = errors.New(4104, errors.KindConnection, "ws: connection idle timeout")
	ErrHandshakeCanceled = errors.New(4105, errors.KindConnection, "ws: handshake canceled")

	// 协议错误
	ErrHandshakeRejected   = errors.New(4201, errors.KindProtocol, "ws: handshake rejected by server")
	ErrSubprotocolMismatch = errors.New(4202, errors.KindProtocol, "ws: invalid subprotocol")
	ErrResponseTooLarge    = errors.New(4203, errors.KindProtocol, "ws: handshake response too large")
	ErrHandshakeFailed     = errors.New(4204, errors.KindProtocol, "ws: handshake failed")

	// 连接生命周期
	ErrAlreadyResolved  = errors.New(4301, errors.KindValidation, "ws: handshake result already resolved", 409)
	ErrConnectionClosed = errors.New(4302, errors.KindTransfer, "ws: connection closed")
	ErrWriteFailed      = errors.New(4303, errors.KindTransfer, "ws: write failed")
	ErrEncodeFailed     = errors.New(4304, errors.KindSerialization, "ws: encode message failed")
)
