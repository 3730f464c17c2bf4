package errors

/*
	内置常用错误码
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, KindUnknown, "server error", 500)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, KindValidation, "bad request", 400)

	// ErrValidation 参数校验失败
	ErrValidation = New(2001, KindValidation, "validation failed", 400)
	// ErrConnection 建立连接失败
	ErrConnection = New(2002, KindConnection, "connection failed", 502)
	// ErrProtocol 协议违例
	ErrProtocol = New(2003, KindProtocol, "protocol violation", 502)
	// ErrTransfer 响应体传输失败
	ErrTransfer = New(2004, KindTransfer, "transfer failed", 500)
	// ErrSerialization 消息体序列化失败
	ErrSerialization = New(2005, KindSerialization, "serialization failed", 500)
)
