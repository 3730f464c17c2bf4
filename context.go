package courier

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/dispatch"
	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/http1"
	"github.com/tokmz/courier/pkg/logger"
	"github.com/tokmz/courier/pkg/tracing"
)

const (
	// ContextUidKey 用户uid键
	ContextUidKey = "courier:uid"
)

// Context 包装 gin.Context，响应统一经由 Dispatcher 写出
type Context struct {
	ctx *gin.Context
}

// NewContext 创建新的上下文（用于测试）
func NewContext(c *gin.Context) *Context {
	return &Context{ctx: c}
}

// ============ Gin Context 访问方法 ============

// Gin 返回底层 gin.Context
func (c *Context) Gin() *gin.Context {
	return c.ctx
}

// Request 返回底层的 *http.Request
func (c *Context) Request() *http.Request {
	return c.ctx.Request
}

// Writer 返回底层的 ResponseWriter
func (c *Context) Writer() gin.ResponseWriter {
	return c.ctx.Writer
}

// Param 获取路径参数
func (c *Context) Param(key string) string {
	return c.ctx.Param(key)
}

// FullPath 获取路由模板路径（如 /users/:id）
func (c *Context) FullPath() string {
	return c.ctx.FullPath()
}

// Query 获取 URL 查询参数
func (c *Context) Query(key string) string {
	return c.ctx.Query(key)
}

// DefaultQuery 获取 URL 查询参数（带默认值）
func (c *Context) DefaultQuery(key, defaultValue string) string {
	return c.ctx.DefaultQuery(key, defaultValue)
}

// PostForm 获取 POST 表单参数
func (c *Context) PostForm(key string) string {
	return c.ctx.PostForm(key)
}

// ShouldBind 绑定请求参数（不自动响应错误）
func (c *Context) ShouldBind(obj any) error {
	return c.ctx.ShouldBind(obj)
}

// ShouldBindJSON 绑定 JSON 请求体（不自动响应错误）
func (c *Context) ShouldBindJSON(obj any) error {
	return c.ctx.ShouldBindJSON(obj)
}

// ShouldBindQuery 绑定 URL 查询参数（不自动响应错误）
func (c *Context) ShouldBindQuery(obj any) error {
	return c.ctx.ShouldBindQuery(obj)
}

// ShouldBindUri 绑定路径参数（不自动响应错误）
func (c *Context) ShouldBindUri(obj any) error {
	return c.ctx.ShouldBindUri(obj)
}

// Set 设置上下文键值对
func (c *Context) Set(key string, value any) {
	c.ctx.Set(key, value)
}

// Get 获取上下文键值对
func (c *Context) Get(key string) (any, bool) {
	return c.ctx.Get(key)
}

// GetString 获取字符串类型的上下文值
func (c *Context) GetString(key string) string {
	return c.ctx.GetString(key)
}

// GetInt64 获取 int64 类型的上下文值
func (c *Context) GetInt64(key string) int64 {
	return c.ctx.GetInt64(key)
}

// Next 执行下一个中间件或处理函数
func (c *Context) Next() {
	c.ctx.Next()
}

// Abort 中止请求处理
func (c *Context) Abort() {
	c.ctx.Abort()
}

// IsAborted 检查请求是否已中止
func (c *Context) IsAborted() bool {
	return c.ctx.IsAborted()
}

// ClientIP 获取客户端 IP
func (c *Context) ClientIP() string {
	return c.ctx.ClientIP()
}

// GetHeader 获取请求头
func (c *Context) GetHeader(key string) string {
	return c.ctx.GetHeader(key)
}

// Header 设置响应头，随下一次 Send 一起写出
func (c *Context) Header(key, value string) {
	c.ctx.Header(key, value)
}

// ============ 请求绑定方法 ============

// Bind 自动绑定请求参数（根据 Content-Type 自动选择）
// 绑定失败时自动响应错误，用户只需判断 err != nil 并 return
func (c *Context) Bind(obj any) error {
	if err := c.ctx.ShouldBind(obj); err != nil {
		wrappedErr := c.wrapBindError(err)
		c.Error(wrappedErr)
		return wrappedErr
	}
	return nil
}

// BindJSON 绑定 JSON 请求体
// 绑定失败时自动响应错误
func (c *Context) BindJSON(obj any) error {
	if err := c.ctx.ShouldBindJSON(obj); err != nil {
		wrappedErr := c.wrapBindError(err)
		c.Error(wrappedErr)
		return wrappedErr
	}
	return nil
}

// wrapBindError 包装绑定错误
func (c *Context) wrapBindError(err error) error {
	return errors.ErrBadRequest.WithError(err)
}

// ============ 响应方法 ============

// Send 写出响应并等待写完
// 运行在 http1 流水线上时交给连接的 Dispatcher 按请求顺序写出；
// 否则经单请求 Dispatcher 写到 gin 的 ResponseWriter。
// 先前通过 Header 设置的响应头会合并进 msg
func (c *Context) Send(msg *dispatch.Message) error {
	if msg == nil {
		return dispatch.ErrNilMessage
	}
	if msg.Header == nil {
		msg.Header = make(http.Header)
	}
	for k, vs := range c.ctx.Writer.Header() {
		if _, ok := msg.Header[k]; !ok {
			msg.Header[k] = vs
		}
	}

	if res := responderFrom(c.ctx.Request.Context()); res != nil {
		c.ctx.Status(msg.StatusCode)
		c.ctx.Writer.WriteHeaderNow()
		h := res.Send(msg)
		<-h.Done()
		return c.record(h.Err())
	}

	d := dispatch.New(&writerTransport{w: c.ctx.Writer, head: c.ctx.Request.Method == http.MethodHead},
		dispatch.WithLogger(c.Logger()))
	ex := d.Accept(c.ctx.Request.Context(), c.ctx.Request)
	h := d.SendResponse(ex, msg)
	// 写出在 Dispatcher 的协程上进行，返回前必须等待，之后 ResponseWriter 不再可用
	<-h.Done()
	return c.record(h.Err())
}

func (c *Context) record(err error) error {
	if err != nil {
		_ = c.ctx.Error(err)
		c.Logger().WarnContext(c.ctx.Request.Context(), "send response failed",
			zap.String("path", c.ctx.Request.URL.Path),
			zap.String("kind", errors.KindOf(err).String()),
			zap.Error(err))
	}
	return err
}

// JSON 发送 JSON 响应，JSON 文档边生成边写出
func (c *Context) JSON(code int, obj any) error {
	return c.Send(dispatch.JSON(code, obj))
}

// Bytes 发送原始字节
func (c *Context) Bytes(code int, contentType string, b []byte) error {
	return c.Send(dispatch.NewMessage(code, body.Bytes(b)).WithContentType(contentType))
}

// Text 发送纯文本
func (c *Context) Text(code int, s string) error {
	return c.Send(dispatch.NewMessage(code, body.String(s)).WithContentType("text/plain; charset=utf-8"))
}

// Stream 从 r 流式发送，r 实现 io.Closer 时写完后关闭
func (c *Context) Stream(code int, contentType string, r io.Reader) error {
	return c.Send(dispatch.NewMessage(code, body.Raw(r)).WithContentType(contentType))
}

// Multipart 发送 multipart 响应，subtype 为空时使用 mixed
func (c *Context) Multipart(code int, subtype string, parts ...*body.Part) error {
	return c.Send(dispatch.Multipart(code, subtype, parts...))
}

// Status 发送无消息体响应
func (c *Context) Status(code int) error {
	return c.Send(dispatch.NewMessage(code, body.Empty()))
}

// Success 成功响应
func (c *Context) Success(data any) error {
	return c.respond(http.StatusOK, Success(data))
}

// Fail 失败响应
func (c *Context) Fail(code int, message string) error {
	return c.respond(http.StatusOK, Fail(code, message))
}

// Error 错误响应，*errors.Error 使用其错误码与 HTTP 状态码
func (c *Context) Error(err error) error {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		return c.respond(bizErr.HttpCode, NewResponse(bizErr.Code, nil, bizErr.Message))
	}

	// 未知错误 - 使用 ErrServer 的错误码和 HTTP 状态码，但保留原始错误信息
	message := errors.ErrServer.Message
	if err != nil {
		message = err.Error()
	}
	return c.respond(errors.ErrServer.HttpCode, NewResponse(errors.ErrServer.Code, nil, message))
}

// respond 统一响应处理（自动添加 TraceID）
func (c *Context) respond(statusCode int, resp *Response) error {
	if traceID := c.TraceID(); traceID != "" {
		resp.WithTraceID(traceID)
	}
	return c.JSON(statusCode, resp)
}

// SetRequestContext 替换请求的 context
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}

// TraceID 当前请求的链路追踪 ID
func (c *Context) TraceID() string {
	return c.ctx.GetString(tracing.TraceIDKey)
}

// SetUid 设置当前用户 uid
func (c *Context) SetUid(uid int64) {
	c.ctx.Set(ContextUidKey, uid)
}

// Uid 当前用户 uid
func (c *Context) Uid() int64 {
	return c.ctx.GetInt64(ContextUidKey)
}

// Logger 请求级 Logger，未安装日志中间件时返回空实现
func (c *Context) Logger() logger.Logger {
	return logger.FromContext(c.ctx.Request.Context(), logger.Nop())
}

// RequestContext 返回标准库 context.Context，用于传递给 Service 层
// TraceID 和 UID 使用 logger 包的 key，确保 logger 的 *Context 方法能提取
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()
	if traceID := c.TraceID(); traceID != "" {
		ctx = logger.WithTraceID(ctx, traceID)
	}
	if uid := c.Uid(); uid != 0 {
		ctx = logger.WithUID(ctx, uid)
	}
	return ctx
}

// responderKey 请求 context 中保存 http1.Responder 的键
type responderKey struct{}

func responderFrom(ctx context.Context) *http1.Responder {
	res, _ := ctx.Value(responderKey{}).(*http1.Responder)
	return res
}
