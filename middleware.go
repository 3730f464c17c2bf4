package courier

import (
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/logger"
)

// Recovery 创建 panic 恢复中间件
// panic 时返回统一响应格式（500），并记录错误日志
func Recovery(log logger.Logger) HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}

	return func(c *Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			// 客户端主动断开
			if isBrokenPipe(err) {
				log.Warn("broken pipe",
					zap.Any("error", err),
					zap.String("path", c.Request().URL.Path),
				)
				c.Abort()
				return
			}

			log.Error("panic recovered",
				zap.Any("error", err),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.String("stack", string(debug.Stack())),
			)

			c.Abort()
			if !c.Writer().Written() {
				_ = c.respond(http.StatusInternalServerError,
					Fail(http.StatusInternalServerError, "Internal Server Error"))
			}
		}()
		c.Next()
	}
}

// isBrokenPipe 检查是否为断开的连接错误
func isBrokenPipe(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	if stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne *net.OpError
	if !stderrors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !stderrors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
