package courier

import "github.com/gin-gonic/gin"

// HandlerFunc 路由处理函数和中间件函数
// 中间件需要调用 c.Next() 来继续执行后续处理
type HandlerFunc func(*Context)

// wrap 将 HandlerFunc 转换为 gin.HandlerFunc
func wrap(fn HandlerFunc) gin.HandlerFunc {
	if fn == nil {
		panic("courier: handler/middleware cannot be nil")
	}
	return func(c *gin.Context) {
		fn(&Context{ctx: c})
	}
}

// wrapAll 批量转换，handler 放在中间件之后
func wrapAll(handler HandlerFunc, middlewares ...HandlerFunc) []gin.HandlerFunc {
	wrapped := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	for _, m := range middlewares {
		wrapped = append(wrapped, wrap(m))
	}
	if handler != nil {
		wrapped = append(wrapped, wrap(handler))
	}
	return wrapped
}
