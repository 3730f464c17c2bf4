package courier

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterGroup 路由组
type RouterGroup struct {
	group *gin.RouterGroup
}

// ============ 路由组管理 ============

// Group 创建子路由组
func (rg *RouterGroup) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		group: rg.group.Group(path, wrapAll(nil, middlewares...)...),
	}
}

// Use 注册中间件
func (rg *RouterGroup) Use(middlewares ...HandlerFunc) {
	rg.group.Use(wrapAll(nil, middlewares...)...)
}

// BasePath 路由组前缀
func (rg *RouterGroup) BasePath() string {
	return rg.group.BasePath()
}

// ============ 基础路由方法 ============

// Handle 注册任意方法的路由
func (rg *RouterGroup) Handle(method, path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.Handle(method, path, wrapAll(handler, middlewares...)...)
}

// GET 注册 GET 路由
func (rg *RouterGroup) GET(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodGet, path, handler, middlewares...)
}

// POST 注册 POST 路由
func (rg *RouterGroup) POST(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodPost, path, handler, middlewares...)
}

// PUT 注册 PUT 路由
func (rg *RouterGroup) PUT(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodPut, path, handler, middlewares...)
}

// DELETE 注册 DELETE 路由
func (rg *RouterGroup) DELETE(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodDelete, path, handler, middlewares...)
}

// PATCH 注册 PATCH 路由
func (rg *RouterGroup) PATCH(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodPatch, path, handler, middlewares...)
}

// HEAD 注册 HEAD 路由
func (rg *RouterGroup) HEAD(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.Handle(http.MethodHead, path, handler, middlewares...)
}

// Any 注册所有 HTTP 方法的路由
func (rg *RouterGroup) Any(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.Any(path, wrapAll(handler, middlewares...)...)
}

// ============ 泛型路由（自动绑定 + 自动响应）============

// RouteRegister 路由注册函数类型，如 rg.GET
type RouteRegister func(path string, handler HandlerFunc, middlewares ...HandlerFunc)

// Handle 有请求参数，有响应数据
// 自动绑定请求参数，响应以统一结构流式写出
func Handle[Req any, Resp any](register RouteRegister, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	wrappedHandler := func(c *Context) {
		var req Req
		if err := autoBind(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		resp, err := handler(c, &req)
		if err != nil {
			_ = c.Error(err)
			return
		}
		_ = c.Success(resp)
	}
	register(path, wrappedHandler, middlewares...)
}

// HandleOnly 无请求参数，有响应数据
func HandleOnly[Resp any](register RouteRegister, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	wrappedHandler := func(c *Context) {
		resp, err := handler(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		_ = c.Success(resp)
	}
	register(path, wrappedHandler, middlewares...)
}

// autoBind 根据请求方法自动选择绑定策略
func autoBind(c *Context, obj any) error {
	switch c.Request().Method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if err := c.ShouldBindQuery(obj); err != nil {
			return c.wrapBindError(err)
		}
	default:
		// ShouldBind 根据 Content-Type 选择 JSON/XML/Form/Multipart
		if err := c.ShouldBind(obj); err != nil {
			return c.wrapBindError(err)
		}
	}
	// URI 绑定失败不阻断（路由可能没有 URI 参数）
	_ = c.ShouldBindUri(obj)
	return nil
}
