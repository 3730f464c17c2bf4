package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokmz/courier"
	"github.com/tokmz/courier/pkg/http1"
)

// CORSConfig CORS 中间件配置
type CORSConfig struct {
	// AllowOrigins 允许的源，支持 "https://*.example.com" 形式的通配
	AllowOrigins []string `mapstructure:"allow_origins"`

	AllowMethods []string `mapstructure:"allow_methods"`
	AllowHeaders []string `mapstructure:"allow_headers"`

	// ExposeHeaders 前端可读取的响应头，X-Body-Error 总是附加
	ExposeHeaders []string `mapstructure:"expose_headers"`

	// AllowCredentials 为 true 时 AllowOrigins 不能为 ["*"]
	AllowCredentials bool `mapstructure:"allow_credentials"`

	MaxAge time.Duration `mapstructure:"max_age"`
}

// DefaultCORSConfig 返回默认配置（允许所有源）
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
}

// originMatcher 预处理后的源匹配规则
type originMatcher struct {
	any       bool
	exact     map[string]struct{}
	wildcards [][2]string
}

func newOriginMatcher(origins []string) *originMatcher {
	m := &originMatcher{exact: make(map[string]struct{})}
	for _, o := range origins {
		switch {
		case o == "*":
			m.any = true
		case strings.Contains(o, "*"):
			prefix, suffix, _ := strings.Cut(o, "*")
			m.wildcards = append(m.wildcards, [2]string{prefix, suffix})
		default:
			m.exact[o] = struct{}{}
		}
	}
	return m
}

func (m *originMatcher) match(origin string) bool {
	if m.any {
		return true
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, w := range m.wildcards {
		if len(origin) > len(w[0])+len(w[1]) &&
			strings.HasPrefix(origin, w[0]) && strings.HasSuffix(origin, w[1]) {
			return true
		}
	}
	return false
}

// CORS 创建 CORS 中间件，预检请求直接以 204 结束
func CORS(cfgs ...*CORSConfig) courier.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	matcher := newOriginMatcher(cfg.AllowOrigins)
	if cfg.AllowCredentials && matcher.any {
		panic(`courier/middleware: CORS AllowCredentials cannot be used with AllowOrigins ["*"]`)
	}

	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(append(append([]string(nil), cfg.ExposeHeaders...), http1.BodyErrorTrailer), ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *courier.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !matcher.match(origin) {
			c.Next()
			return
		}

		if matcher.any {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", exposeHeaders)

		if c.Request().Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.Abort()
			_ = c.Status(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
