package ws

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultHost = "127.0.0.1"

// target 握手目标
type target struct {
	url    *url.URL // 规范化后的地址，scheme 小写且带端口
	host   string
	port   int
	secure bool
}

func (t *target) addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// DefaultPort 返回 scheme 的默认端口，未知 scheme 返回 -1
func DefaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "ws":
		return 80
	case "wss":
		return 443
	default:
		return -1
	}
}

// parseTarget 解析并校验握手地址
// 缺省 host 为 127.0.0.1，缺省端口按 scheme 取 80/443
func parseTarget(raw string) (*target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidURL.WithError(err)
	}
	if u.Scheme == "" {
		return nil, ErrInvalidScheme.WithMessage("ws: missing scheme in " + strconv.Quote(raw))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, ErrInvalidScheme.WithMessage(fmt.Sprintf("ws: unsupported scheme %q", u.Scheme))
	}
	if u.Opaque != "" {
		return nil, ErrInvalidURL.WithMessage("ws: opaque url not allowed")
	}
	if u.User != nil {
		return nil, ErrInvalidURL.WithMessage("ws: userinfo not allowed")
	}

	host := u.Hostname()
	if host == "" {
		host = defaultHost
	}

	port := DefaultPort(scheme)
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, ErrInvalidURL.WithMessage("ws: invalid port " + strconv.Quote(p))
		}
		port = n
	}
	if port < 0 {
		return nil, ErrUnknownPort
	}

	t := &target{host: host, port: port, secure: scheme == "wss"}
	normalized := *u
	normalized.Scheme = scheme
	normalized.Host = t.addr()
	t.url = &normalized
	return t, nil
}
