package ws

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/courier/pkg/config"
	"github.com/tokmz/courier/pkg/errors"
)

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(nil, opts...)
	require.NoError(t, err)
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func echo(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

// newServer 启动 WebSocket 测试服务，onConn 为 nil 时回显消息
func newServer(t *testing.T, up websocket.Upgrader, respHeader http.Header, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(wsHandler(up, respHeader, onConn))
	t.Cleanup(srv.Close)
	return srv
}

func wsHandler(up websocket.Upgrader, respHeader http.Header, onConn func(*websocket.Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, respHeader)
		if err != nil {
			return
		}
		defer conn.Close()
		if onConn != nil {
			onConn(conn)
			return
		}
		echo(conn)
	})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// silentServer 接受连接但从不响应
func silentServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	conns := make(chan net.Conn, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case c := <-conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return ln.Addr().String(), conns
}

type recordingMetrics struct {
	NoopMetrics
	handshakes  atomic.Int32
	failures    sync.Map
	connections atomic.Int32
	idle        atomic.Int32
	out         atomic.Int32
}

func (m *recordingMetrics) IncrementHandshakes() { m.handshakes.Add(1) }
func (m *recordingMetrics) IncrementHandshakeFailures(kind string) {
	v, _ := m.failures.LoadOrStore(kind, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
}
func (m *recordingMetrics) IncrementConnections()  { m.connections.Add(1) }
func (m *recordingMetrics) DecrementConnections()  { m.connections.Add(-1) }
func (m *recordingMetrics) IncrementIdleTimeouts() { m.idle.Add(1) }
func (m *recordingMetrics) IncrementMessageCount(direction string) {
	if direction == "out" {
		m.out.Add(1)
	}
}

func (m *recordingMetrics) failuresOf(kind string) int32 {
	v, ok := m.failures.Load(kind)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func TestHandshakeRejectsSchemeWithoutDialing(t *testing.T) {
	var dials atomic.Int32
	metrics := &recordingMetrics{}
	client := newTestClient(t,
		WithMetrics(metrics),
		WithNetDialContext(func(context.Context, string, string) (net.Conn, error) {
			dials.Add(1)
			return nil, stderrors.New("unexpected dial")
		}),
	)

	for _, raw := range []string{"http://127.0.0.1:1/", "HTTPS://example.com", "example.com:80", "/chat", ""} {
		f := client.Handshake(context.Background(), HandshakeRequest{URL: raw})

		res, ok := f.Result()
		require.True(t, ok, raw)
		assert.Equal(t, StateFailed, f.State(), raw)
		assert.Equal(t, errors.KindValidation, errors.KindOf(res.Err), raw)
		assert.Nil(t, res.Response)
	}
	assert.Zero(t, dials.Load())
	assert.Equal(t, int32(5), metrics.failuresOf("validation"))
}

func TestHandshakeRejectsReservedHeader(t *testing.T) {
	client := newTestClient(t)
	h := http.Header{}
	h.Set("Sec-WebSocket-Key", "x")

	f := client.Handshake(context.Background(), HandshakeRequest{URL: "ws://127.0.0.1:1", Header: h})
	res, ok := f.Result()
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, ErrInvalidConfig)
}

func TestHandshakeDefaultHostAndPort(t *testing.T) {
	tests := []struct {
		url  string
		addr string
	}{
		{"ws:///chat", "127.0.0.1:80"},
		{"wss:///chat", "127.0.0.1:443"},
		{"ws://example.com/chat", "example.com:80"},
		{"WSS://example.com", "example.com:443"},
		{"ws://example.com:8080", "example.com:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			dialed := make(chan string, 1)
			client := newTestClient(t, WithNetDialContext(func(_ context.Context, _ string, addr string) (net.Conn, error) {
				dialed <- addr
				return nil, stderrors.New("refused")
			}))

			_, err := client.Handshake(testContext(t), HandshakeRequest{URL: tt.url}).Wait(testContext(t))
			assert.ErrorIs(t, err, ErrDial)
			assert.Equal(t, errors.KindConnection, errors.KindOf(err))
			assert.Equal(t, tt.addr, <-dialed)
		})
	}
}

func TestHandshakeNegotiatesSubprotocol(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{Subprotocols: []string{"chat"}}, nil, nil)
	metrics := &recordingMetrics{}
	client := newTestClient(t, WithMetrics(metrics))

	received := make(chan string, 1)
	f := client.Handshake(testContext(t), HandshakeRequest{
		URL:          wsURL(srv),
		SubProtocols: "chat,super-chat",
		AutoRead:     true,
		Handler: FrameHandlerFuncs{
			Message: func(_ *Connection, _ int, data []byte) { received <- string(data) },
		},
	})

	res, err := f.Wait(testContext(t))
	require.NoError(t, err)
	require.True(t, res.Open())
	defer res.Conn.Close()

	assert.Equal(t, StateOpen, f.State())
	assert.Equal(t, "chat", res.SubProtocol)
	assert.Equal(t, "chat", res.Conn.Subprotocol())
	assert.Equal(t, http.StatusSwitchingProtocols, res.Response.StatusCode)
	assert.Len(t, res.Conn.ID(), 36)
	assert.True(t, res.Conn.Reading())
	assert.Equal(t, int32(1), metrics.connections.Load())

	require.NoError(t, res.Conn.WriteText("hello"))
	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}
	assert.Equal(t, int32(1), metrics.out.Load())
}

func TestHandshakeWithoutSubprotocol(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, nil)
	client := newTestClient(t)

	conn, err := client.Connect(testContext(t), HandshakeRequest{URL: wsURL(srv)})
	require.NoError(t, err)
	defer conn.Close()
	assert.Empty(t, conn.Subprotocol())
}

func TestHandshakeSubprotocolMismatch(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, http.Header{"Sec-Websocket-Protocol": {"other"}}, nil)
	metrics := &recordingMetrics{}
	client := newTestClient(t, WithMetrics(metrics))

	f := client.Handshake(testContext(t), HandshakeRequest{URL: wsURL(srv), SubProtocols: "chat"})
	res, err := f.Wait(testContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubprotocolMismatch)
	assert.Equal(t, errors.KindProtocol, errors.KindOf(err))
	assert.Equal(t, StateFailed, f.State())
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusSwitchingProtocols, res.Response.StatusCode)
	assert.Equal(t, int32(1), metrics.failuresOf("protocol"))
	assert.Zero(t, metrics.connections.Load())
}

func TestHandshakeRejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t)
	res, err := client.Handshake(testContext(t), HandshakeRequest{URL: wsURL(srv)}).Wait(testContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, errors.KindProtocol, errors.KindOf(err))

	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusForbidden, res.Response.StatusCode)
	data, _ := io.ReadAll(res.Response.Body)
	assert.Contains(t, string(data), "forbidden")
}

func TestHandshakeResponseTooLarge(t *testing.T) {
	addr, conns := silentServer(t)
	go func() {
		c := <-conns
		if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 101 Switching Protocols\r\nX-Padding: "+
			strings.Repeat("a", 10000)+"\r\n\r\n")
	}()

	client := newTestClient(t)
	_, err := client.Handshake(testContext(t), HandshakeRequest{URL: "ws://" + addr}).Wait(testContext(t))
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Equal(t, errors.KindProtocol, errors.KindOf(err))
}

func TestHandshakeTimeout(t *testing.T) {
	addr, _ := silentServer(t)
	client := newTestClient(t, WithHandshakeTimeout(100*time.Millisecond))

	_, err := client.Handshake(testContext(t), HandshakeRequest{URL: "ws://" + addr}).Wait(testContext(t))
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, errors.KindConnection, errors.KindOf(err))
}

func TestCancelDuringHandshake(t *testing.T) {
	addr, conns := silentServer(t)
	client := newTestClient(t)

	f := client.Handshake(testContext(t), HandshakeRequest{URL: "ws://" + addr})
	require.Eventually(t, func() bool { return f.State() == StateHandshakeSent }, 2*time.Second, 5*time.Millisecond)

	var calls atomic.Int32
	f.OnComplete(func(*HandshakeResult) { calls.Add(1) })

	assert.True(t, f.Cancel())
	assert.False(t, f.Cancel())
	assert.ErrorIs(t, f.NotifyError(ErrDial, nil), ErrAlreadyResolved)

	res, err := f.Wait(testContext(t))
	assert.ErrorIs(t, err, ErrHandshakeCanceled)
	assert.False(t, res.Open())
	assert.Equal(t, int32(1), calls.Load())

	// 服务端应看到连接被关闭
	sc := <-conns
	require.NoError(t, sc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.Copy(io.Discard, sc)
	assert.NoError(t, err)
}

func TestConnectGivesUpWhenContextEnds(t *testing.T) {
	addr, _ := silentServer(t)
	client := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	conn, err := client.Connect(ctx, HandshakeRequest{URL: "ws://" + addr})
	assert.Nil(t, conn)
	assert.Error(t, err)
}

func TestIdleTimeoutDisabled(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, nil)
	client := newTestClient(t)

	conn, err := client.Connect(testContext(t), HandshakeRequest{URL: wsURL(srv), IdleTimeout: 0})
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
		t.Fatal("connection closed without idle timeout")
	case <-time.After(150 * time.Millisecond):
	}
	assert.NoError(t, conn.WriteText("still here"))
	assert.NoError(t, conn.Err())
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, nil)
	metrics := &recordingMetrics{}
	client := newTestClient(t, WithMetrics(metrics))

	closed := make(chan error, 1)
	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL:         wsURL(srv),
		IdleTimeout: 100 * time.Millisecond,
		Handler: FrameHandlerFuncs{
			Close: func(_ *Connection, err error) { closed <- err },
		},
	})
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection not closed")
	}
	assert.ErrorIs(t, conn.Err(), ErrIdleTimeout)
	assert.ErrorIs(t, <-closed, ErrIdleTimeout)
	assert.ErrorIs(t, conn.WriteText("late"), ErrConnectionClosed)
	assert.Equal(t, int32(1), metrics.idle.Load())
	assert.Zero(t, metrics.connections.Load())
}

func TestIdleTimeoutRefreshedByTraffic(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, nil)
	client := newTestClient(t)

	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL:         wsURL(srv),
		IdleTimeout: 300 * time.Millisecond,
		AutoRead:    true,
	})
	require.NoError(t, err)
	defer conn.Close()

	for range 8 {
		require.NoError(t, conn.WriteText("ping"))
		time.Sleep(75 * time.Millisecond)
	}
	assert.NoError(t, conn.Err())
}

func TestIdleTimeoutDuringHandshake(t *testing.T) {
	addr, _ := silentServer(t)
	client := newTestClient(t)

	_, err := client.Handshake(testContext(t), HandshakeRequest{
		URL:         "ws://" + addr,
		IdleTimeout: 50 * time.Millisecond,
	}).Wait(testContext(t))
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Equal(t, errors.KindConnection, errors.KindOf(err))
}

func TestReadingStartsOnDemand(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("welcome")); err != nil {
			return
		}
		echo(conn)
	})
	client := newTestClient(t)

	received := make(chan string, 4)
	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL: wsURL(srv),
		Handler: FrameHandlerFuncs{
			Message: func(_ *Connection, _ int, data []byte) { received <- string(data) },
		},
	})
	require.NoError(t, err)
	defer conn.Close()
	assert.False(t, conn.Reading())

	select {
	case msg := <-received:
		t.Fatalf("unexpected message before StartReading: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, conn.StartReading())
	require.NoError(t, conn.StartReading())
	select {
	case msg := <-received:
		assert.Equal(t, "welcome", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after StartReading")
	}
}

func TestConnectionClose(t *testing.T) {
	serverErr := make(chan error, 1)
	srv := newServer(t, websocket.Upgrader{}, nil, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		serverErr <- err
	})
	client := newTestClient(t)

	var closes atomic.Int32
	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL:      wsURL(srv),
		AutoRead: true,
		Handler: FrameHandlerFuncs{
			Close: func(*Connection, error) { closes.Add(1) },
		},
	})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-serverErr:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
	assert.ErrorIs(t, conn.Err(), ErrConnectionClosed)
	assert.ErrorIs(t, conn.WriteJSON(map[string]int{"a": 1}), ErrConnectionClosed)
	assert.ErrorIs(t, conn.StartReading(), ErrConnectionClosed)
	assert.Equal(t, int32(1), closes.Load())
}

func TestWriteJSON(t *testing.T) {
	srv := newServer(t, websocket.Upgrader{}, nil, nil)
	client := newTestClient(t)

	received := make(chan []byte, 1)
	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL:      wsURL(srv),
		AutoRead: true,
		Handler: FrameHandlerFuncs{
			Message: func(_ *Connection, _ int, data []byte) { received <- data },
		},
	})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 7}))
	assert.JSONEq(t, `{"id":7}`, string(<-received))
	assert.ErrorIs(t, conn.WriteJSON(make(chan int)), ErrEncodeFailed)
	assert.NoError(t, conn.Ping([]byte("p")))
}

func certPEM(srv *httptest.Server) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
}

func TestHandshakeTLS(t *testing.T) {
	srv := httptest.NewTLSServer(wsHandler(websocket.Upgrader{Subprotocols: []string{"v2", "v1"}}, nil, nil))
	defer srv.Close()

	cfg, err := TLSConfigFromPEM(nil, nil, certPEM(srv))
	require.NoError(t, err)
	client := newTestClient(t, WithTLSConfig(cfg))

	conn, err := client.Connect(testContext(t), HandshakeRequest{
		URL:          "wss://" + srv.Listener.Addr().String(),
		SubProtocols: "v1, v2",
	})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "v2", conn.Subprotocol())
}

func TestHandshakeTLSUntrusted(t *testing.T) {
	srv := httptest.NewTLSServer(wsHandler(websocket.Upgrader{}, nil, nil))
	defer srv.Close()

	client := newTestClient(t, WithTLSConfig(&tls.Config{RootCAs: x509.NewCertPool()}))
	f := client.Handshake(testContext(t), HandshakeRequest{URL: "wss://" + srv.Listener.Addr().String()})
	_, err := f.Wait(testContext(t))
	assert.ErrorIs(t, err, ErrTLSHandshake)
	assert.Equal(t, errors.KindConnection, errors.KindOf(err))
}

func unsetTLSEnv(t *testing.T) {
	for _, k := range []string{"TLS_CERT", "TLS_KEY", "TLS_CA", "TLS_SERVER_NAME", "TLS_INSECURE_SKIP_VERIFY"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestTLSConfigFromEnv(t *testing.T) {
	srv := httptest.NewTLSServer(wsHandler(websocket.Upgrader{}, nil, nil))
	defer srv.Close()

	unsetTLSEnv(t)
	cfg, err := TLSConfigFromEnv()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	t.Setenv("TLS_CA", base64.StdEncoding.EncodeToString(certPEM(srv)))
	t.Setenv("TLS_SERVER_NAME", "example.com")
	cfg, err = TLSConfigFromEnv()
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "example.com", cfg.ServerName)

	client := newTestClient(t, WithTLSConfig(cfg))
	conn, err := client.Connect(testContext(t), HandshakeRequest{URL: "wss://" + srv.Listener.Addr().String()})
	require.NoError(t, err)
	_ = conn.Close()

	t.Setenv("TLS_CA", "!!not base64!!")
	_, err = TLSConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTLSConfigFromPEMInvalid(t *testing.T) {
	_, err := TLSConfigFromPEM([]byte("cert"), []byte("key"), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = TLSConfigFromPEM(nil, nil, []byte("not a certificate"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(nil, WithHandshakeTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	base := DefaultClientConfig()
	c, err := NewClient(base, WithMaxHandshakeResponseSize(1024), WithCompression(false))
	require.NoError(t, err)
	assert.Equal(t, 1024, c.Config().MaxHandshakeResponseSize)
	assert.False(t, c.Config().EnableCompression)
	assert.Equal(t, 8192, base.MaxHandshakeResponseSize)
}

func TestLoadClientConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ws:
  handshake_timeout: 5s
  enable_compression: false
  max_message_size: 1024
`), 0644))

	c := config.New(config.WithConfigFile(path))
	require.NoError(t, c.Load())

	cfg, err := LoadClientConfig(c, "ws")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.False(t, cfg.EnableCompression)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 8192, cfg.MaxHandshakeResponseSize)

	c.Set("ws.max_handshake_response_size", 0)
	_, err = LoadClientConfig(c, "ws")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
