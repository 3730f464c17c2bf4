package http1

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/config"
	"github.com/tokmz/courier/pkg/dispatch"
)

type pipeClient struct {
	net.Conn
	br *bufio.Reader
}

func (c *pipeClient) send(t *testing.T, raw string) {
	t.Helper()
	go func() {
		_, _ = io.WriteString(c.Conn, raw)
	}()
}

func (c *pipeClient) read(t *testing.T, method string) (*http.Response, string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := http.ReadResponse(c.br, &http.Request{Method: method})
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(data)
}

func startConn(t *testing.T, h HandlerFunc, mutate ...func(*Config)) *pipeClient {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(cfg)
	}
	srv, err := NewServer(cfg, h)
	require.NoError(t, err)

	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeConn(ctx, server)
	}()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		<-done
	})
	return &pipeClient{Conn: client, br: bufio.NewReader(client)}
}

func get(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\n\r\n"
}

func TestPipelinedResponsesInRequestOrder(t *testing.T) {
	var mu sync.Mutex
	var finished []string

	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		if req.URL.Path == "/slow" {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		finished = append(finished, req.URL.Path)
		mu.Unlock()
		res.Text(http.StatusOK, strings.TrimPrefix(req.URL.Path, "/"))
	})

	c.send(t, get("/slow")+get("/fast")+get("/json"))

	_, b1 := c.read(t, http.MethodGet)
	_, b2 := c.read(t, http.MethodGet)
	_, b3 := c.read(t, http.MethodGet)
	assert.Equal(t, []string{"slow", "fast", "json"}, []string{b1, b2, b3})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/slow", finished[len(finished)-1], "handlers run concurrently")
}

func TestChunkedJSONResponse(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		res.JSON(http.StatusCreated, map[string]any{"id": 1, "tags": []any{"a", "b"}})
	})

	c.send(t, get("/"))
	resp, data := c.read(t, http.MethodGet)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"id":1,"tags":["a","b"]}`, data)
}

func TestSerializationErrorUsesTrailer(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		if req.URL.Path == "/bad" {
			res.Send(dispatch.NewMessage(http.StatusOK, body.Value(body.SerializableFunc(func(w io.Writer) error {
				_, _ = io.WriteString(w, "partial")
				return errors.New("encoder\r\nbroke")
			}))))
			return
		}
		res.Text(http.StatusOK, "ok")
	})

	c.send(t, get("/bad")+get("/ok"))

	resp, data := c.read(t, http.MethodGet)
	assert.Equal(t, "partial", data)
	assert.Contains(t, resp.Trailer.Get(BodyErrorTrailer), "encoder  broke")

	_, data = c.read(t, http.MethodGet)
	assert.Equal(t, "ok", data, "connection survives a failed body")
}

func TestBodylessResponses(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		switch req.URL.Path {
		case "/nocontent":
			res.Text(http.StatusNoContent, "ignored")
		default:
			res.Text(http.StatusOK, "hello")
		}
	})

	c.send(t, "HEAD / HTTP/1.1\r\nHost: test\r\n\r\n"+get("/nocontent")+get("/"))

	resp, data := c.read(t, http.MethodHead)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, data)

	resp, data = c.read(t, http.MethodGet)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, data)

	_, data = c.read(t, http.MethodGet)
	assert.Equal(t, "hello", data)
}

func TestRequestBodyDelivered(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		res.Text(http.StatusOK, strings.ToUpper(string(data)))
	})

	c.send(t, "POST / HTTP/1.1\r\nHost: test\r\nContent-Length: 5\r\n\r\nhello"+get("/"))
	_, data := c.read(t, http.MethodPost)
	assert.Equal(t, "HELLO", data)
	_, data = c.read(t, http.MethodGet)
	assert.Equal(t, "", data)
}

func TestBodyTooLarge(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		t.Error("handler must not run")
	}, func(cfg *Config) {
		cfg.MaxBodyBytes = 4
	})

	c.send(t, "POST / HTTP/1.1\r\nHost: test\r\nContent-Length: 10\r\n\r\n0123456789")
	resp, _ := c.read(t, http.MethodPost)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestConnectionClose(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		res.Text(http.StatusOK, "bye")
	})

	c.send(t, "GET / HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	resp, data := c.read(t, http.MethodGet)
	assert.Equal(t, "bye", data)
	assert.True(t, resp.Close)

	_, err := c.br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHTTP10ResponseEndsWithClose(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		res.Text(http.StatusOK, "legacy")
	})

	c.send(t, "GET / HTTP/1.0\r\n\r\n")
	resp, data := c.read(t, http.MethodGet)
	assert.Equal(t, "HTTP/1.0", resp.Proto)
	assert.Empty(t, resp.TransferEncoding)
	assert.Equal(t, "legacy", data)
}

func TestHTTP10KeepAliveStillCloses(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		res.Text(http.StatusOK, "legacy")
	})

	c.send(t, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	resp, data := c.read(t, http.MethodGet)
	assert.Equal(t, "legacy", data)
	assert.True(t, resp.Close)
	assert.Equal(t, "close", resp.Header.Get("Connection"))

	_, err := c.br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSingleHandlerSlotKeepsPipelineMoving(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		if req.URL.Path == "/slow" {
			time.Sleep(100 * time.Millisecond)
		}
		// 等待写出完成，期间持有处理器名额
		<-res.Text(http.StatusOK, strings.TrimPrefix(req.URL.Path, "/")).Done()
	}, func(cfg *Config) {
		cfg.MaxConcurrentHandlers = 1
	})

	c.send(t, get("/slow")+get("/a")+get("/b")+get("/c"))
	for _, want := range []string{"slow", "a", "b", "c"} {
		_, data := c.read(t, http.MethodGet)
		assert.Equal(t, want, data)
	}
}

func TestHandlerFallbacks(t *testing.T) {
	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		switch req.URL.Path {
		case "/panic":
			panic("boom")
		case "/silent":
			return
		}
		res.Status(http.StatusAccepted)
	})

	c.send(t, get("/panic")+get("/silent")+get("/"))

	resp, _ := c.read(t, http.MethodGet)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp, _ = c.read(t, http.MethodGet)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp, _ = c.read(t, http.MethodGet)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int64(0), resp.ContentLength)
}

func TestPipelineDepthBounded(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	running := 0
	peak := 0

	c := startConn(t, func(ctx context.Context, req *http.Request, res *Responder) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		res.Status(http.StatusOK)
	}, func(cfg *Config) {
		cfg.MaxPipelineDepth = 2
	})

	c.send(t, strings.Repeat(get("/"), 5))
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range 5 {
		resp, _ := c.read(t, http.MethodGet)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestServeWithStdClient(t *testing.T) {
	states := make(chan ConnState, 16)
	srv, err := NewServer(DefaultConfig(), HandlerFunc(func(ctx context.Context, req *http.Request, res *Responder) {
		res.Send(dispatch.Multipart(http.StatusOK, "mixed",
			body.NewPart("text/plain", body.String("one")),
			body.NewPart("application/json", body.JSON([]any{2})),
		))
	}), WithConnState(func(_ string, s ConnState) {
		select {
		case states <- s:
		default:
		}
	}))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/", ln.Addr()))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/mixed; boundary="))
	assert.Contains(t, string(data), "one")
	assert.Empty(t, resp.Trailer.Get(BodyErrorTrailer))
	assert.Equal(t, StateNew, <-states)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-served)

	assert.ErrorIs(t, srv.Serve(context.Background(), ln), ErrServerClosed)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
  max_pipeline_depth: 4
  read_timeout: 2s
`), 0644))

	c := config.New(config.WithConfigFile(path))
	require.NoError(t, c.Load())

	cfg, err := LoadConfig(c, "http")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 4, cfg.MaxPipelineDepth)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, DefaultConfig().MaxBodyBytes, cfg.MaxBodyBytes)

	c.Set("http.max_pipeline_depth", -1)
	_, err = LoadConfig(c, "http")
	assert.Error(t, err)
}
