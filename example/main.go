package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/courier"
	"github.com/tokmz/courier/middleware"
	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/logger"
	"github.com/tokmz/courier/pkg/tracing"
	"github.com/tokmz/courier/pkg/ws"
)

// EchoReq 回显请求
type EchoReq struct {
	Text string `json:"text" binding:"required"`
}

// EchoResp 回显响应
type EchoResp struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

var upgrader = websocket.Upgrader{Subprotocols: []string{"echo.v1"}}

func main() {
	// 1. 日志与链路追踪
	log, err := logger.NewWithOptions(
		logger.WithLevel(logger.DebugLevel),
		logger.WithFormat(logger.ConsoleFormat),
		logger.WithConsoleOutput(),
		logger.WithCaller(true),
		logger.WithTraceFields("trace_id", "span_id"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer log.Sync()

	cfg := tracing.DefaultConfig()
	cfg.ServiceName = "courier-example"
	cfg.Enabled = os.Getenv("TRACING") != ""
	if _, err := tracing.NewTracerProvider(context.Background(), cfg); err != nil {
		log.Fatal("init tracing failed", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	// 2. 路由
	engine := courier.Default(courier.WithLogger(log))
	engine.Use(middleware.CORS(), middleware.RateLimiter())
	v1 := engine.Group("/api/v1", middleware.Timeout(&middleware.TimeoutConfig{Timeout: 5 * time.Second}))
	{
		courier.Handle(v1.POST, "/echo", func(c *courier.Context, req *EchoReq) (*EchoResp, error) {
			return &EchoResp{Text: req.Text, At: time.Now()}, nil
		})
		v1.GET("/bundle", func(c *courier.Context) {
			_ = c.Multipart(http.StatusOK, "mixed",
				body.NewPart("application/json", body.JSON(map[string]any{"part": 1})),
				body.NewPart("text/plain", body.String("second part")),
			)
		})
		v1.GET("/teapot", func(c *courier.Context) {
			_ = c.Error(errors.New(4180, errors.KindValidation, "short and stout", http.StatusTeapot))
		})
	}
	engine.RouterGroup().GET("/ws", func(c *courier.Context) {
		conn, err := upgrader.Upgrade(c.Writer(), c.Request(), nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := engine.Serve(ctx, ln); err != nil {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	// 3. WebSocket 客户端握手
	client, err := ws.NewClient(ws.DefaultClientConfig(), ws.WithLogger(log))
	if err != nil {
		log.Fatal("create ws client failed", zap.Error(err))
	}
	future := client.Handshake(ctx, ws.HandshakeRequest{
		URL:          "ws://" + ln.Addr().String() + "/ws",
		SubProtocols: "echo.v1",
		IdleTimeout:  30 * time.Second,
		AutoRead:     true,
		Handler: ws.FrameHandlerFuncs{
			Message: func(c *ws.Connection, mt int, data []byte) {
				log.Info("ws message", zap.String("id", c.ID()), zap.ByteString("data", data))
			},
		},
	})
	future.OnComplete(func(res *ws.HandshakeResult) {
		if !res.Open() {
			log.Warn("ws handshake failed", zap.Error(res.Err))
			return
		}
		log.Info("ws open", zap.String("subprotocol", res.SubProtocol))
		_ = res.Conn.WriteText("hello")
	})

	<-ctx.Done()
	if res, _ := future.Result(); res != nil && res.Open() {
		_ = res.Conn.Close()
	}
	time.Sleep(100 * time.Millisecond)
}
