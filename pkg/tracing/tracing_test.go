package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cerrors "github.com/tokmz/courier/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ExporterType = ExporterOTLPGRPC
	require.NoError(t, cfg.Validate())

	cfg.ExporterType = "zipkin"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, cerrors.KindValidation, cerrors.KindOf(err))

	cfg = DefaultConfig()
	cfg.SamplingRate = 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	assert.Error(t, cfg.Validate())
}

func TestNewTracerProviderNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	tp, err := NewTracerProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Same(t, tp, GetTracerProvider())

	_, span := StartSpan(context.Background(), "noop")
	End(span, nil)

	require.NoError(t, Shutdown(context.Background()))
	assert.Nil(t, GetTracerProvider())
}

func TestParseResourceAttributes(t *testing.T) {
	attrs := parseResourceAttributes("a=1, b = 2 ,broken")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("a", "1"),
		attribute.String("b", "2"),
	}, attrs)
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestEndRecordsError(t *testing.T) {
	rec := installRecorder(t)

	_, span := StartSpan(context.Background(), "op")
	SetAttributes(span, map[string]any{"n": 1, "s": "x"})
	AddEvent(span, "evt", nil)
	End(span, errors.New("failed"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Equal(t, "failed", spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 2) // evt + exception
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := installRecorder(t)

	r := gin.New()
	r.Use(Middleware(WithFilter(func(c *gin.Context) bool {
		return c.Request.URL.Path != "/health"
	})))
	r.GET("/items/:id", func(c *gin.Context) {
		_, ok := c.Get(TraceIDKey)
		assert.True(t, ok)
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/1", nil))
	assert.NotEmpty(t, w.Header().Get("Traceparent"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /items/:id", spans[0].Name())
}

func TestSamplerFromEnv(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFromEnv("always_on", 1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFromEnv("always_off", 1).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.5).Description(), samplerFromEnv("traceidratio", 0.5).Description())

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	assert.Equal(t, 1.0, envSamplingRatio())
}
