package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/courier/pkg/body"
	"github.com/tokmz/courier/pkg/completion"
	"github.com/tokmz/courier/pkg/errors"
	"github.com/tokmz/courier/pkg/logger"
	"github.com/tokmz/courier/pkg/tracing"
)

// job 等待写出的响应
type job struct {
	ex        *Exchange
	msg       *Message
	handle    *completion.Handle
	boundary  string
	multipart bool
	abandoned bool
	queuedAt  time.Time
}

// Dispatcher 单个连接的响应分发器
// 响应按 Accept 的顺序写出，前一个响应的 Sink 关闭后才开始下一个
type Dispatcher struct {
	transport  Transport
	serializer *body.Serializer
	logger     logger.Logger
	metrics    Metrics
	bufferSize int

	mu       sync.Mutex
	nextSeq  uint64
	writeSeq uint64
	pending  map[uint64]*job
	writing  bool
	closed   bool
	closeErr error
	idle     chan struct{}
}

// New 创建 Dispatcher
func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:  transport,
		serializer: body.NewSerializer(),
		logger:     logger.Nop(),
		metrics:    NoopMetrics{},
		bufferSize: DefaultBufferSize,
		pending:    make(map[uint64]*job),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Accept 登记一个到达的请求，返回其 Exchange
// 必须按请求到达顺序调用
func (d *Dispatcher) Accept(ctx context.Context, req *http.Request) *Exchange {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	seq := d.nextSeq
	d.nextSeq++
	d.mu.Unlock()

	return &Exchange{seq: seq, owner: d, ctx: ctx, Request: req}
}

// SendResponse 提交响应并立即返回完成句柄
// 实际写出在后台按到达顺序进行，句柄在响应写完或失败时完成
func (d *Dispatcher) SendResponse(ex *Exchange, msg *Message) *completion.Handle {
	handle := completion.NewHandle()
	handle.OnComplete(d.record)

	if ex == nil || msg == nil {
		handle.Fail(ErrNilMessage)
		return handle
	}
	if ex.owner != d {
		handle.Fail(ErrForeignExchange)
		return handle
	}
	if !ex.responded.CompareAndSwap(false, true) {
		handle.Fail(ErrAlreadyResponded)
		return handle
	}

	j := &job{ex: ex, msg: msg, handle: handle, queuedAt: time.Now()}

	if msg.Header == nil {
		msg.Header = make(http.Header)
	}
	if ct := msg.Header.Get("Content-Type"); ct != "" && body.IsMultipart(ct) {
		boundary, header, err := body.EnsureBoundary(ct)
		if err != nil {
			handle.Fail(err)
			d.enqueue(&job{ex: ex, abandoned: true})
			return handle
		}
		msg.Header.Set("Content-Type", header)
		j.boundary = boundary
		j.multipart = true
	}

	d.enqueue(j)
	return handle
}

// Respond Accept + SendResponse，适用于每个请求独占 Dispatcher 的场景
func (d *Dispatcher) Respond(ctx context.Context, req *http.Request, msg *Message) *completion.Handle {
	return d.SendResponse(d.Accept(ctx, req), msg)
}

// Abandon 释放一个不会再响应的 Exchange 占用的位置
// 否则其后的响应会一直等待
func (d *Dispatcher) Abandon(ex *Exchange) {
	if ex == nil || ex.owner != d || !ex.responded.CompareAndSwap(false, true) {
		return
	}
	d.enqueue(&job{ex: ex, abandoned: true})
}

// Pending 等待写出的响应数
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close 关闭 Dispatcher，所有未写出的响应以 ErrClosed 失败
// 正在写出的响应不受影响；之后提交的响应立即失败
func (d *Dispatcher) Close(cause error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.closeErr = ErrClosed.WithError(cause)
	jobs := make([]*job, 0, len(d.pending))
	for seq, j := range d.pending {
		jobs = append(jobs, j)
		delete(d.pending, seq)
	}
	d.mu.Unlock()

	d.metrics.SetPending(0)
	for _, j := range jobs {
		if !j.abandoned {
			j.handle.Fail(d.closeErr)
		}
	}
}

// Idle 当前没有响应在写出时立即关闭的 channel
// 用于连接关闭前等待已排队的响应写完
func (d *Dispatcher) Idle() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writing {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if d.idle == nil {
		d.idle = make(chan struct{})
	}
	return d.idle
}

func (d *Dispatcher) enqueue(j *job) {
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		if !j.abandoned {
			j.handle.Fail(err)
		}
		return
	}

	d.pending[j.ex.seq] = j
	n := len(d.pending)
	start := !d.writing && d.pending[d.writeSeq] != nil
	if start {
		d.writing = true
	}
	d.mu.Unlock()

	d.metrics.SetPending(n)
	if start {
		go d.drain()
	}
}

// drain 按序号写出连续就绪的响应，遇到空缺时退出
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		j, ok := d.pending[d.writeSeq]
		if !ok || d.closed {
			d.writing = false
			if d.idle != nil {
				close(d.idle)
				d.idle = nil
			}
			d.mu.Unlock()
			return
		}
		delete(d.pending, d.writeSeq)
		d.writeSeq++
		n := len(d.pending)
		d.mu.Unlock()

		d.metrics.SetPending(n)
		if !j.abandoned {
			d.write(j)
		}
	}
}

func (d *Dispatcher) write(j *job) {
	ctx, span := tracing.StartSpan(j.ex.Context(), "dispatch.response",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("courier.exchange.seq", int64(j.ex.seq)),
			attribute.Int("http.response.status_code", j.msg.StatusCode),
			attribute.String("courier.body.kind", j.msg.Body.Kind().String()),
		),
	)

	start := time.Now()
	d.metrics.RecordQueueLatency(start.Sub(j.queuedAt).Nanoseconds())

	sinkAttached := j.msg.Body.Kind() != body.KindEmpty
	listener := completion.NewListener(j.handle, j.ex, sinkAttached)

	err := d.stream(j, listener)
	if err != nil {
		// 传输层未回调时由这里兜底，Listener 保证只生效一次
		listener.OnError(err)
		d.logger.WarnContext(ctx, "response failed",
			zap.Uint64("seq", j.ex.seq),
			zap.Int("status", j.msg.StatusCode),
			zap.String("kind", errors.KindOf(err).String()),
			zap.Error(err),
		)
	} else {
		d.logger.DebugContext(ctx, "response written",
			zap.Uint64("seq", j.ex.seq),
			zap.Int("status", j.msg.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	d.metrics.RecordWriteLatency(time.Since(start).Nanoseconds())
	tracing.End(span, err)
}

func (d *Dispatcher) stream(j *job, listener *completion.Listener) error {
	raw, err := d.transport.Submit(j.ex, j.msg, listener)
	if err != nil {
		return ErrSubmit.WithError(err)
	}

	var sink Sink
	if p, ok := d.transport.(SinkFactoryProvider); ok && p.SinkFactory() != nil {
		sink = p.SinkFactory().NewSink(raw)
	} else {
		sink = NewBufferedSink(raw, d.bufferSize)
	}

	if j.multipart {
		return d.serializer.SerializeMultipart(j.boundary, j.msg.Body, sink)
	}
	return d.serializer.Serialize(j.msg.Body, sink)
}

func (d *Dispatcher) record(err error) {
	if err != nil {
		d.metrics.IncrementResponseErrors(errors.KindOf(err).String())
		return
	}
	d.metrics.IncrementResponses()
}
