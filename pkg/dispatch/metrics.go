package dispatch

// Metrics 监控接口
type Metrics interface {
	// SetPending 等待写出的响应数
	SetPending(count int)
	// RecordQueueLatency 响应从提交到开始写出的耗时（纳秒）
	RecordQueueLatency(duration int64)
	// RecordWriteLatency 响应体写出耗时（纳秒）
	RecordWriteLatency(duration int64)
	// IncrementResponses 成功写出的响应
	IncrementResponses()
	// IncrementResponseErrors 失败的响应，kind 为错误分类
	IncrementResponseErrors(kind string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) SetPending(int)                 {}
func (NoopMetrics) RecordQueueLatency(int64)       {}
func (NoopMetrics) RecordWriteLatency(int64)       {}
func (NoopMetrics) IncrementResponses()            {}
func (NoopMetrics) IncrementResponseErrors(string) {}
