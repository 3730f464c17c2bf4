package ws

// Metrics 监控接口
type Metrics interface {
	// 握手指标
	IncrementHandshakes()
	IncrementHandshakeFailures(kind string)
	RecordHandshakeLatency(duration int64)

	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementIdleTimeouts()

	// 消息指标，direction 为 "in" 或 "out"
	IncrementMessageCount(direction string)

	// 错误指标
	IncrementReadErrors()
	IncrementWriteErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) IncrementHandshakes()                   {}
func (m *NoopMetrics) IncrementHandshakeFailures(kind string) {}
func (m *NoopMetrics) RecordHandshakeLatency(duration int64)  {}
func (m *NoopMetrics) IncrementConnections()                  {}
func (m *NoopMetrics) DecrementConnections()                  {}
func (m *NoopMetrics) IncrementIdleTimeouts()                 {}
func (m *NoopMetrics) IncrementMessageCount(direction string) {}
func (m *NoopMetrics) IncrementReadErrors()                   {}
func (m *NoopMetrics) IncrementWriteErrors()                  {}
