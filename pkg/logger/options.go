package logger

// Option 修改 Config 的函数
type Option func(*Config)

// WithLevel 最低输出级别
func WithLevel(level Level) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithFormat json 或 console
func WithFormat(format Format) Option {
	return func(c *Config) {
		c.Format = format
	}
}

// WithConsoleOutput 写到标准输出
func WithConsoleOutput() Option {
	return func(c *Config) {
		c.Console = true
	}
}

// WithFileOutput 追加写入 filename，不做轮转
func WithFileOutput(filename string) Option {
	return func(c *Config) {
		c.File = filename
	}
}

// WithRotateOutput 写入 filename 并按 maxSizeMB 轮转，其余参数取默认值
func WithRotateOutput(filename string, maxSizeMB int) Option {
	return func(c *Config) {
		c.Rotate = &RotateConfig{Filename: filename, MaxSize: maxSizeMB}
	}
}

// WithSampling 每秒同一消息先输出 initial 条，之后每 thereafter 条输出一条
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		c.Sampling = &SamplingConfig{Initial: initial, Thereafter: thereafter}
	}
}

// WithCaller 记录调用位置
func WithCaller(enable bool) Option {
	return func(c *Config) {
		c.EnableCaller = enable
	}
}

// WithStacktrace Error 及以上附带堆栈
func WithStacktrace(enable bool) Option {
	return func(c *Config) {
		c.EnableStacktrace = enable
	}
}

// WithTraceFields *Context 方法写出链路字段时使用的键名，空字符串表示不写该字段
func WithTraceFields(traceIDKey, spanIDKey string) Option {
	return func(c *Config) {
		c.TraceFields = &TraceFields{TraceID: traceIDKey, SpanID: spanIDKey}
	}
}

// WithHook 追加 Hook，按添加顺序调用
func WithHook(hook Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hook)
	}
}
