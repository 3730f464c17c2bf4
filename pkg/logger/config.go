package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别，与 zapcore.Level 取值一致
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

// String 返回级别名称
func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel 解析级别名称，无法识别时返回 InfoLevel
func ParseLevel(s string) Level {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return InfoLevel
	}
	return Level(zl)
}

// Format 日志格式
type Format string

const (
	// JSONFormat 生产环境
	JSONFormat Format = "json"
	// ConsoleFormat 开发环境
	ConsoleFormat Format = "console"
)

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // MB，默认 100
	MaxAge     int    `mapstructure:"max_age"`     // 天，默认 30
	MaxBackups int    `mapstructure:"max_backups"` // 默认 10
	LocalTime  bool   `mapstructure:"local_time"`
	Compress   bool   `mapstructure:"compress"`
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}

// SamplingConfig 采样配置：每秒前 Initial 条必定记录，之后每 Thereafter 条记录 1 条
type SamplingConfig struct {
	Initial    int `mapstructure:"initial"`
	Thereafter int `mapstructure:"thereafter"`
}

func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}

// Config 日志配置
type Config struct {
	Level  Level  `mapstructure:"-"`
	Format Format `mapstructure:"format"` // 默认 json

	// LevelName 配置文件中的级别名称，非空时覆盖 Level
	LevelName string `mapstructure:"level"`

	Console bool          `mapstructure:"console"`
	File    string        `mapstructure:"file"`
	Rotate  *RotateConfig `mapstructure:"rotate"`

	Sampling *SamplingConfig `mapstructure:"sampling"`

	EnableCaller     bool `mapstructure:"caller"`
	EnableStacktrace bool `mapstructure:"stacktrace"` // Error 及以上

	// TraceFields 链路字段键名，nil 时为 trace_id / span_id
	TraceFields *TraceFields `mapstructure:"trace_fields"`

	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-"`
	Hooks         []Hook                 `mapstructure:"-"`
}

// TraceFields *Context 方法附加的链路字段键名，空字符串表示不写出
type TraceFields struct {
	TraceID string `mapstructure:"trace_id"`
	SpanID  string `mapstructure:"span_id"`
}

func (c *Config) setDefaults() {
	if c.LevelName != "" {
		c.Level = ParseLevel(c.LevelName)
	}
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 未配置任何输出时默认输出到控制台
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if c.TraceFields == nil {
		c.TraceFields = &TraceFields{TraceID: "trace_id", SpanID: "span_id"}
	}
}
