package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`      // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`    // stderr, stdout, file
	OutputFile string   `yaml:"outputFile"` // 日志文件路径
	ErrorFile  string   `yaml:"errorFile"`  // 错误日志单独文件
	Format     string   `yaml:"format"`     // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stderr"},
		Format:  "console",
	}
}

// DefaultFile 终端面板模式下未指定 OutputFile 时使用的日志文件
const DefaultFile = "logs/option-monitor.log"

// OffTerminal 去掉 stdout/stderr 输出并改写到文件，终端面板独占屏幕时使用
func (c Config) OffTerminal() Config {
	outs := make([]string, 0, len(c.Outputs)+1)
	for _, o := range c.Outputs {
		if o != "stdout" && o != "stderr" {
			outs = append(outs, o)
		}
	}
	if !contains(outs, "file") {
		outs = append(outs, "file")
	}
	if c.OutputFile == "" {
		c.OutputFile = DefaultFile
	}
	c.Outputs = outs
	return c
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	// 解析日志级别
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// 构建核心
	cores := []zapcore.Core{}

	// 终端输出。行情面板占用 stdout 时应只用 stderr
	for _, out := range []struct {
		name string
		w    *os.File
	}{{"stdout", os.Stdout}, {"stderr", os.Stderr}} {
		if !contains(cfg.Outputs, out.name) {
			continue
		}
		var encoder zapcore.Encoder
		if cfg.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(out.w),
			level,
		))
	}

	// 文件输出
	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := openLogFile(cfg.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}

		encoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(fileWriter),
			level,
		))
	}

	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		errorWriter, err := openLogFile(cfg.ErrorFile)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}

		encoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(errorWriter),
			zapcore.ErrorLevel, // 只记录error及以上级别
		))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		Logger: zapLogger,
		config: cfg,
	}, nil
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toFields(fields)...),
		config: l.config,
	}
}

// LogTick 记录一次刷新周期的结果
func (l *Logger) LogTick(tick uint64, latency time.Duration, fields map[string]interface{}) {
	zapFields := toFields(fields)
	zapFields = append(zapFields,
		zap.Uint64("tick", tick),
		zap.Duration("latency", latency),
	)
	l.Info("tick", zapFields...)
}

// LogTickFailure 记录失败的刷新周期，fields 为已取得的行情字段
func (l *Logger) LogTickFailure(tick uint64, latency time.Duration, reason string, fields map[string]interface{}) {
	zapFields := toFields(fields)
	zapFields = append(zapFields,
		zap.Uint64("tick", tick),
		zap.Duration("latency", latency),
		zap.String("error", reason),
	)
	l.Warn("tick_failed", zapFields...)
}

// LogFetchError 记录单个数据源的拉取失败
func (l *Logger) LogFetchError(source, kind string, err error) {
	l.Warn("fetch_failed",
		zap.String("source", source),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	context["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	l.Error("error_event", toFields(context)...)
}

func toFields(m map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(m)+2)
	for k, v := range m {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return zapFields
}

// Nop 丢弃所有输出，测试用
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), config: DefaultConfig()}
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
