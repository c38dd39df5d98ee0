package alert

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"option-monitor-go/infrastructure/logger"
)

// LogChannel 写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	return &LogChannel{log: log, name: name}
}

func (c *LogChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("level", string(alert.Level)),
		zap.Time("ts", alert.Timestamp),
	}
	for _, k := range sortedKeys(alert.Fields) {
		fields = append(fields, zap.Any(k, alert.Fields[k]))
	}
	switch alert.Level {
	case LevelError, LevelCritical:
		c.log.Error("alert: "+alert.Message, fields...)
	case LevelWarning:
		c.log.Warn("alert: "+alert.Message, fields...)
	default:
		c.log.Info("alert: "+alert.Message, fields...)
	}
	return nil
}

func (c *LogChannel) Name() string {
	return c.name
}

// ConsoleChannel 控制台告警通道（彩色输出）
type ConsoleChannel struct {
	name string
	out  io.Writer
	mu   sync.Mutex
}

// NewConsoleChannel out 为 nil 时写到 color.Error（stderr）。
func NewConsoleChannel(name string, out io.Writer) *ConsoleChannel {
	if out == nil {
		out = color.Error
	}
	return &ConsoleChannel{name: name, out: out}
}

var levelColors = map[Level]*color.Color{
	LevelInfo:     color.New(color.FgGreen),
	LevelWarning:  color.New(color.FgYellow),
	LevelError:    color.New(color.FgRed),
	LevelCritical: color.New(color.FgMagenta, color.Bold),
}

func (c *ConsoleChannel) Send(alert Alert) error {
	tag := "[" + string(alert.Level) + "]"
	if col, ok := levelColors[alert.Level]; ok {
		tag = col.Sprint(tag)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s - %s", tag, alert.Timestamp.Format("2006-01-02 15:04:05"), alert.Message)
	if len(alert.Fields) > 0 {
		b.WriteString(" |")
		for _, k := range sortedKeys(alert.Fields) {
			fmt.Fprintf(&b, " %s=%v", k, alert.Fields[k])
		}
	}
	b.WriteString("\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, b.String())
	return err
}

func (c *ConsoleChannel) Name() string {
	return c.name
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
