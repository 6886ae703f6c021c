// Package certlog provides the structured logger used throughout the
// service: logrus with a caller hook, a service-identity hook, and
// optional rotating file output.
package certlog

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level        string `yaml:"level" json:"level"`
	Format       string `yaml:"format" json:"format"`
	Output       string `yaml:"output" json:"output"`
	FileLocation string `yaml:"file_location" json:"file_location"`
	MaxSize      int    `yaml:"max_size" json:"max_size"`
	MaxBackups   int    `yaml:"max_backups" json:"max_backups"`
	MaxAge       int    `yaml:"max_age" json:"max_age"`
	Compress     bool   `yaml:"compress" json:"compress"`
}

type Logger struct {
	*logrus.Logger
	config   Config
	mu       sync.RWMutex
	fileSink io.WriteCloser
	hostname string
}

func New(cfg Config, version string) (*Logger, error) {
	l := &Logger{
		Logger:   logrus.New(),
		config:   normalize(cfg),
		hostname: hostname(),
	}

	level, err := logrus.ParseLevel(l.config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch l.config.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
			DisableColors:   true,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if err := l.setOutput(); err != nil {
		return nil, err
	}

	l.AddHook(&callerHook{})
	l.AddHook(&serviceHook{service: "certstream-server-go", version: version, hostname: l.hostname})

	return l, nil
}

func normalize(c Config) Config {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "json"
	}
	c.Output = strings.ToLower(strings.TrimSpace(c.Output))
	if c.Output == "" {
		c.Output = "console"
	}
	return c
}

func (l *Logger) setOutput() error {
	var writers []io.Writer

	wantConsole := l.config.Output == "console" || l.config.Output == "both"
	wantFile := l.config.Output == "file" || l.config.Output == "both"

	if wantFile && l.config.FileLocation != "" {
		if err := os.MkdirAll(filepath.Dir(l.config.FileLocation), 0o755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   l.config.FileLocation,
			MaxSize:    maxInt(1, l.config.MaxSize),
			MaxBackups: maxInt(0, l.config.MaxBackups),
			MaxAge:     maxInt(0, l.config.MaxAge),
			Compress:   l.config.Compress,
		}
		l.fileSink = lj
		writers = append(writers, lj)
	}

	if wantConsole || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.fileSink.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

type callerHook struct{}

func (callerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (callerHook) Fire(entry *logrus.Entry) error {
	const maxDepth = 20
	for i := 4; i < 4+maxDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		fnName := ""
		if fn != nil {
			fnName = fn.Name()
		}
		if strings.Contains(file, "/sirupsen/logrus") || strings.Contains(file, "/pkg/certlog/") {
			continue
		}
		entry.Data["caller"] = map[string]interface{}{"file": file, "line": line, "func": shortFunc(fnName)}
		break
	}
	return nil
}

func shortFunc(full string) string {
	if idx := strings.LastIndex(full, "/"); idx >= 0 && idx+1 < len(full) {
		full = full[idx+1:]
	}
	return full
}

type serviceHook struct {
	service  string
	version  string
	hostname string
}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	entry.Data["version"] = h.version
	entry.Data["hostname"] = h.hostname
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
