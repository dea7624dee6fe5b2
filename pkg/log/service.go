package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	config "github.com/mwantia/lakesync/internal/config/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService
}

// LoggerServiceImpl writes one line per entry. Loggers derived through
// Named share the writer and its lock, so reconcile workers never
// interleave partial lines.
type LoggerServiceImpl struct {
	LoggerService

	cfg    config.LogServerConfig
	name   string
	level  LogLevel
	out    *output
	exit   func(int)
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) write(line []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.w.Write(line)
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message"`
}

func NewLoggerService(name string, cfg config.LogServerConfig) LoggerService {
	return newLogger(name, cfg, openWriter(cfg))
}

// NewLoggerServiceWithWriter skips terminal and file setup and writes every
// entry to w. Colors are disabled.
func NewLoggerServiceWithWriter(name string, cfg config.LogServerConfig, w io.Writer) LoggerService {
	cfg.NoColor = true
	return newLogger(name, cfg, w)
}

// NewNopLogger discards everything.
func NewNopLogger() LoggerService {
	return NewLoggerServiceWithWriter("", config.LogServerConfig{Level: "FATAL"}, io.Discard)
}

func newLogger(name string, cfg config.LogServerConfig, w io.Writer) *LoggerServiceImpl {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	return &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
		out:   &output{w: w},
		exit:  os.Exit,
	}
}

// openWriter fans out to stdout and the rotated log file. Stdout is kept
// when nothing else is configured.
func openWriter(cfg config.LogServerConfig) io.Writer {
	var writers []io.Writer

	if !cfg.NoTerminal {
		writers = append(writers, os.Stdout)
	}

	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		})
	}

	switch len(writers) {
	case 0:
		return os.Stdout
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	impl.out.write(impl.format(time.Now(), level, msg))

	if level == Fatal {
		impl.exit(1)
	}
}

func (impl *LoggerServiceImpl) format(now time.Time, level LogLevel, msg string) []byte {
	timestamp := now.Format(impl.cfg.TimeFormat)

	if impl.cfg.JSON {
		data, _ := json.Marshal(logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Service:   impl.name,
			Message:   msg,
		})
		return append(data, '\n')
	}

	var buf bytes.Buffer
	colored := !impl.cfg.NoTerminal && !impl.cfg.NoColor
	if colored {
		buf.WriteString(Color(level))
	}

	fmt.Fprintf(&buf, "[%s] %-5s", timestamp, level)
	if impl.name != "" {
		fmt.Fprintf(&buf, " [%s]", impl.name)
	}
	buf.WriteByte(' ')
	buf.WriteString(msg)

	if colored {
		buf.WriteString("\033[0m")
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	if impl.name != "" {
		name = impl.name + "/" + name
	}

	child := *impl
	child.name = name
	return &child
}
