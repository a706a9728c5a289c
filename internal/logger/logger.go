// Package logger provides structured logging with file rotation support.
//
// The daemon and both worker processes initialise the same configuration, so
// every record carries the writing process id.
package logger

import (
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// asyncWriter wraps an io.Writer to make writes non-blocking.
// If the underlying writer blocks (e.g., Windows cmd Quick Edit mode),
// the caller's Write returns immediately. Messages are buffered and
// delivered by a background goroutine. If the buffer is full, messages are dropped.
type asyncWriter struct {
	ch     chan []byte
	w      io.Writer
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newAsyncWriter(w io.Writer, bufSize int) *asyncWriter {
	aw := &asyncWriter{
		ch:   make(chan []byte, bufSize),
		w:    w,
		done: make(chan struct{}),
	}
	go aw.drain()
	return aw
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	if aw.closed {
		aw.mu.RUnlock()
		return len(p), nil // Silently discard after Close
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case aw.ch <- cp:
	default:
		// Drop if buffer full - prevents blocking the caller
	}
	aw.mu.RUnlock()
	return len(p), nil
}

func (aw *asyncWriter) drain() {
	defer close(aw.done)
	for p := range aw.ch {
		aw.w.Write(p)
	}
}

func (aw *asyncWriter) Close() {
	aw.once.Do(func() {
		aw.mu.Lock()
		aw.closed = true
		aw.mu.Unlock()
		close(aw.ch)
		<-aw.done // Wait for drain to finish
	})
}

// Config holds the logger configuration.
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"` // "json" (default) or "text"
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "var/log/hostagent.log",
		MaxSizeMB:  5,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    false,
		Format:     "json",
	}
}

var (
	mu      sync.Mutex
	global  = zerolog.New(os.Stdout).With().Timestamp().Logger()
	role    string
	closers []func()
)

// SetRole names the part of the agent this process runs: "daemon",
// "listener" or "passive". Records written after the next Init carry it.
func SetRole(r string) {
	mu.Lock()
	role = r
	mu.Unlock()
}

// Init (re)configures the process logger. Writers opened by a previous
// Init are closed, so it is also used for hot reload.
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	closeWriters()

	out, err := openOutput(cfg)
	if err != nil {
		return err
	}

	ctx := zerolog.New(out).With().Timestamp().Int("pid", os.Getpid())
	if role != "" {
		ctx = ctx.Str("role", role)
	}
	global = ctx.Caller().Logger()
	return nil
}

// openOutput builds the writer for cfg and registers what must be closed.
// The console goes through an asyncWriter so a stalled terminal never
// holds up the log file.
func openOutput(cfg Config) (io.Writer, error) {
	var writers []io.Writer

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		closers = append(closers, func() { file.Close() })
		if cfg.Format == "text" {
			writers = append(writers, NewTextWriter(file))
		} else {
			writers = append(writers, file)
		}
	}

	if cfg.Console {
		console := newAsyncWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}, 1000)
		// flush the console before closing the file
		closers = append([]func(){console.Close}, closers...)
		writers = append(writers, console)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return zerolog.MultiLevelWriter(writers...), nil
	}
}

func closeWriters() {
	for _, c := range closers {
		c()
	}
	closers = nil
}

// Close flushes and closes the writers opened by the last Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeWriters()
}

// WithComponent returns the process logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return global.With().Str("component", component).Logger()
}

// StdLogger adapts a component logger for APIs that want a *log.Logger,
// such as http.Server.ErrorLog. Records are written at warn level.
func StdLogger(component string) *stdlog.Logger {
	l := WithComponent(component)
	return stdlog.New(levelWriter{l: &l, level: zerolog.WarnLevel}, "", 0)
}

type levelWriter struct {
	l     *zerolog.Logger
	level zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	w.l.WithLevel(w.level).Msg(string(p))
	return n, nil
}
