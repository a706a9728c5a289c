package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"hostagent/internal/config"
	"hostagent/internal/logger"
)

func init() {
	Register("file", func(cfg *config.Config, deps Deps) (Handler, error) {
		return NewFileHandler(cfg.File, deps.Source)
	})
}

// FileHandler appends results as JSON lines to a rotated file and
// optionally echoes them to the console.
type FileHandler struct {
	source      Source
	writer      *lumberjack.Logger
	console     io.Writer
	prettyPrint bool
	mu          sync.Mutex
	closed      bool
}

// NewFileHandler creates a new FileHandler with the given configuration.
func NewFileHandler(cfg config.FileConfig, source Source) (*FileHandler, error) {
	log := logger.WithComponent("file-handler")

	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file handler requires File.FilePath")
	}

	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create handler output directory: %w", err)
		}
	}

	h := &FileHandler{
		source: source,
		writer: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
		prettyPrint: cfg.Pretty,
	}
	if cfg.Console {
		h.console = os.Stdout
	}

	log.Info().
		Str("file_path", cfg.FilePath).
		Bool("console", cfg.Console).
		Bool("pretty", cfg.Pretty).
		Msg("FileHandler initialized")

	return h, nil
}

// Name returns "file".
func (h *FileHandler) Name() string { return "file" }

// Run writes one line per record due at ts.
func (h *FileHandler) Run(ctx context.Context, ts time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("handler is closed")
	}

	for _, rec := range results(h.source, ts) {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal check record: %w", err)
		}
		if _, err := h.writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}

		if h.console != nil {
			if h.prettyPrint {
				line, _ = json.MarshalIndent(rec, "", "  ")
			}
			fmt.Fprintln(h.console, string(line))
		}
	}
	return nil
}

// Close releases the underlying file.
func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true
	return h.writer.Close()
}
