package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options controls how the logging system is initialized.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// Format is "text" or "json".
	Format string
	// File, when non-empty, additionally appends all output to this path.
	File string
	// Buffered holds log output back until Release is called. Used when
	// the terminal is owned by the TUI preview at startup.
	Buffered bool
}

// holdWriter buffers output until a live target is attached, and can tee
// everything to a file. All methods are safe for concurrent use.
type holdWriter struct {
	mu      sync.Mutex
	held    bytes.Buffer
	target  io.Writer
	file    *os.File
	holding bool
}

func (w *holdWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.holding {
		w.held.Write(p)
	} else if w.target != nil {
		w.target.Write(p) // best effort, logging must not fail the caller
	}
	if w.file != nil {
		w.file.Write(p)
	}
	return len(p), nil
}

var writer *holdWriter

// Init sets up the process-wide slog default logger.
func Init(opts Options) error {
	writer = &holdWriter{holding: opts.Buffered}
	if !opts.Buffered {
		writer.target = os.Stderr
	}

	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		writer.file = file
	}

	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var handler slog.Handler
	if strings.ToLower(opts.Format) == "json" {
		handler = slog.NewJSONHandler(writer, hopts)
	} else {
		handler = slog.NewTextHandler(writer, hopts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Release flushes any held output to target and logs live from then on.
func Release(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.held.Len() > 0 {
		if _, err := target.Write(writer.held.Bytes()); err != nil {
			return err
		}
		writer.held.Reset()
	}
	writer.target = target
	writer.holding = false
	return nil
}

// Hold stops live output and starts buffering again.
func Hold() {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.target = nil
	writer.holding = true
}

// Close flushes anything still held and closes the log file if one is open.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var firstErr error
	if writer.held.Len() > 0 {
		sink := io.Writer(os.Stderr)
		if writer.file != nil {
			sink = writer.file
		}
		if _, err := sink.Write(writer.held.Bytes()); err != nil {
			firstErr = err
		}
		writer.held.Reset()
	}
	if writer.file != nil {
		if err := writer.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
