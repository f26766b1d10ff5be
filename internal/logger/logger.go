package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// dynamicWriter forwards writes to os.Stderr and optionally to a secondary
// writer (e.g. the dashboard's logbuf). It is safe for concurrent use.
type dynamicWriter struct {
	mu     sync.RWMutex
	second io.Writer
}

func (dw *dynamicWriter) Write(p []byte) (int, error) {
	n, err := os.Stderr.Write(p)
	dw.mu.RLock()
	second := dw.second
	dw.mu.RUnlock()
	if second != nil {
		second.Write(p) //nolint:errcheck
	}
	return n, err
}

var gw = &dynamicWriter{}

// Init initializes the global slog logger writing to stderr. Reads LOG_LEVEL
// from the environment (debug/info/warn/error; default is info) and LOG_FORMAT
// (text/pretty; default text). Call once early in main before any logging.
func Init() {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "pretty") {
		h = NewPretty(gw, opts, true)
	} else {
		h = slog.NewTextHandler(gw, opts)
	}
	slog.SetDefault(slog.New(h))
}

// SetMirror adds a secondary write target so that log output is also sent to w
// (typically a *logbuf.Buffer). Pass nil to clear the secondary target.
func SetMirror(w io.Writer) {
	gw.mu.Lock()
	gw.second = w
	gw.mu.Unlock()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
