package cmd

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// newLogger builds a prefixed logger honoring log.level. At "warn" and "error"
// only lines that look like failures are written.
func newLogger(w io.Writer, prefix, level string) *log.Logger {
	switch strings.ToLower(level) {
	case "warn", "warning", "error":
		w = &errorFilterWriter{writer: w}
	}
	return log.New(w, prefix, log.LstdFlags)
}

// setupFileLogger opens logs/<name> under the working directory for TUI sessions.
func setupFileLogger(name string) *os.File {
	logDir := filepath.Join(getWorkingDir(), "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil
	}

	logFile, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return logFile
}

// errorFilterWriter only writes error messages to the underlying writer
type errorFilterWriter struct {
	writer io.Writer
}

func (w *errorFilterWriter) Write(p []byte) (n int, err error) {
	lc := strings.ToLower(string(p))

	// Context cancellation on shutdown is expected.
	if strings.Contains(lc, "context canceled") {
		return len(p), nil
	}

	if strings.Contains(lc, "error") ||
		strings.Contains(lc, "failed") ||
		strings.Contains(lc, "panic") ||
		strings.Contains(lc, "rejected") {
		return w.writer.Write(p)
	}
	return len(p), nil
}

// getWorkingDir returns the current working directory.
// Falls back to executable directory if os.Getwd fails.
func getWorkingDir() string {
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolvePathRelativeToBase resolves a possibly relative path against a base directory.
// Absolute paths are returned unchanged.
func resolvePathRelativeToBase(base, p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, strings.TrimPrefix(p, "./"))
}
