package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyWriter appends to <dir>/<component>-<date>.log and moves on to a new
// file when the date changes, so a long-running daemon doesn't grow one file forever.
type dailyWriter struct {
	mu        sync.Mutex
	dir       string
	component string
	now       func() time.Time

	date   string
	writer io.WriteCloser
}

func newDailyWriter(dir, component string) *dailyWriter {
	return &dailyWriter{dir: dir, component: component, now: time.Now}
}

// Path returns the file the next write goes to.
func (w *dailyWriter) Path() string {
	return DailyLogPath(w.dir, w.component, w.now())
}

// DailyLogPath is the file a component logs to on day t.
func DailyLogPath(dir, component string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, t.Format("2006-01-02")))
}

// Write implements the io.Writer interface.
func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().Format("2006-01-02")
	if w.writer == nil || date != w.date {
		if w.writer != nil {
			w.writer.Close()
			w.writer = nil
		}
		if err := os.MkdirAll(w.dir, 0755); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(DailyLogPath(w.dir, w.component, w.now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, err
		}
		w.writer = f
		w.date = date
	}

	return w.writer.Write(p)
}

// Close implements the io.Closer interface.
func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		err := w.writer.Close()
		w.writer = nil
		return err
	}
	return nil
}
