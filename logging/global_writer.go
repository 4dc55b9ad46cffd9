package logging

import (
	"io"
	"os"
	"sync/atomic"
)

type writerBox struct{ w io.Writer }

// swapWriter forwards to a writer that can be replaced while loggers hold it.
type swapWriter struct {
	cur atomic.Pointer[writerBox]
}

func newSwapWriter(w io.Writer) *swapWriter {
	s := &swapWriter{}
	s.cur.Store(&writerBox{w: w})
	return s
}

func (s *swapWriter) Write(p []byte) (int, error) {
	return s.cur.Load().w.Write(p)
}

var stderrSink = newSwapWriter(os.Stderr)

// SetGlobalOutput redirects the stderr sink of every logger.
// Tests use it to capture daemon logs.
func SetGlobalOutput(w io.Writer) {
	stderrSink.cur.Store(&writerBox{w: w})
}

// GetGlobalOutput returns the writer loggers use in place of stderr.
func GetGlobalOutput() io.Writer {
	return stderrSink
}
