package supervisor

import (
	"bytes"
	"strings"
	"sync"
)

// ringBuffer is a thread-safe, bounded byte buffer that drops old data
// when the capacity is exceeded. It keeps the backend's stderr tail for
// crash reports.
type ringBuffer struct {
	mu      sync.Mutex
	data    []byte
	max     int
	written int64 // total bytes ever written (including dropped)
}

func newRingBuffer(maxBytes int) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, 0, min(maxBytes, 4096)),
		max:  maxBytes,
	}
}

// Write implements io.Writer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = append(rb.data, p...)
	rb.written += int64(len(p))
	if len(rb.data) > rb.max {
		rb.data = rb.data[len(rb.data)-rb.max:]
	}
	return len(p), nil
}

// Tail returns at most n trailing bytes, starting at a line boundary when
// the cut lands mid-line. n <= 0 returns everything buffered.
func (rb *ringBuffer) Tail(n int) string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if n <= 0 || len(rb.data) <= n {
		return string(rb.data)
	}
	tail := rb.data[len(rb.data)-n:]
	if i := bytes.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return string(tail)
}

// TotalWritten returns the total number of bytes ever written,
// including bytes that have been dropped due to overflow.
func (rb *ringBuffer) TotalWritten() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.written
}

// lineWriter splits a byte stream into lines and hands each one to fn.
// exec.Cmd copies pipe output into it from a single goroutine; Flush must
// run after Wait to deliver a trailing partial line.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(line string)
}

func newLineWriter(fn func(line string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		w.fn(line)
	}
	return len(p), nil
}

// Flush delivers any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	rest := strings.TrimRight(string(w.buf), "\r")
	w.buf = nil
	w.mu.Unlock()
	if rest != "" {
		w.fn(rest)
	}
}
