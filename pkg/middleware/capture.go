package middleware

import (
	"bytes"
	"net/http"
)

// captureWriter tees a handler's response to the client while recording
// status, headers and up to limit body bytes for storage.
// With a nil ResponseWriter it only records (used by revalidation).
type captureWriter struct {
	rw          http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	limit       int64
	overflow    bool
}

func newCaptureWriter(w http.ResponseWriter, limit int64) *captureWriter {
	cw := &captureWriter{rw: w, limit: limit}
	if w == nil {
		cw.header = http.Header{}
	} else {
		cw.header = w.Header()
	}
	return cw
}

// Implementation of http.ResponseWriter
func (c *captureWriter) Header() http.Header {
	return c.header
}

// Implementation of http.ResponseWriter
func (c *captureWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = statusCode
	if c.rw != nil {
		c.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}

	if !c.overflow {
		if int64(c.buf.Len()+len(b)) > c.limit {
			// too big to store; stop buffering but keep serving
			c.overflow = true
			c.buf = bytes.Buffer{}
		} else {
			c.buf.Write(b)
		}
	}

	if c.rw != nil {
		return c.rw.Write(b)
	}
	return len(b), nil
}

// Flush forwards streaming flushes to the client.
func (c *captureWriter) Flush() {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if f, ok := c.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the client writer to http.ResponseController.
func (c *captureWriter) Unwrap() http.ResponseWriter {
	return c.rw
}

// StatusCode returns the recorded status; 200 if the handler wrote nothing.
func (c *captureWriter) StatusCode() int {
	if !c.wroteHeader {
		return http.StatusOK
	}
	return c.status
}

// Body returns the recorded body. Empty when Overflowed.
func (c *captureWriter) Body() []byte {
	return c.buf.Bytes()
}

// Overflowed reports whether the body exceeded the capture limit.
func (c *captureWriter) Overflowed() bool {
	return c.overflow
}
