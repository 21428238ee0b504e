// Package testutil provides test doubles for the cache layer.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// OriginResponse defines the behavior for a mock origin path.
type OriginResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin handler that counts the requests it serves.
// Use it directly as an http.Handler or start a server with Serve.
type MockOrigin struct {
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int
	total    int
	server   *httptest.Server

	// LastRequestHeader is the header of the most recent request
	LastRequestHeader http.Header
}

// NewMockOrigin creates a mock origin. Unknown paths answer 200 with a small JSON body.
func NewMockOrigin() *MockOrigin {
	return &MockOrigin{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}
}

// ServeHTTP implements http.Handler.
func (m *MockOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.total++
	m.counts[r.URL.Path]++
	m.LastRequestHeader = r.Header.Clone()
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Serve starts an HTTP server in front of the origin and returns its URL.
// The server is shut down by Close.
func (m *MockOrigin) Serve() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		m.server = httptest.NewServer(m)
	}
	return m.server.URL
}

// Close shuts down the server started by Serve.
func (m *MockOrigin) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Close()
		m.server = nil
	}
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockOrigin) SetResponse(path string, resp OriginResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Count returns how many requests path received.
func (m *MockOrigin) Count(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// Total returns the number of requests served.
func (m *MockOrigin) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reset clears all counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.counts = make(map[string]int)
	m.LastRequestHeader = nil
}

// JSON creates a 200 OK JSON response.
func JSON(body string) OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// ServerError creates a 500 Internal Server Error response.
func ServerError() OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
