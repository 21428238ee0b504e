package cache

import (
	"net/http"
	"time"
)

// ReplayHeaders are the response headers stored with an entry and replayed on hits.
var ReplayHeaders = []string{"Content-Type", "Cache-Control"}

// Entry represents a stored origin response.
// Entries are never mutated after they are written; updates overwrite the key.
type Entry struct {
	// Body is the response body, compressed when Compressed is set
	Body []byte `json:"body" msgpack:"body" cbor:"body"`

	// StatusCode is the origin status code
	StatusCode int `json:"status_code" msgpack:"status_code" cbor:"status_code"`

	// Header holds the replayed subset of origin headers (see ReplayHeaders)
	Header http.Header `json:"header" msgpack:"header" cbor:"header"`

	// CreatedAt is when the entry was written
	CreatedAt time.Time `json:"created_at" msgpack:"created_at" cbor:"created_at"`

	// ETag is computed over the uncompressed body
	ETag string `json:"etag" msgpack:"etag" cbor:"etag"`

	// Compressed reports whether Body must be decoded before use
	Compressed bool `json:"compressed" msgpack:"compressed" cbor:"compressed"`

	// Encoding is the Content-Encoding token of a compressed Body ("gzip", "zstd")
	Encoding string `json:"encoding,omitempty" msgpack:"encoding,omitempty" cbor:"encoding,omitempty"`
}

// Age returns how long ago the entry was created, relative to now.
// Returns 0 for entries created in the future (clock skew between writers).
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Validate reports whether the entry is structurally usable.
func (e *Entry) Validate() error {
	if e.StatusCode < 100 || e.StatusCode > 999 {
		return ErrInvalidEntry
	}
	if e.CreatedAt.IsZero() {
		return ErrInvalidEntry
	}
	if e.Compressed && e.Encoding == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Body = append([]byte(nil), e.Body...)
	cp.Header = e.Header.Clone()
	return &cp
}

// FilterHeaders copies the ReplayHeaders present in h.
func FilterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(ReplayHeaders))
	for _, name := range ReplayHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), v...)
		}
	}
	return out
}
