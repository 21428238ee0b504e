package cache

import (
	"net/http"
	"strings"
)

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// HasCacheDirective reports whether a Cache-Control header value contains directive.
func HasCacheDirective(cacheControl, directive string) bool {
	for _, part := range strings.Split(cacheControl, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		if strings.EqualFold(name, directive) {
			return true
		}
	}
	return false
}

// StorableResponse reports whether the origin allows a shared cache to keep
// the response. Responses that set cookies or are marked private/no-store
// are never stored so personalised data cannot leak between users.
// Bodies the origin already content-encoded are skipped too.
func StorableResponse(h http.Header) (bool, string) {
	cc := strings.Join(h.Values("Cache-Control"), ",")
	switch {
	case HasCacheDirective(cc, "no-store"):
		return false, "no-store"
	case HasCacheDirective(cc, "private"):
		return false, "private"
	case len(h.Values("Set-Cookie")) > 0:
		return false, "set-cookie"
	case h.Get("Content-Encoding") != "" && !strings.EqualFold(h.Get("Content-Encoding"), "identity"):
		return false, "content-encoding"
	}
	return true, ""
}

// ETagMatches reports whether an If-None-Match header value matches etag.
func ETagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// AcceptsEncoding reports whether the request's Accept-Encoding allows encoding.
func AcceptsEncoding(r *http.Request, encoding string) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), encoding) && strings.TrimSpace(name) != "*" {
			continue
		}
		// q=0 explicitly refuses the encoding
		if q := strings.ReplaceAll(strings.TrimSpace(params), " ", ""); q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			return false
		}
		return true
	}
	return false
}
