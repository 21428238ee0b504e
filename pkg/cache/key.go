package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
)

// KeySeparator joins the segments of a cache key.
const KeySeparator = ":"

// KeyBuilder derives deterministic cache keys from incoming requests.
type KeyBuilder struct {
	// Prefix is the namespace of every key built (e.g. "products").
	Prefix string

	// PrefixFunc overrides Prefix per request (e.g. "product_detail:42").
	PrefixFunc func(r *http.Request) string

	// VaryBy lists request headers whose values participate in the key.
	VaryBy []string

	// Identity returns the authenticated user id, or "" for anonymous requests.
	// Defaults to IdentityFromContext.
	Identity func(r *http.Request) string
}

// Build generates the cache key for r.
// Format: prefix:METHOD:/path[:q=<hash>][:h=<hash>][:user:<id>]
// '%' and ':' in the path and id are percent-encoded.
//
// Example:
//
//	products:GET:/products:q=5d41402abc4b2a76b9719d911017c592
func (b KeyBuilder) Build(r *http.Request) string {
	prefix := b.Prefix
	if b.PrefixFunc != nil {
		prefix = b.PrefixFunc(r)
	}

	parts := make([]string, 0, 6)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, r.Method, escapeSegment(normalizePath(r.URL.Path)))

	if q := canonicalQuery(r.URL.Query()); q != "" {
		parts = append(parts, "q="+hash128(q))
	}

	if vary, ok := varyValues(r.Header, b.VaryBy); ok {
		parts = append(parts, "h="+hash128(vary))
	}

	identity := IdentityFromRequest
	if b.Identity != nil {
		identity = b.Identity
	}
	if id := identity(r); id != "" {
		parts = append(parts, "user", escapeSegment(id))
	}

	return strings.Join(parts, KeySeparator)
}

var segmentEscaper = strings.NewReplacer("%", "%25", KeySeparator, "%3A")

// escapeSegment keeps request-controlled values from introducing separators,
// so a path can never spell out another key's q=, h= or user: segments.
func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// canonicalQuery sorts keys and the values under each key so that
// parameter order never changes the key.
func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	sorted := make(url.Values, len(q))
	for k, vs := range q {
		cp := append([]string(nil), vs...)
		sort.Strings(cp)
		sorted[k] = cp
	}
	return sorted.Encode()
}

func varyValues(h http.Header, names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	present := false
	values := make([]string, len(names))
	for i, name := range names {
		if v, ok := h[http.CanonicalHeaderKey(name)]; ok {
			present = true
			values[i] = strings.Join(v, ",")
		}
	}
	return strings.Join(values, "|"), present
}

// hash128 returns the first 128 bits of the SHA-256 digest, hex encoded.
func hash128(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the authenticated user id.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the user id stored by WithIdentity.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

// IdentityFromRequest reads the identity from the request context.
func IdentityFromRequest(r *http.Request) string {
	return IdentityFromContext(r.Context())
}
