package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCompressionMinBytes is the smallest body worth compressing
	DefaultCompressionMinBytes = 1024

	// DefaultCompressionMinRatio requires at least a 10% size reduction
	DefaultCompressionMinRatio = 0.9
)

// Codec encodes captured bodies for storage.
type Codec struct {
	// Compress enables compression of stored bodies.
	Compress bool

	// MinBytes is the smallest body considered for compression.
	MinBytes int

	// MinRatio is the largest compressed/original ratio that is kept.
	MinRatio float64

	// Compressor defaults to Gzip.
	Compressor Compressor

	// Logger defaults to the global logger with component=codec.
	Logger *zerolog.Logger
}

// NewCodec returns a codec configured from the window's compression thresholds.
func NewCodec(compress bool, w Window) *Codec {
	w = w.Normalize()
	return &Codec{
		Compress:   compress,
		MinBytes:   w.CompressionMinBytes,
		MinRatio:   w.CompressionMinRatio,
		Compressor: Gzip{},
	}
}

func (c *Codec) compressor() Compressor {
	if c.Compressor == nil {
		return Gzip{}
	}
	return c.Compressor
}

func (c *Codec) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	l := log.With().Str("component", "codec").Logger()
	return &l
}

// Encode prepares body for storage.
// The ETag is always computed over the raw body. If compression fails the
// raw body is returned uncompressed.
func (c *Codec) Encode(body []byte) (stored []byte, compressed bool, etag string) {
	etag = ETag(body)

	if !c.Compress || len(body) == 0 || len(body) < c.MinBytes {
		return body, false, etag
	}

	out, err := c.compressor().Compress(body)
	if err != nil {
		c.logger().Warn().Err(err).Int("size", len(body)).Msg("Compression failed, storing uncompressed")
		return body, false, etag
	}

	ratio := float64(len(out)) / float64(len(body))
	compressionRatio.Observe(ratio)
	if ratio > c.MinRatio {
		return body, false, etag
	}
	return out, true, etag
}

// Encoding is the Content-Encoding of bodies compressed by this codec.
func (c *Codec) Encoding() string {
	return c.compressor().Encoding()
}

// Decode reverses Encode.
func (c *Codec) Decode(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	body, err := c.compressor().Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return body, nil
}

// DecodeEntry returns the uncompressed body of entry, honouring the
// encoding it was stored with.
func DecodeEntry(entry *Entry) ([]byte, error) {
	if !entry.Compressed {
		return entry.Body, nil
	}
	comp, err := CompressorFor(entry.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	body, err := comp.Decompress(entry.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return body, nil
}

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}
