package store

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Sternrassler/respcache/pkg/cache"
)

// Serializer converts entries to and from the bytes a backend stores.
type Serializer interface {
	Name() string
	Marshal(entry *cache.Entry) ([]byte, error)
	Unmarshal(data []byte) (*cache.Entry, error)
}

// SerializerFor returns the serializer registered under name.
// An empty name selects JSON.
func SerializerFor(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

func checked(entry *cache.Entry, err error) (*cache.Entry, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidEntry, err)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// JSON stores entries as JSON documents.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(entry *cache.Entry) ([]byte, error) {
	return json.Marshal(entry)
}

func (JSON) Unmarshal(data []byte) (*cache.Entry, error) {
	var entry cache.Entry
	err := json.Unmarshal(data, &entry)
	return checked(&entry, err)
}

// Msgpack stores entries with vmihailenco/msgpack.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(entry *cache.Entry) ([]byte, error) {
	return msgpack.Marshal(entry)
}

func (Msgpack) Unmarshal(data []byte) (*cache.Entry, error) {
	var entry cache.Entry
	err := msgpack.Unmarshal(data, &entry)
	return checked(&entry, err)
}

// CBOR stores entries with fxamacker/cbor. Construct with NewCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR serializer with RFC3339Nano timestamps.
func NewCBOR() (CBOR, error) {
	eo := cbor.PreferredUnsortedEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

func (CBOR) Name() string { return "cbor" }

func (c CBOR) Marshal(entry *cache.Entry) ([]byte, error) {
	return c.enc.Marshal(entry)
}

func (c CBOR) Unmarshal(data []byte) (*cache.Entry, error) {
	var entry cache.Entry
	err := c.dec.Unmarshal(data, &entry)
	return checked(&entry, err)
}
