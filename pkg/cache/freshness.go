package cache

import "time"

// State is the freshness classification of a stored entry.
type State int

const (
	// Absent means there is no usable entry.
	Absent State = iota

	// Fresh entries are served as-is.
	Fresh

	// Stale entries are served while a revalidation refreshes them.
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

const (
	// DefaultTTL is the freshness horizon when none is configured
	DefaultTTL = 5 * time.Minute

	// DefaultStaleWindow is the stale-while-revalidate grace period
	DefaultStaleWindow = 60 * time.Second

	// DefaultMaxBodyBytes is the largest body that will be stored
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Window is the freshness policy of a mounted cache.
type Window struct {
	// TTL is how long an entry is served as fresh
	TTL time.Duration

	// StaleWindow is how long past TTL an entry may still be served stale
	StaleWindow time.Duration

	// MaxBodyBytes is the size ceiling for stored bodies
	MaxBodyBytes int64

	// CompressionMinBytes is the smallest body considered for compression
	CompressionMinBytes int

	// CompressionMinRatio is the largest compressed/original size ratio accepted
	CompressionMinRatio float64
}

// DefaultWindow returns the default freshness policy.
func DefaultWindow() Window {
	return Window{
		TTL:                 DefaultTTL,
		StaleWindow:         DefaultStaleWindow,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		CompressionMinBytes: DefaultCompressionMinBytes,
		CompressionMinRatio: DefaultCompressionMinRatio,
	}
}

// Normalize clamps negative values to zero and fills unset compression
// thresholds with their defaults.
func (w Window) Normalize() Window {
	if w.TTL < 0 {
		w.TTL = 0
	}
	if w.StaleWindow < 0 {
		w.StaleWindow = 0
	}
	if w.MaxBodyBytes <= 0 {
		w.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if w.CompressionMinBytes <= 0 {
		w.CompressionMinBytes = DefaultCompressionMinBytes
	}
	if w.CompressionMinRatio <= 0 || w.CompressionMinRatio > 1 {
		w.CompressionMinRatio = DefaultCompressionMinRatio
	}
	return w
}

// StorageTTL is the physical expiry handed to the store.
// It must cover the stale window, otherwise stale entries are never observed.
func (w Window) StorageTTL() time.Duration {
	return w.TTL + w.StaleWindow
}

// Remaining returns the fresh lifetime left for an entry of the given age.
func (w Window) Remaining(age time.Duration) time.Duration {
	if left := w.TTL - age; left > 0 {
		return left
	}
	return 0
}

// Classify returns the freshness state of entry at now.
func Classify(entry *Entry, now time.Time, w Window) State {
	if entry == nil {
		return Absent
	}
	if entry.Age(now) <= w.TTL {
		return Fresh
	}
	return Stale
}

// ShouldTriggerRevalidation reports whether entry is old enough that
// a background refresh should run.
func ShouldTriggerRevalidation(entry *Entry, now time.Time, w Window) bool {
	if entry == nil {
		return false
	}
	return entry.Age(now) > w.TTL-w.StaleWindow
}
