package zedstore

import "zedstore/internal/base"

// Options configure store behavior.
type Options struct {
	pageSize    int
	cacheSize   int
	splitRatio  float64
	compression bool
	logger      Logger
}

const (
	// DefaultSplitRatio puts nine tenths of an overflowing internal
	// page on the left side. Appends only ever push into the rightmost
	// slot, so a near-tail split keeps left pages full.
	DefaultSplitRatio = 0.9

	// DefaultCacheSize is the number of decoded pages kept in memory.
	DefaultCacheSize = 1024
)

// DefaultOptions returns the append-optimized default configuration.
func DefaultOptions() Options {
	return Options{
		pageSize:    base.DefaultPageSize,
		cacheSize:   DefaultCacheSize,
		splitRatio:  DefaultSplitRatio,
		compression: true,
		logger:      DiscardLogger{},
	}
}

// Option configures a store using the functional options pattern.
type Option func(*Options)

// WithPageSize sets the fixed page capacity. All pages in a store share
// it and it cannot change after the store is created. Small sizes are
// accepted down to the header minimum, which tests use to force early
// splits.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.pageSize = size
	}
}

// WithCacheSize sets how many decoded pages the store keeps in memory.
func WithCacheSize(n int) Option {
	return func(o *Options) {
		o.cacheSize = n
	}
}

// WithSplitRatio sets the fraction of an overflowing internal page kept
// on the left. 0.5 suits random insert orders; the default favors
// appends.
func WithSplitRatio(ratio float64) Option {
	return func(o *Options) {
		if ratio > 0 && ratio < 1 {
			o.splitRatio = ratio
		}
	}
}

// WithCompression toggles the leaf compression pass. When off, a full
// leaf splits immediately.
func WithCompression(enabled bool) Option {
	return func(o *Options) {
		o.compression = enabled
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.logger = l
		}
	}
}
