package journal

import (
	"context"
	"log/slog"
	"time"
)

// Default configuration values, matching spec.md §6.
const (
	DefaultIODepthLimit   = 4
	DefaultBatchCapacity  = 16
	DefaultBatchFlushSize = 4096 // one device stripe worth of bytes, tune per device
)

// Config holds the RecordSubmitter's tunables.
type Config struct {
	IODepthLimit   int // max concurrent device writes
	BatchCapacity  int // max records per batch
	BatchFlushSize int // soft byte cap per batch
}

func (c Config) withDefaults() Config {
	if c.IODepthLimit <= 0 {
		c.IODepthLimit = DefaultIODepthLimit
	}
	if c.BatchCapacity <= 0 {
		c.BatchCapacity = DefaultBatchCapacity
	}
	if c.BatchFlushSize <= 0 {
		c.BatchFlushSize = DefaultBatchFlushSize
	}
	return c
}

// Options configures a new Journal, following the same Options/New(o
// Options) pattern used throughout this package's teacher lineage.
type Options struct {
	Config

	DebugName string
	Logger    *slog.Logger
	Context   context.Context
	Now       func() time.Time
	Verbose   bool

	// Metrics, if non-nil, is used instead of the package-default metric
	// set. Most callers should use RegisterMetrics instead.
	Metrics *Metrics
}

func (o Options) withDefaults() Options {
	o.Config = o.Config.withDefaults()
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Metrics == nil {
		o.Metrics = defaultMetrics
	}
	return o
}
