// Package dedup drops duplicate and out-of-order records per key. A record
// is accepted only if its sequence number strictly exceeds the highest
// sequence previously accepted for the same key; equal sequences are
// duplicates and are dropped.
package dedup

import (
	"context"
	"log/slog"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/derekm/flink-tools/internal/extract"
	"github.com/derekm/flink-tools/internal/observability"
	"github.com/derekm/flink-tools/internal/state"
)

// Config holds the dedup engine configuration.
//
// The bloom filter is a negative cache in front of the exact keyed state:
// a "definitely unseen" answer skips the state lookup entirely. It never
// changes an accept/drop decision.
type Config struct {
	// BloomEnabled turns the first-seen-key fast path on
	BloomEnabled bool `env:"DEDUP_BLOOM_ENABLED" envDefault:"true"`

	// BloomCapacity is the expected distinct key count per partition
	BloomCapacity uint `env:"DEDUP_BLOOM_CAPACITY" envDefault:"1000000"`

	// BloomFPRate is the bloom filter false positive rate
	BloomFPRate float64 `env:"DEDUP_BLOOM_FP_RATE" envDefault:"0.0001"`
}

// DefaultConfig returns the default dedup configuration.
func DefaultConfig() Config {
	return Config{
		BloomEnabled:  true,
		BloomCapacity: 1_000_000,
		BloomFPRate:   0.0001,
	}
}

// Engine is the per-partition deduplication state machine. It owns the
// partition's keyed state exclusively and is not safe for concurrent use;
// each partition worker drives its own Engine sequentially.
type Engine struct {
	partition int
	store     state.Store
	seen      *bloom.BloomFilter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates an engine over the given keyed state store. The metrics
// parameter is optional (pass nil to disable instrumentation).
func New(partition int, store state.Store, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		partition: partition,
		store:     store,
		metrics:   metrics,
		logger:    logger.With("component", "dedup-engine", "partition", partition),
	}

	if cfg.BloomEnabled {
		capacity := cfg.BloomCapacity
		if capacity == 0 {
			capacity = 1_000_000
		}
		fpRate := cfg.BloomFPRate
		if fpRate <= 0 {
			fpRate = 0.0001
		}
		e.seen = bloom.NewWithEstimates(capacity, fpRate)
		// Seed the filter from restored state so the fast path stays
		// truthful across restarts.
		store.Range(func(key string, _ int64) bool {
			e.seen.AddString(key)
			return true
		})
	}

	return e
}

// Evaluate decides whether the event survives deduplication. On accept it
// updates the keyed state so the decision and the state change land in the
// same checkpoint. On drop it records the dropped key and sequence.
func (e *Engine) Evaluate(ev extract.Event) bool {
	if e.seen != nil && !e.seen.TestString(ev.Key) {
		// Key definitely never accepted before.
		e.seen.AddString(ev.Key)
		e.store.Put(ev.Key, ev.Sequence)
		return true
	}

	last, ok := e.store.Get(ev.Key)
	if !ok || ev.Sequence > last {
		if e.seen != nil {
			e.seen.AddString(ev.Key)
		}
		e.store.Put(ev.Key, ev.Sequence)
		return true
	}

	e.logger.Debug("dropping record with non-increasing sequence",
		"key", ev.Key,
		"sequence", ev.Sequence,
		"last_accepted", last,
	)
	if e.metrics != nil {
		e.metrics.RecordsDropped.Add(context.Background(), 1)
	}
	return false
}
