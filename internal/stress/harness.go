package stress

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/aalhour/kvstress/db"
	"github.com/aalhour/kvstress/internal/logging"
)

// RunHarness opens the database per cfg, runs the four-phase barrier
// (§4.3) across cfg.Threads workers, and returns the merged Stats. It is
// the single entry point cmd/kvstress calls; everything else in this
// package is reachable from here.
func RunHarness(cfg *Config, logger logging.Logger) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	holder := NewHolder(database, cfg.DBPath, cfg.Options())

	if cfg.TestBatchesSnapshots {
		return runBatchHarness(cfg, holder, logger)
	}

	shadow := NewShadow(cfg.MaxKey, cfg.Log2KeysPerLock)
	shared := NewSharedState(cfg.Threads)

	results := make([]*Stats, cfg.Threads)
	var wg sync.WaitGroup
	for t := 0; t < cfg.Threads; t++ {
		tid := t
		wg.Go(func() {
			results[tid] = RunWorker(cfg, shared, tid, holder, shadow, logger)
		})
	}
	wg.Wait()

	merged := NewStats("harness", cfg.Histogram)
	merged.Start()
	for _, s := range results {
		merged.Merge(s)
	}
	merged.Stop()

	if err := holder.Close(); err != nil {
		logger.Warnf("[harness] close on exit failed: %v", err)
	}
	return merged, nil
}

// runBatchHarness drives §4.5's batch/snapshot mode: no shadow, but the
// same reopen coordination protocol as normal mode runs across
// cfg.Threads workers, each classifying its draws onto the fixed
// Read/Prefix/Write/Delete order via the ten-lane operations instead of
// single-key ones.
func runBatchHarness(cfg *Config, holder *Holder, logger logging.Logger) (*Stats, error) {
	runner := NewBatchRunner(cfg, holder)
	shared := NewSharedState(cfg.Threads)
	results := make([]*Stats, cfg.Threads)

	var wg sync.WaitGroup
	for t := 0; t < cfg.Threads; t++ {
		tid := t
		wg.Go(func() {
			results[tid] = runBatchWorker(cfg, shared, runner, tid, holder, logger)
		})
	}
	wg.Wait()

	merged := NewStats("harness", cfg.Histogram)
	merged.Start()
	for _, s := range results {
		merged.Merge(s)
	}
	merged.Stop()

	if err := holder.Close(); err != nil {
		logger.Warnf("[harness] close on exit failed: %v", err)
	}
	return merged, nil
}

// runBatchWorker mirrors RunWorker's chunk-boundary reopen voting, but
// without a start/verify phase barrier: batch mode has no shadow to
// verify against, so threads run independently once launched.
func runBatchWorker(cfg *Config, shared *SharedState, runner *BatchRunner, tid int, holder *Holder, logger logging.Logger) *Stats {
	stats := NewStats("batch-worker", cfg.Histogram)
	stats.Start()

	rng := rand.New(rand.NewSource(cfg.Seed + 1000 + int64(tid)))
	chunk := ReopenChunkSize(cfg.OpsPerThread, cfg.Reopen)
	var i int64
	for i = 0; i < cfg.OpsPerThread; i++ {
		key := rng.Int63n(cfg.MaxKey)
		p := rng.Intn(100)

		switch classify(p, cfg.ReadPercent, cfg.PrefixPercent, cfg.WritePercent) {
		case opRead:
			if err := runner.MultiGet(key); err != nil {
				stats.AddErrors(1)
				logger.Errorf("[batch] cross-lane inconsistency: %v", err)
				continue
			}
			stats.AddGets(numLanes, numLanes)
		case opPrefix:
			if err := runner.MultiPrefixScan(key); err != nil {
				stats.AddErrors(1)
				logger.Errorf("[batch] cross-lane prefix inconsistency: %v", err)
				continue
			}
			stats.AddPrefixes(numLanes, 0)
		case opWrite:
			if err := runner.MultiPut(rng, key); err != nil {
				stats.AddErrors(1)
				logger.Errorf("[batch] MultiPut(%d): %v", key, err)
				continue
			}
			stats.AddBytesForWrites(numLanes, 0)
		case opDelete:
			if err := runner.MultiDelete(key); err != nil {
				stats.AddErrors(1)
				logger.Errorf("[batch] MultiDelete(%d): %v", key, err)
				continue
			}
			stats.AddDeletes(numLanes)
		}

		if chunk > 0 && (i+1)%chunk == 0 && (i+1)/chunk <= int64(cfg.Reopen) {
			if err := MaybeReopen(shared, holder, logger); err != nil {
				logger.Warnf("[batch worker %d] reopen failed: %v", tid, err)
			}
			stats.AddReopens(1)
		}
	}

	stats.Stop()
	return stats
}

// openDatabase opens the database at cfg.DBPath. destroy_db_initially is
// handled by cmd/kvstress before RunHarness is ever called, since it is a
// filesystem operation on the directory, not a db.DB method.
//
// The ttl control-surface option (§6 table) is accepted into Config but
// not wired to an actual TTL-variant open here: the root package's
// OpenWithTTL returns a *TTLDB that does not implement the full db.DB
// interface RunHarness depends on (it lacks Write/Merge/MultiGet), and the
// root package's database type is not interchangeable with db.DB — see
// DESIGN.md for the justification. A non-negative TTL is logged and
// otherwise ignored rather than silently pretended to work.
func openDatabase(cfg *Config) (db.DB, error) {
	return db.Open(cfg.DBPath, cfg.Options())
}
