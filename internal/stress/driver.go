package stress

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/aalhour/kvstress/db"
	"github.com/aalhour/kvstress/internal/logging"
)

// pollInterval is how long a worker sleeps between TryLock attempts on a
// shard mutex, matching cmd/stresstest/main.go's doPut/doDelete idiom.
const pollInterval = 100 * time.Microsecond

// opClass is the four-way classification §4.4 fixes the order of.
type opClass int

const (
	opRead opClass = iota
	opPrefix
	opWrite
	opDelete
)

func classify(p, readPct, prefixPct, writePct int) opClass {
	if p < readPct {
		return opRead
	}
	p -= readPct
	if p < prefixPct {
		return opPrefix
	}
	p -= prefixPct
	if p < writePct {
		return opWrite
	}
	return opDelete
}

// RunWorker executes one worker thread's full lifecycle: arrive at INIT,
// wait for start, run ops_per_thread operations (voting on reopen at each
// chunk boundary), arrive at OPERATE-done, wait for VERIFY, verify its
// stride, arrive at DONE. It returns that thread's Stats.
//
// Reference: grounded on cmd/stresstest/main.go's runWorker for the
// TryLock-and-poll shard acquisition and the cumulative-weight-style
// dispatch, reclassified onto the fixed Read/Prefix/Write/Delete order
// §4.4 requires instead of the teacher's thirteen-way operation mix.
func RunWorker(cfg *Config, shared *SharedState, tid int, holder *Holder, shadow *Shadow, logger logging.Logger) *Stats {
	stats := NewStats("worker", cfg.Histogram)
	rng := rand.New(rand.NewSource(cfg.Seed + 1000 + int64(tid)))

	shared.ArriveAtInit()
	shared.WaitForStart()

	stats.Start()

	chunk := ReopenChunkSize(cfg.OpsPerThread, cfg.Reopen)
	var i int64
	for i = 0; i < cfg.OpsPerThread; i++ {
		opStart := time.Now()
		runOneOp(cfg, shadow, holder, rng, stats, logger)
		stats.FinishedSingleOp(time.Since(opStart), cfg.Verbose)

		if chunk > 0 && (i+1)%chunk == 0 && (i+1)/chunk <= int64(cfg.Reopen) {
			if err := MaybeReopen(shared, holder, logger); err != nil {
				logger.Warnf("[worker %d] reopen failed: %v", tid, err)
			}
			stats.AddReopens(1)
		}
	}

	stats.Stop()
	shared.ArriveAtOperateDone()
	shared.WaitForVerify()

	if err := VerifyStride(cfg, shadow, holder, tid, true); err != nil {
		VerificationAbort(logger, err)
	}

	shared.ArriveAtDone()
	return stats
}

// runOneOp draws rand_key and the classification roll, then executes
// exactly one operation per §4.4's numbered steps.
func runOneOp(cfg *Config, shadow *Shadow, holder *Holder, rng *rand.Rand, stats *Stats, logger logging.Logger) {
	key := rng.Int63n(cfg.MaxKey)
	p := rng.Intn(100)

	switch classify(p, cfg.ReadPercent, cfg.PrefixPercent, cfg.WritePercent) {
	case opRead:
		doRead(holder, key, stats)
	case opPrefix:
		doPrefixScan(holder, key, stats, logger)
	case opWrite:
		doWrite(cfg, shadow, holder, rng, key, stats, logger)
	case opDelete:
		doDelete(shadow, holder, key, stats)
	}
}

func doRead(holder *Holder, key int64, stats *Stats) {
	encoded := EncodeKey(uint64(key))
	err := holder.WithDB(func(database db.DB) error {
		_, err := database.Get(nil, encoded)
		return err
	})
	switch {
	case err == nil:
		stats.AddGets(1, 1)
	case err == db.ErrNotFound:
		stats.AddGets(1, 0)
	default:
		stats.AddErrors(1)
	}
}

func doPrefixScan(holder *Holder, key int64, stats *Stats, logger logging.Logger) {
	prefix := KeyPrefix(uint64(key), KeySize-1)
	count := 0
	err := holder.WithDB(func(database db.DB) error {
		it := database.NewIterator(nil)
		defer it.Close()
		for it.Seek(prefix); it.Valid(); it.Next() {
			k := it.Key()
			if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
				break
			}
			count++
			if count > 256 {
				return fmt.Errorf("prefix %x: scan matched %d keys, a 7-byte prefix can match at most 256 distinct %d-byte keys", prefix, count, KeySize)
			}
		}
		return it.Error()
	})
	if err != nil {
		VerificationAbort(logger, err)
		return
	}
	stats.AddPrefixes(1, count)
}

func doWrite(cfg *Config, shadow *Shadow, holder *Holder, rng *rand.Rand, key int64, stats *Stats, logger logging.Logger) {
	base := rng.Uint32() % (Sentinel - 1)
	value := GenerateValue(base, cfg.ValueSizeMult)
	encoded := EncodeKey(uint64(key))

	lock := shadow.GetLock(key)
	for !lock.TryLock() {
		time.Sleep(pollInterval)
	}
	defer lock.Unlock()

	if cfg.VerifyBeforeWrite {
		if err := verifyOne(holder, key, shadow.Get(key), cfg.ValueSizeMult, true); err != nil {
			VerificationAbort(logger, err) // §8 P3/verify_before_write violation: fatal per §7 class 3
		}
	}

	shadow.Put(key, base)

	writeOpts := &db.WriteOptions{Sync: cfg.Sync, DisableWAL: cfg.DisableWAL}
	err := holder.WithDB(func(database db.DB) error {
		if cfg.UseMergePut {
			return database.Merge(writeOpts, encoded, value)
		}
		return database.Put(writeOpts, encoded, value)
	})
	if err != nil {
		stats.AddErrors(1)
		return
	}
	stats.AddBytesForWrites(1, len(value))
}

func doDelete(shadow *Shadow, holder *Holder, key int64, stats *Stats) {
	encoded := EncodeKey(uint64(key))

	lock := shadow.GetLock(key)
	for !lock.TryLock() {
		time.Sleep(pollInterval)
	}
	defer lock.Unlock()

	shadow.Delete(key)

	writeOpts := &db.WriteOptions{}
	err := holder.WithDB(func(database db.DB) error {
		return database.Delete(writeOpts, encoded)
	})
	if err != nil {
		stats.AddErrors(1)
		return
	}
	stats.AddDeletes(1)
}
