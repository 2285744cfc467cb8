package stress

import (
	"fmt"
	"math/rand"

	"github.com/aalhour/kvstress/db"
	"github.com/aalhour/kvstress/internal/batch"
)

// numLanes is the fixed lane count §4.5 specifies: ten parallel key
// families used to cross-check write-batch atomicity and snapshot
// isolation without a shadow model.
const numLanes = 10

// LaneKey returns the lane-th family's key for logical key k: the lane
// digit prepended to the encoded key, so lane keys for the same k sort
// together but never collide across lanes.
func LaneKey(lane int, k int64) []byte {
	encoded := EncodeKey(uint64(k))
	out := make([]byte, 0, 1+len(encoded))
	out = append(out, byte('0'+lane))
	return append(out, encoded...)
}

// LaneValue returns the lane-th family's value for base value: the lane
// digit prepended to value, so MultiGet can check the digit then blank it
// before comparing bodies across lanes.
func LaneValue(lane int, value []byte) []byte {
	out := make([]byte, 0, 1+len(value))
	out = append(out, byte('0'+lane))
	return append(out, value...)
}

// BatchRunner executes one operation of batch/snapshot mode (§4.5) per
// call. It carries no shadow; all cross-checking is against the ten lanes
// of the same logical key within one batch or one snapshot.
//
// Reference: grounded on cmd/stresstest/main.go's doBatch for the
// batch.New()/database.Write(opts, wb) atomic-write idiom and on
// doSnapshotRead/doSnapshotVerify for the GetSnapshot/ReleaseSnapshot
// lifecycle; the ten-lane cross-check logic itself has no teacher
// analogue and is built fresh in that idiom.
type BatchRunner struct {
	cfg    *Config
	holder *Holder
}

// NewBatchRunner constructs a BatchRunner for the given configuration and
// database holder.
func NewBatchRunner(cfg *Config, holder *Holder) *BatchRunner {
	return &BatchRunner{cfg: cfg, holder: holder}
}

// MultiPut writes all ten lane entries for logical key k in one atomic
// write batch.
func (b *BatchRunner) MultiPut(rng *rand.Rand, k int64) error {
	base := rng.Uint32() % (Sentinel - 1)
	value := GenerateValue(base, b.cfg.ValueSizeMult)

	wb := batch.New()
	for lane := 0; lane < numLanes; lane++ {
		wb.Put(LaneKey(lane, k), LaneValue(lane, value))
	}
	writeOpts := &db.WriteOptions{Sync: b.cfg.Sync, DisableWAL: b.cfg.DisableWAL}
	return b.holder.WithDB(func(database db.DB) error {
		return database.Write(writeOpts, wb)
	})
}

// MultiDelete deletes all ten lane entries for logical key k in one atomic
// write batch.
func (b *BatchRunner) MultiDelete(k int64) error {
	wb := batch.New()
	for lane := 0; lane < numLanes; lane++ {
		wb.Delete(LaneKey(lane, k))
	}
	return b.holder.WithDB(func(database db.DB) error {
		return database.Write(&db.WriteOptions{}, wb)
	})
}

// MultiGet reads all ten lane entries for logical key k against one
// snapshot and asserts they are cross-consistent: any found lane's value,
// once its leading lane-digit byte is blanked, must equal every other
// found lane's blanked value, and a not-found lane is tolerated only if
// every other lane is also not-found.
func (b *BatchRunner) MultiGet(k int64) error {
	var snap *db.Snapshot
	database := b.holder.DB()
	snap = database.GetSnapshot()
	defer database.ReleaseSnapshot(snap)

	readOpts := &db.ReadOptions{Snapshot: snap}

	var reference []byte
	foundAny, missingAny := false, false
	for lane := 0; lane < numLanes; lane++ {
		value, err := database.Get(readOpts, LaneKey(lane, k))
		if err == db.ErrNotFound {
			missingAny = true
			continue
		}
		if err != nil {
			return fmt.Errorf("key %d lane %d: %w", k, lane, err)
		}
		if len(value) == 0 || value[0] != byte('0'+lane) {
			return fmt.Errorf("key %d lane %d: lane-digit mismatch, got %v", k, lane, value)
		}
		body := value[1:]
		foundAny = true
		if reference == nil {
			reference = body
			continue
		}
		if !bytesEqual(reference, body) {
			return fmt.Errorf("key %d lane %d: cross-lane body mismatch", k, lane)
		}
	}
	if foundAny && missingAny {
		return fmt.Errorf("key %d: partial batch observed (some lanes present, some absent)", k)
	}
	return nil
}

// MultiPrefixScan opens ten iterators, one per lane prefix for logical
// prefix p, all against one snapshot, and advances them in lockstep,
// checking at every step that all ten are valid (or all ten exhausted
// simultaneously) and that their lane-digit-blanked bodies agree.
func (b *BatchRunner) MultiPrefixScan(p int64) error {
	database := b.holder.DB()
	snap := database.GetSnapshot()
	defer database.ReleaseSnapshot(snap)
	readOpts := &db.ReadOptions{Snapshot: snap}

	iters := make([]db.Iterator, numLanes)
	for lane := 0; lane < numLanes; lane++ {
		it := database.NewIterator(readOpts)
		it.Seek(LaneKey(lane, p))
		iters[lane] = it
	}
	defer func() {
		for _, it := range iters {
			it.Close()
		}
	}()

	prefix0 := LaneKey(0, p)[:1+KeySize-1]
	for {
		valid0 := iters[0].Valid() && hasPrefix(iters[0].Key(), prefix0)
		for lane := 1; lane < numLanes; lane++ {
			prefixLane := LaneKey(lane, p)[:1+KeySize-1]
			validLane := iters[lane].Valid() && hasPrefix(iters[lane].Key(), prefixLane)
			if validLane != valid0 {
				return fmt.Errorf("prefix %d: lane 0 valid=%v but lane %d valid=%v", p, valid0, lane, validLane)
			}
		}
		if !valid0 {
			break
		}

		var reference []byte
		for lane := 0; lane < numLanes; lane++ {
			value := iters[lane].Value()
			if len(value) == 0 || value[0] != byte('0'+lane) {
				return fmt.Errorf("prefix %d: lane %d lane-digit mismatch", p, lane)
			}
			body := value[1:]
			if lane == 0 {
				reference = body
				continue
			}
			if !bytesEqual(reference, body) {
				return fmt.Errorf("prefix %d: lane %d body mismatch", p, lane)
			}
		}
		for _, it := range iters {
			it.Next()
		}
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	return bytesEqual(key[:len(prefix)], prefix)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
