package stress

import (
	"fmt"
	"time"

	"github.com/codahale/hdrhistogram"
)

// progressThresholds is the exponentially widening schedule on which
// FinishedSingleOp prints a progress line: print the first time the
// per-thread op count reaches each threshold, then every histogramMaxBucket
// ops thereafter.
var progressThresholds = []uint64{100, 500, 1000, 5000, 10000, 50000, 100000}

const (
	statsMinLatency = 1 * time.Microsecond
	statsMaxLatency = 30 * time.Second
	statsSigFigs    = 2
)

// Stats is a single worker thread's counters and, optionally, a latency
// histogram. Workers never touch each other's Stats; the harness merges
// every thread's Stats into one aggregate after all threads reach DONE.
//
// Reference: generalizes cmd/stresstest/main.go's Stats (fixed named
// atomic counters merged into a final report) into the counter set named
// by this harness's spec, and grounds its histogram on
// cockroachdb-cockroach's pkg/workload/histogram.NamedHistogram
// (clamp-then-record against a *hdrhistogram.Histogram).
type Stats struct {
	name string

	startedAt  time.Time
	finishedAt time.Time

	ops      uint64
	reads    uint64
	found    uint64
	notFound uint64
	prefixes uint64
	prefixSz uint64
	writes   uint64
	writeSz  uint64
	deletes  uint64
	errors   uint64
	reopens  uint64

	hist       *hdrhistogram.Histogram
	nextThresh int
}

// NewStats creates an empty Stats block for one worker thread. If
// withHistogram is false (the `histogram` option is unset), latency is not
// tracked at all — recordLatency becomes a no-op.
func NewStats(name string, withHistogram bool) *Stats {
	s := &Stats{name: name}
	if withHistogram {
		s.hist = hdrhistogram.New(statsMinLatency.Nanoseconds(), statsMaxLatency.Nanoseconds(), statsSigFigs)
	}
	return s
}

// Start marks the beginning of the measured interval.
func (s *Stats) Start() {
	s.startedAt = time.Now()
}

// Stop marks the end of the measured interval.
func (s *Stats) Stop() {
	s.finishedAt = time.Now()
}

// recordLatency clamps elapsed into the histogram's trackable range and
// records it, mirroring NamedHistogram.Record.
func (s *Stats) recordLatency(elapsed time.Duration) {
	if s.hist == nil {
		return
	}
	if elapsed < statsMinLatency {
		elapsed = statsMinLatency
	} else if elapsed > statsMaxLatency {
		elapsed = statsMaxLatency
	}
	_ = s.hist.RecordValue(elapsed.Nanoseconds())
}

// FinishedSingleOp records that one operation completed, taking its
// latency, and prints a progress line on the exponentially widening
// schedule described in §4.2.
func (s *Stats) FinishedSingleOp(elapsed time.Duration, verbose bool) {
	s.ops++
	s.recordLatency(elapsed)

	if !verbose {
		return
	}
	for s.nextThresh < len(progressThresholds) && s.ops >= progressThresholds[s.nextThresh] {
		fmt.Printf("[%s] ... finished %d ops\n", s.name, s.ops)
		s.nextThresh++
	}
	if s.nextThresh >= len(progressThresholds) {
		last := progressThresholds[len(progressThresholds)-1]
		if (s.ops-last)%last == 0 {
			fmt.Printf("[%s] ... finished %d ops\n", s.name, s.ops)
		}
	}
}

// AddBytesForWrites counts n write operations totalling byteCount bytes.
func (s *Stats) AddBytesForWrites(n int, byteCount int) {
	s.writes += uint64(n)
	s.writeSz += uint64(byteCount)
}

// AddGets counts n read operations, found of which returned a value.
func (s *Stats) AddGets(n, found int) {
	s.reads += uint64(n)
	s.found += uint64(found)
	s.notFound += uint64(n - found)
}

// AddPrefixes counts n prefix scans covering sizeSum total entries.
func (s *Stats) AddPrefixes(n, sizeSum int) {
	s.prefixes += uint64(n)
	s.prefixSz += uint64(sizeSum)
}

// AddDeletes counts n delete operations.
func (s *Stats) AddDeletes(n int) {
	s.deletes += uint64(n)
}

// AddErrors counts n operation errors.
func (s *Stats) AddErrors(n int) {
	s.errors += uint64(n)
}

// AddReopens counts one reopen event observed by this thread.
func (s *Stats) AddReopens(n int) {
	s.reopens += uint64(n)
}

// Merge folds other's counters and histogram into s. Only the main thread,
// after every worker has reached DONE, calls Merge.
func (s *Stats) Merge(other *Stats) {
	s.ops += other.ops
	s.reads += other.reads
	s.found += other.found
	s.notFound += other.notFound
	s.prefixes += other.prefixes
	s.prefixSz += other.prefixSz
	s.writes += other.writes
	s.writeSz += other.writeSz
	s.deletes += other.deletes
	s.errors += other.errors
	s.reopens += other.reopens

	if other.startedAt.Before(s.startedAt) || s.startedAt.IsZero() {
		s.startedAt = other.startedAt
	}
	if other.finishedAt.After(s.finishedAt) {
		s.finishedAt = other.finishedAt
	}

	if other.hist != nil {
		if s.hist == nil {
			s.hist = hdrhistogram.New(statsMinLatency.Nanoseconds(), statsMaxLatency.Nanoseconds(), statsSigFigs)
		}
		s.hist.Merge(other.hist)
	}
}

// Report prints a human-readable summary to stdout, in the teacher's
// banner-and-labeled-counters style (cmd/stresstest/main.go's printStats).
func (s *Stats) Report(name string) {
	elapsed := s.finishedAt.Sub(s.startedAt)
	fmt.Println()
	fmt.Println("══════════════════════════════════════════════════════════════════")
	fmt.Printf("  %s\n", name)
	fmt.Println("──────────────────────────────────────────────────────────────────")
	fmt.Printf("  Elapsed:     %12v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Ops:         %12d\n", s.ops)
	fmt.Printf("  Reads:       %12d  (found %d, not-found %d)\n", s.reads, s.found, s.notFound)
	fmt.Printf("  Prefixes:    %12d  (entries %d)\n", s.prefixes, s.prefixSz)
	fmt.Printf("  Writes:      %12d  (bytes %d)\n", s.writes, s.writeSz)
	fmt.Printf("  Deletes:     %12d\n", s.deletes)
	fmt.Printf("  Reopens:     %12d\n", s.reopens)
	fmt.Printf("  Errors:      %12d\n", s.errors)
	if s.hist != nil {
		fmt.Printf("  Latency p50: %12v\n", time.Duration(s.hist.ValueAtQuantile(50)))
		fmt.Printf("  Latency p99: %12v\n", time.Duration(s.hist.ValueAtQuantile(99)))
		fmt.Printf("  Latency max: %12v\n", time.Duration(s.hist.Max()))
	}
	fmt.Println("══════════════════════════════════════════════════════════════════")
}

// Errors returns the running error count.
func (s *Stats) Errors() uint64 { return s.errors }

// Ops returns the running op count.
func (s *Stats) Ops() uint64 { return s.ops }

// Prefixes returns the running prefix-scan count.
func (s *Stats) Prefixes() uint64 { return s.prefixes }

// Gets returns the running read count.
func (s *Stats) Gets() uint64 { return s.reads }
