// kvstress is a concurrent stress-and-verification harness for an ordered
// key-value storage engine, in the shape of RocksDB's db_stress tool.
//
// Usage: go run ./cmd/kvstress [flags]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aalhour/kvstress/internal/compression"
	"github.com/aalhour/kvstress/internal/logging"
	"github.com/aalhour/kvstress/internal/stress"
)

var (
	seed         = flag.Int64("seed", 0, "Base PRNG seed (0 picks one from the current time)")
	maxKey       = flag.Int64("max-key", 100000, "Size of the key universe")
	threads      = flag.Int("threads", 32, "Number of worker threads")
	opsPerThread = flag.Int64("ops-per-thread", 10000, "Operations performed by each worker")
	reopen       = flag.Int("reopen", 0, "Number of mid-run reopens")

	readPercent   = flag.Int("readpercent", 40, "Percent of ops that are reads")
	prefixPercent = flag.Int("prefixpercent", 10, "Percent of ops that are prefix scans")
	writePercent  = flag.Int("writepercent", 40, "Percent of ops that are writes")
	delPercent    = flag.Int("delpercent", 10, "Percent of ops that are deletes")

	log2KeysPerLock = flag.Uint("log2-keys-per-lock", 2, "Log2 of keys per shard lock")
	valueSizeMult   = flag.Int("value-size-mult", 8, "Value length multiplier")

	testBatchesSnapshots = flag.Bool("test-batches-snapshots", false, "Run the batch/snapshot cross-check mode instead of the shadow-model driver")
	verifyBeforeWrite    = flag.Bool("verify-before-write", false, "Strict shadow check before each write")
	verifyChecksum       = flag.Bool("verify-checksum", false, "Verify checksums on reads")

	disableWAL  = flag.Bool("disable-wal", false, "Disable the write-ahead log")
	syncWrites  = flag.Bool("sync", false, "Sync writes to disk")
	ttl         = flag.Int64("ttl", -1, "TTL in seconds for a TTL-variant open; -1 disables")
	useMergePut = flag.Bool("use-merge-put", false, "Issue writes via Merge instead of Put")
	histogram   = flag.Bool("histogram", false, "Track per-op latency histograms")
	verbose     = flag.Bool("verbose", false, "Print progress lines")

	dbPath             = flag.String("db", "", "Database directory (required)")
	destroyDBInitially = flag.Bool("destroy-db-initially", false, "Wipe the database directory before the run")

	writeBufferSize             = flag.Int("write-buffer-size", 4*1024*1024, "Memtable size before flush")
	blockSize                   = flag.Int("block-size", 4096, "SST block size in bytes")
	bloomBits                   = flag.Int("bloom-bits", 10, "Bloom filter bits per key (0 disables)")
	level0SlowdownWritesTrigger = flag.Int("level0-slowdown-writes-trigger", 0, "L0 file count that triggers write slowdown (0 keeps engine default)")
	level0StopWritesTrigger     = flag.Int("level0-stop-writes-trigger", 0, "L0 file count that stops writes (0 keeps engine default)")
	openFiles                   = flag.Int("open-files", 0, "Max open SST file handles (0 keeps engine default)")
	compressionName             = flag.String("compression", "none", "Compression type: none, snappy, zlib, lz4")
	purgeRedundantKVs           = flag.String("purge-redundant-kvs", "", "true/false to pin purge_redundant_kvs_while_flush; empty keeps the seed-1000 default")

	verifyOnly = flag.Bool("verify-only", false, "Skip OPERATE; open the database and verify an empty shadow")
)

func main() {
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if *dbPath == "" {
		fatal("missing required -db flag")
	}

	cfg := buildConfig()
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration: %v", err)
	}

	if *destroyDBInitially {
		if err := os.RemoveAll(*dbPath); err != nil {
			fatal("destroy-db-initially: %v", err)
		}
	}
	if err := os.MkdirAll(*dbPath, 0o755); err != nil {
		fatal("creating db directory: %v", err)
	}

	logger := logging.NewDefaultLogger(logging.LevelInfo)
	if *verbose {
		logger = logging.NewDefaultLogger(logging.LevelDebug)
	}

	printBanner(cfg)

	stats, err := stress.RunHarness(cfg, logger)
	if err != nil {
		fatal("%v", err)
	}

	stats.Report("kvstress run")
	if stats.Errors() > 0 {
		os.Exit(1)
	}
}

func buildConfig() *stress.Config {
	cfg := &stress.Config{
		Seed:          *seed,
		MaxKey:        *maxKey,
		Threads:       *threads,
		OpsPerThread:  *opsPerThread,
		Reopen:        *reopen,
		ReadPercent:   *readPercent,
		PrefixPercent: *prefixPercent,
		WritePercent:  *writePercent,
		DeletePercent: *delPercent,

		Log2KeysPerLock: uint32(*log2KeysPerLock),
		ValueSizeMult:   *valueSizeMult,

		TestBatchesSnapshots: *testBatchesSnapshots,
		VerifyBeforeWrite:    *verifyBeforeWrite,
		VerifyChecksum:       *verifyChecksum,

		DisableWAL:  *disableWAL,
		Sync:        *syncWrites,
		TTL:         *ttl,
		UseMergePut: *useMergePut,
		Histogram:   *histogram,
		Verbose:     *verbose,

		DBPath:             *dbPath,
		DestroyDBInitially: *destroyDBInitially,

		WriteBufferSize:             *writeBufferSize,
		BlockSize:                   *blockSize,
		BloomBitsPerKey:             *bloomBits,
		Level0SlowdownWritesTrigger: *level0SlowdownWritesTrigger,
		Level0StopWritesTrigger:     *level0StopWritesTrigger,
		MaxOpenFiles:                *openFiles,
		Compression:                 parseCompression(*compressionName),
	}

	if *purgeRedundantKVs != "" {
		cfg.PurgeRedundantKVsWhileFlushSet = true
		cfg.PurgeRedundantKVsWhileFlush = *purgeRedundantKVs == "true"
	}
	if *verifyOnly {
		cfg.OpsPerThread = 0
	}
	return cfg
}

func parseCompression(name string) compression.Type {
	switch name {
	case "snappy":
		return compression.SnappyCompression
	case "zlib":
		return compression.ZlibCompression
	case "lz4":
		return compression.LZ4Compression
	default:
		return compression.NoCompression
	}
}

func printBanner(cfg *stress.Config) {
	fmt.Println("╔═════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        kvstress stress run                       ║")
	fmt.Println("╠═════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║ seed=%-12d max_key=%-10d threads=%-4d ops/thread=%-8d ║\n",
		cfg.Seed, cfg.MaxKey, cfg.Threads, cfg.OpsPerThread)
	fmt.Printf("║ read=%d prefix=%d write=%d del=%d  reopen=%-4d  batches=%-5v ║\n",
		cfg.ReadPercent, cfg.PrefixPercent, cfg.WritePercent, cfg.DeletePercent,
		cfg.Reopen, cfg.TestBatchesSnapshots)
	fmt.Println("╚═════════════════════════════════════════════════════════════════╝")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "kvstress: "+format+"\n", args...)
	os.Exit(1)
}
