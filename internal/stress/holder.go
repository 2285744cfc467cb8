package stress

import (
	"fmt"
	"sync"

	"github.com/aalhour/kvstress/db"
)

// Holder guards the live *db.DB handle across reopens: workers take the
// read lock for the duration of one operation, the reopen coordinator
// takes the write lock to swap the handle out from under them.
//
// Reference: grounded on cmd/stresstest/main.go's dbHolder (sync.RWMutex
// guarding a db.DB plus its path), trimmed to the fields this harness's
// driver and reopen coordinator actually touch — the teacher's opCount /
// lastCompact / columnFamilies bookkeeping belongs to flags this harness
// doesn't expose (periodic flush/compaction tickers), so it is dropped
// rather than carried unused; column family support is out of scope here
// per SPEC_FULL.md's component budget.
type Holder struct {
	mu   sync.RWMutex
	db   db.DB
	path string
	opts *db.Options
}

// NewHolder wraps an already-open database.
func NewHolder(database db.DB, path string, opts *db.Options) *Holder {
	return &Holder{db: database, path: path, opts: opts}
}

// WithDB runs fn against the current database handle, holding the handle
// stable against a concurrent reopen for fn's duration.
func (h *Holder) WithDB(fn func(db.DB) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.db)
}

// DB returns the current handle. Callers that need the handle to stay
// stable across several calls must use WithDB instead.
func (h *Holder) DB() db.DB {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db
}

// Reopen closes the current handle and opens a fresh one at the same path
// with the same options, simulating crash recovery (§4.7): the lock file
// is released and the in-memory index torn down without a graceful flush.
//
// Reference: grounded on runReopener's close-then-reopen sequence in
// cmd/stresstest/main.go, adapted from a periodic-ticker trigger to a
// caller-driven one — the vote coordinator in reopen.go decides when.
func (h *Holder) Reopen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			return fmt.Errorf("reopen: close failed: %w", err)
		}
	}
	newDB, err := db.Open(h.path, h.opts)
	if err != nil {
		return fmt.Errorf("reopen: open failed: %w", err)
	}
	h.db = newDB
	return nil
}

// Close closes the current handle.
func (h *Holder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}
