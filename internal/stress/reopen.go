package stress

import (
	"time"

	"github.com/aalhour/kvstress/internal/logging"
)

// ReopenChunkSize returns how many operations each thread performs between
// reopen votes: OPERATE is partitioned into reopen+1 equal chunks per §4.3.
func ReopenChunkSize(opsPerThread int64, reopen int) int64 {
	return opsPerThread / int64(reopen+1)
}

// MaybeReopen is called by a worker exactly once per completed chunk. It
// casts this thread's reopen vote; the thread whose vote rolls the modular
// counter back to zero performs the reopen and wakes everyone else, who
// are parked in SharedState.WaitForReopen until it does.
//
// Reference: grounded on cmd/stresstest/main.go's runReopener for the
// close-then-reopen-under-lock sequence, adapted here from a periodic
// ticker to the vote-counted chunk boundary §4.3 requires; reopen count is
// logged the way flush.go logs job outcomes, component-tagged "[reopen]".
func MaybeReopen(shared *SharedState, holder *Holder, logger logging.Logger) error {
	tripped, round := shared.VoteReopen()
	if !tripped {
		shared.WaitForReopen(round)
		return nil
	}

	start := time.Now()
	if err := holder.Reopen(); err != nil {
		logger.Errorf("[reopen] failed after %v: %v", time.Since(start), err)
		shared.FinishReopen()
		return err
	}
	logger.Infof("[reopen] #%d completed in %v", shared.ReopensTotal()+1, time.Since(start))
	shared.FinishReopen()
	return nil
}
