// Package stress implements the concurrency core of the kvstress harness:
// the shadow model, the phase barrier and reopen coordinator, the
// randomized workload driver, the batch/snapshot cross-check mode, and the
// post-run verifier.
//
// cmd/kvstress wires a Config and a database together and calls
// RunHarness; everything else in this package is reachable from there.
//
// Reference: RocksDB-style db_stress tool design, as implemented in
// cmd/stresstest of this module and in the original db_stress.cc this
// harness traces its workload-mix and reopen-voting protocol to.
package stress
