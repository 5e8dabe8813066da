// Package research runs property research jobs: a registry of typed workers
// executed in dependency waves, with evidence aggregation and durable job
// status tracking.
//
// A job moves PENDING → IN_PROGRESS → COMPLETED/FAILED. Each wave runs its
// workers concurrently under a bounded pool; a wave's outputs become visible
// to later waves only after every worker in it has finished, through an
// immutable Snapshot layer. Each finished worker is persisted in its own
// transaction (run record, evidence, artifacts, job progress).
package research
