// Package schedule implements the durable scheduler behind the timer
// registry: "run this payload after this delay, even across restarts".
//
// Every accepted job is persisted to storage before a runtime timer is
// armed, so a process restart can reload and re-arm pending jobs. Jobs are
// keyed; scheduling under an existing key replaces the pending job instead
// of duplicating it, which guarantees at most one pending expiry callback
// per timer. A periodic reconcile sweep re-arms any persisted job that has
// lost its runtime timer.
package schedule
