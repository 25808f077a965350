// Package storage provides the persistence layer behind the durable
// timer scheduler.
//
// It currently supports:
//   - Durable job records (one per pending timer, keyed by "timer_<id>")
//   - Notifier dedup state (to survive restarts)
package storage
