// Package timer implements the timer engine: natural-language command
// detection, the in-process registry of active timers, and the expiry
// handler that turns a fired durable job into a user notification.
//
// # Lifecycle
//
// A timer is created by Registry.Start, which appends it to the observable
// snapshot and schedules a durable job keyed by "timer_<id>". It leaves the
// registry through exactly one of:
//   - Registry.Cancel (user cancellation; also cancels the durable job), or
//   - Registry.Expire (called by the expiry handler when the job fires;
//     the job itself is the reason for removal, so it is not re-cancelled).
//
// The registry is the source of truth for "what timers exist right now" in
// this process; the durable job is the source of truth for "should this
// fire". After a restart the registry may be empty while a job still fires,
// and that is by contract: the notification must still be delivered.
package timer
