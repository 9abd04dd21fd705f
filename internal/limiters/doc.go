// Package limiters provides Redis-backed failure counters for login and
// second-factor attempts.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
// Each limiter owns its key prefix. Callers decide what a limit means.
package limiters
