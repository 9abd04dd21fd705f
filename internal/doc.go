// Package internal contains private helpers: random token generation,
// token hashing and device fingerprint hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: proof precedence and backup-code primitives
//   - limiters: Redis-backed attempt counters
//   - passkey: WebAuthn ceremonies
//   - settings: service configuration loading
//   - stores: Redis-backed WebAuthn challenge ledger
package internal
