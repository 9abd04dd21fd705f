// Package stores provides Redis-backed, short-lived records for the passkey
// ceremonies.
//
// Each record is versioned, binary-encoded and stored with a TTL. A record
// is read and deleted in one GETDEL, so a challenge can be presented at most
// once even when the verification that follows fails.
//
// The package does not generate challenges or verify ceremony responses.
package stores
