// Package permission maps named permissions to bits and roles to masks.
//
// Registries and role managers are built once at startup, frozen, and then
// read concurrently by authorization checks.
package permission
