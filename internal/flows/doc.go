// Package flows holds the pure parts of the MFA login flows: second-factor
// proof precedence and backup-code generation and hashing.
//
// Flow functions take a dependency struct of closures and own no resources.
// They must not import the root package.
package flows
