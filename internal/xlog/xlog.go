// Package xlog is the structured-logging entry point shared by
// cmd/postguard and pkg/pkgserver. The cryptographic core (pkg/deck,
// pkg/seal, pkg/unseal, pkg/identity) never imports it: segment
// plaintext and key material must never reach a log sink.
package xlog

import "go.uber.org/zap"

// New builds a production zap logger, matching the construction the
// luxfi-adx example uses (zap.NewProduction) rather than hand-rolling a
// leveled-writer shim.
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewDevelopment builds a zap logger tuned for local runs: human-readable
// encoding and debug level enabled.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// NoOp returns a logger that discards everything, for tests and library
// callers that don't want PostGuard writing to their process's log sink.
func NoOp() *zap.Logger {
	return zap.NewNop()
}
