// Package errs defines the sentinel error kinds surfaced by the store.
//
// Callers match these with errors.Is; the concrete message attached by
// fmt.Errorf("...: %w", ...) at each call site carries the diagnostic
// detail (file path, key, offset) that the sentinel itself omits.
package errs

import "errors"

var (
	// ErrNotFound means the key has no live entry. Nothing in this module
	// returns it: get, and the RPC Get built on it, report a missing key
	// as a plain false rather than as an error.
	ErrNotFound = errors.New("bitkv: key not found")

	// ErrBadEntry means a log or hint record was short (torn write) or,
	// when checksum verification is enabled, failed its CRC32C check.
	ErrBadEntry = errors.New("bitkv: bad log entry")

	// ErrBadKeyLength means a key was empty or longer than 255 bytes.
	ErrBadKeyLength = errors.New("bitkv: key length must be in [1, 255]")

	// ErrBadValueLength means a value was empty or >= 0xFFFF bytes; 0xFFFF
	// is reserved as the tombstone sentinel.
	ErrBadValueLength = errors.New("bitkv: value length must be in [1, 0xfffe]")

	// ErrOutOfRange means a read was attempted against a segment id
	// greater than the store's current active id.
	ErrOutOfRange = errors.New("bitkv: segment id out of range")

	// ErrOpenFailed wraps failures to open or create the data directory
	// or one of its files during bootstrap.
	ErrOpenFailed = errors.New("bitkv: failed to open data directory")

	// ErrLocked means another process already holds the directory lock.
	ErrLocked = errors.New("bitkv: data directory is locked by another process")
)
