// Package bitkv is an embedded, single-writer/multi-reader persistent
// key/value store implementing the Bitcask design: every write is
// appended to a log segment and an in-memory directory maps each live
// key to its current on-disk position. See internal/store,
// internal/logio, internal/directory, internal/bootstrap, and
// internal/worker for the subsystems this type wires together.
package bitkv

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/bootstrap"
	"github.com/mrkeg/bitkv/internal/directory"
	"github.com/mrkeg/bitkv/internal/lock"
	"github.com/mrkeg/bitkv/internal/logio"
	"github.com/mrkeg/bitkv/internal/store"
	"github.com/mrkeg/bitkv/internal/worker"
)

// Engine is the public handle to an open database directory. The zero
// value is not usable; use Open.
type Engine struct {
	dir   *directory.Directory
	store *store.Store

	writer *logio.Writer
	reader *logio.Reader

	fileLock *lock.Lock

	verifyChecksums bool
	getRetries      int

	hintWorker  *worker.HintGenerator
	mergeWorker *worker.Merger

	log *zap.Logger
}

// Option configures Open.
type Option func(*config)

type config struct {
	rotationThreshold int64
	verifyChecksums   bool
	getRetries        int
	hintInterval      time.Duration
	mergeInterval     time.Duration
	mergeThreshold    float64
	hintEnabled       bool
	mergeEnabled      bool
	log               *zap.Logger
}

func defaultConfig() config {
	return config{
		rotationThreshold: 1 * 1024 * 1024,
		verifyChecksums:   false,
		getRetries:        2,
		hintInterval:      30 * time.Second,
		mergeInterval:     30 * time.Second,
		mergeThreshold:    0.2,
		hintEnabled:       true,
		mergeEnabled:      true,
		log:               zap.NewNop(),
	}
}

// WithRotationThreshold sets the byte size above which an append rotates
// to a new active segment. Default 1 MiB.
func WithRotationThreshold(n int64) Option {
	return func(c *config) { c.rotationThreshold = n }
}

// WithVerifyChecksums enables CRC32C verification on every get, at the
// cost of reading the record header and key in addition to the value.
func WithVerifyChecksums(b bool) Option {
	return func(c *config) { c.verifyChecksums = b }
}

// WithGetRetries sets how many times get re-consults the directory after
// a short read caused by a concurrent merge invalidating a position.
func WithGetRetries(n int) Option {
	return func(c *config) { c.getRetries = n }
}

// WithHintInterval sets the hint-generation worker's sleep interval.
func WithHintInterval(d time.Duration) Option {
	return func(c *config) { c.hintInterval = d }
}

// WithMergeInterval sets the merge worker's sleep interval.
func WithMergeInterval(d time.Duration) Option {
	return func(c *config) { c.mergeInterval = d }
}

// WithMergeThreshold sets the live-data fraction at or below which a
// sealed, hinted segment becomes eligible for merge. Default 0.2.
func WithMergeThreshold(f float64) Option {
	return func(c *config) { c.mergeThreshold = f }
}

// WithHintEnabled toggles the hint-generation worker. Default true.
func WithHintEnabled(b bool) Option {
	return func(c *config) { c.hintEnabled = b }
}

// WithMergeEnabled toggles the merge worker. Default true.
func WithMergeEnabled(b bool) Option {
	return func(c *config) { c.mergeEnabled = b }
}

// WithLogger sets the logger used by the store and both workers.
// Default zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// Open acquires an exclusive lock on dataDir, bootstraps the directory
// from whatever segments and hints it finds, and starts the background
// workers. The returned Engine must be closed with Close.
func Open(dataDir string, opts ...Option) (engine *Engine, err error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %q: %v", errs.ErrOpenFailed, dataDir, err)
	}

	fl, err := lock.Acquire(dataDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = fl.Release()
		}
	}()

	s, err := store.Open(dataDir, cfg.rotationThreshold, cfg.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	d, err := bootstrap.Run(dataDir, s)
	if err != nil {
		return nil, fmt.Errorf("bootstrap directory: %w", err)
	}

	e := &Engine{
		dir:             d,
		store:           s,
		writer:          logio.NewWriter(s),
		reader:          logio.NewReader(s),
		fileLock:        fl,
		verifyChecksums: cfg.verifyChecksums,
		getRetries:      cfg.getRetries,
		log:             cfg.log,
	}

	if cfg.hintEnabled {
		e.hintWorker = worker.NewHintGenerator(s, dataDir, cfg.hintInterval, cfg.log)
		e.hintWorker.Start()
	}
	if cfg.mergeEnabled {
		e.mergeWorker = worker.NewMerger(s, d, e, dataDir, cfg.mergeInterval, cfg.mergeThreshold, cfg.log)
		e.mergeWorker.Start()
	}

	return e, nil
}

// Get looks up key and returns its value and true, or nil and false if
// the key has no live entry. A read invalidated by a concurrent merge
// is retried against a freshly re-consulted directory entry, up to the
// configured retry count.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	keyLen := len(key)

	for attempt := 0; attempt <= e.getRetries; attempt++ {
		pos, ok := e.dir.Get(string(key))
		if !ok {
			return nil, false, nil
		}

		if e.verifyChecksums {
			entry, err := e.reader.ReadEntry(pos, keyLen, true)
			if err != nil {
				return nil, false, err
			}
			if entry == nil {
				continue // short read or stale position; retry
			}
			return entry.Value, true, nil
		}

		value, err := e.reader.ReadValue(pos)
		if err != nil {
			if errors.Is(err, errs.ErrBadEntry) {
				continue // short read; position was invalidated, retry
			}
			return nil, false, err
		}
		return value, true, nil
	}

	return nil, false, nil
}

// Insert appends a live record for key/value and, once durable, makes it
// key's current directory entry.
func (e *Engine) Insert(key, value []byte) error {
	pos, err := e.writer.Append(key, value)
	if err != nil {
		return err
	}
	e.dir.Upsert(string(key), pos)
	return nil
}

// Delete appends a tombstone for key and, once durable, removes key's
// directory entry.
func (e *Engine) Delete(key []byte) error {
	_, err := e.writer.AppendTombstone(key)
	if err != nil {
		return err
	}
	e.dir.Delete(string(key))
	return nil
}

// ReinsertIfCurrent is the merge worker's write path for carrying a
// surviving live record forward into the active segment: it appends
// value under key same as Insert, but only installs the new position as
// current if the directory still holds exactly expected — the position
// merge observed as live when it decided this record was worth keeping.
// If a foreground write has since moved key on, the freshly appended
// copy is left unindexed rather than clobbering the newer value; a
// later merge pass reclaims it once it sees the position isn't current.
func (e *Engine) ReinsertIfCurrent(key, value []byte, expected directory.Position) error {
	pos, err := e.writer.Append(key, value)
	if err != nil {
		return err
	}
	e.dir.ReplaceIfCurrent(string(key), expected, pos)
	return nil
}

// ReinsertTombstoneIfAbsent is merge's tombstone counterpart: it appends
// a fresh deletion marker for key, then removes key's directory entry
// only if key is still absent. Merge only calls this when it observed
// key absent at liveness-check time; guarding the removal against a
// foreground Insert that raced that check keeps the race from erasing a
// legitimate new value.
func (e *Engine) ReinsertTombstoneIfAbsent(key []byte) error {
	_, err := e.writer.AppendTombstone(key)
	if err != nil {
		return err
	}
	e.dir.RemoveIfStillAbsent(string(key))
	return nil
}

// Close cancels and waits for both workers, syncs and closes the store,
// and releases the directory lock. Errors from each step are combined.
func (e *Engine) Close() error {
	if e.hintWorker != nil {
		e.hintWorker.Stop()
	}
	if e.mergeWorker != nil {
		e.mergeWorker.Stop()
	}

	var err error
	if closeErr := e.store.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close store: %w", closeErr))
	}
	if releaseErr := e.fileLock.Release(); releaseErr != nil {
		err = multierr.Append(err, fmt.Errorf("release lock: %w", releaseErr))
	}
	return err
}
