// Package store owns the set of segment files that make up the log:
// it rotates the active segment by size, serves random reads across
// the whole segment set, and is the only thing that ever opens a log
// file handle. Everything above this layer addresses data by
// (segment id, offset), never by path.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/fio"
	"github.com/mrkeg/bitkv/internal/segname"
)

// segEntry is one segment's reader, guarded by its own lock so a
// concurrent ReadAt and a concurrent DropSealed can never race on the
// same underlying file/mapping: ReadAt holds the lock in shared mode for
// the duration of the read, and DropSealed takes it exclusively before
// retiring the reader. Rotation leaves existing entries untouched. A reader of nil means
// the segment's file is gone (reclaimed by merge); ReadAt then reports
// a short read rather than an open error, same as reading past EOF.
type segEntry struct {
	mu     sync.RWMutex
	reader fio.RandomReader
}

// Store is safe for concurrent use: many readers may call ReadAt while
// one writer calls Append.
type Store struct {
	dir               string
	rotationThreshold int64
	log               *zap.Logger

	activeMu     sync.RWMutex
	activeID     uint32
	activeWriter fio.SequentialWriter

	readersMu sync.RWMutex
	readers   map[uint32]*segEntry
}

// Open lists dir for existing .log segments and adopts the
// highest-numbered one as active (creating segment 1 if dir has none).
func Open(dir string, rotationThreshold int64, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	ids, err := segname.LogIDs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", errs.ErrOpenFailed, err)
	}

	activeID := uint32(1)
	if len(ids) > 0 {
		activeID = ids[len(ids)-1]
	}

	s := &Store{
		dir:               dir,
		rotationThreshold: rotationThreshold,
		log:               log,
		activeID:          activeID,
		readers:           make(map[uint32]*segEntry),
	}

	w, r, err := openActive(dir, activeID)
	if err != nil {
		return nil, fmt.Errorf("%w: open active segment %d: %v", errs.ErrOpenFailed, activeID, err)
	}
	s.activeWriter = w
	s.readers[activeID] = &segEntry{reader: r}

	return s, nil
}

func openActive(dir string, id uint32) (fio.SequentialWriter, fio.RandomReader, error) {
	path := filepath.Join(dir, segname.LogName(id))

	w, err := fio.NewFileWriter(path)
	if err != nil {
		return nil, nil, err
	}

	r, err := fio.NewFilePositionalReader(path)
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	return w, r, nil
}

// ActiveID returns the id of the currently active segment.
func (s *Store) ActiveID() uint32 {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeID
}

// Append writes p to the active segment, rotating to a new one first if
// p would overflow the rotation threshold — unless the active segment
// is still empty, in which case the first write always lands there
// regardless of size, since rotating an empty segment would gain
// nothing.
func (s *Store) Append(p []byte) (segmentID uint32, offset int64, err error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if s.activeWriter.Size() > 0 && s.activeWriter.Size()+int64(len(p)) > s.rotationThreshold {
		if err := s.rotateLocked(); err != nil {
			return 0, 0, fmt.Errorf("rotate segment: %w", err)
		}
	}

	off, err := s.activeWriter.Append(p)
	if err != nil {
		return 0, 0, fmt.Errorf("append to segment %d: %w", s.activeID, err)
	}

	return s.activeID, off, nil
}

// rotateLocked seals the current active segment and opens activeID+1 as
// the new one. Caller must hold activeMu for write.
//
// The just-sealed segment's reader is left exactly as it is, installed
// in readers under its own id: it is never closed here. A reader that
// captured it (via ReadAt on what was, a moment ago, the active segment)
// keeps reading through a live, open file — closing it out from under
// an in-flight read would turn a normal short read into a hard I/O
// error, per the teacher's own habit of keeping every segment's file
// handle open for the store's whole life rather than retiring it on
// rotation.
func (s *Store) rotateLocked() error {
	sealedID := s.activeID
	sealedWriter := s.activeWriter

	newID := s.activeID + 1
	w, r, err := openActive(s.dir, newID)
	if err != nil {
		return err
	}

	if err := sealedWriter.Close(); err != nil {
		s.log.Warn("close sealed segment writer", zap.Uint32("segment", sealedID), zap.Error(err))
	}

	s.readersMu.Lock()
	s.readers[newID] = &segEntry{reader: r}
	s.readersMu.Unlock()

	s.activeID = newID
	s.activeWriter = w

	s.log.Info("rotated segment", zap.Uint32("from", sealedID), zap.Uint32("to", newID))
	return nil
}

// ReadAt reads into p starting at offset within segmentID. A short read
// (including zero) is returned verbatim, not as an error; only a
// segmentID beyond the current active id is an error. A segmentID that
// once existed but whose file merge has since removed also reads as
// short, since the caller treats that exactly like a stale position
// invalidated by a concurrent merge — it re-consults the directory and
// retries rather than failing outright.
func (s *Store) ReadAt(segmentID uint32, offset int64, p []byte) (int, error) {
	s.activeMu.RLock()
	activeID := s.activeID
	s.activeMu.RUnlock()

	if segmentID > activeID {
		return 0, errs.ErrOutOfRange
	}

	e, err := s.entry(segmentID)
	if err != nil {
		return 0, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.reader == nil {
		return 0, nil
	}
	return e.reader.ReadAt(p, offset)
}

// entry returns the segEntry for id, lazily mmap-opening a sealed
// segment discovered on disk (e.g. at bootstrap) the first time it's
// read. If id's log file no longer exists — it was removed by a merge
// pass that finished between the caller's directory lookup and this
// read — the entry is cached with a nil reader so every read against it
// comes back short instead of failing with an open error.
func (s *Store) entry(id uint32) (*segEntry, error) {
	s.readersMu.RLock()
	e, ok := s.readers[id]
	s.readersMu.RUnlock()
	if ok {
		return e, nil
	}

	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	// Someone may have opened it while we waited for the write lock.
	if e, ok := s.readers[id]; ok {
		return e, nil
	}

	path := filepath.Join(s.dir, segname.LogName(id))
	r, err := fio.NewMmapReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			e := &segEntry{}
			s.readers[id] = e
			return e, nil
		}
		return nil, fmt.Errorf("open sealed segment %d: %w", id, err)
	}

	e = &segEntry{reader: r}
	s.readers[id] = e
	return e, nil
}

// Sync flushes the active segment's writer.
func (s *Store) Sync() error {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeWriter.Sync()
}

// DropSealed closes and forgets the reader for a sealed segment id, in
// preparation for the merge worker deleting its files. It is a no-op if
// no reader was ever opened for that id. The entry is removed from the
// map before its reader is closed, and the close itself waits for the
// entry's own lock, so a ReadAt already in flight against this segment
// finishes against a valid reader and only afterward does the close
// proceed — never the reverse.
func (s *Store) DropSealed(id uint32) error {
	s.readersMu.Lock()
	e, ok := s.readers[id]
	delete(s.readers, id)
	s.readersMu.Unlock()

	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.reader
	e.reader = nil
	if r == nil {
		return nil
	}
	return r.Close()
}

// Path returns the absolute path to segment id's log file.
func (s *Store) Path(id uint32) string {
	return filepath.Join(s.dir, segname.LogName(id))
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Close flushes and releases every open file handle.
func (s *Store) Close() error {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	var err error
	if syncErr := s.activeWriter.Sync(); syncErr != nil {
		err = syncErr
	}
	if closeErr := s.activeWriter.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	for id, e := range s.readers {
		if e.reader == nil {
			continue
		}
		if closeErr := e.reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close segment %d: %w", id, closeErr)
		}
	}

	return err
}
