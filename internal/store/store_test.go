package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/mrkeg/bitkv/errs"
)

func openTemp(t *testing.T, threshold int64) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, threshold, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendReadRoundTrip(t *testing.T) {
	s := openTemp(t, 1<<20)

	id, off, err := s.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	buf := make([]byte, 5)
	n, err := s.ReadAt(id, off, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("got %q (%d bytes)", buf, n)
	}
}

func TestFirstWriteToEmptySegmentAlwaysSucceedsRegardlessOfThreshold(t *testing.T) {
	s := openTemp(t, 1) // threshold smaller than any real write

	id1, _, err := s.Append([]byte("abcdefghij"))
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	// second write must rotate, since the first write already exceeds the threshold
	id2, _, err := s.Append([]byte("x"))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}

	if id1 == id2 {
		t.Fatalf("expected rotation between first and second write, both landed on segment %d", id1)
	}
}

func TestReadAtOutOfRange(t *testing.T) {
	s := openTemp(t, 1<<20)

	_, err := s.ReadAt(999, 0, make([]byte, 1))
	if !errors.Is(err, errs.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestReadAtSealedSegmentAfterRotation(t *testing.T) {
	s := openTemp(t, 1)

	id1, off1, err := s.Append([]byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	_, _, err = s.Append([]byte("second")) // forces rotation
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	buf := make([]byte, 5)
	n, err := s.ReadAt(id1, off1, buf)
	if err != nil {
		t.Fatalf("ReadAt sealed segment: %v", err)
	}
	if n != 5 || string(buf) != "first" {
		t.Fatalf("got %q", buf)
	}
}

func TestReadPastEndIsShortNotError(t *testing.T) {
	s := openTemp(t, 1<<20)

	id, off, err := s.Append([]byte("hi"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	buf := make([]byte, 10)
	n, err := s.ReadAt(id, off, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected short read of 2 bytes, got %d", n)
	}
}

// TestReadAtSurvivesConcurrentRotation drives many concurrent readers
// against a segment that's being rotated out from under them, guarding
// against the closed-active-reader race: rotateLocked must never hand a
// reader a closed file, whatever point mid-read it lands at.
func TestReadAtSurvivesConcurrentRotation(t *testing.T) {
	s := openTemp(t, 1)

	id, off, err := s.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 5)
			n, err := s.ReadAt(id, off, buf)
			if err != nil {
				errCh <- fmt.Errorf("ReadAt: %w", err)
				return
			}
			if n != 5 || string(buf) != "hello" {
				errCh <- fmt.Errorf("got %q (%d bytes)", buf, n)
			}
		}()
	}

	for i := 0; i < 4; i++ {
		if _, _, err := s.Append([]byte("forces a rotation on a low threshold")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

// TestReadAtMissingSegmentIsShortNotError covers the merge path: a
// position naming a segment whose log file is already gone must read as
// short, the same as a stale position past EOF, so the caller's retry
// loop re-consults the directory instead of failing outright.
func TestReadAtMissingSegmentIsShortNotError(t *testing.T) {
	s := openTemp(t, 1)

	id1, _, err := s.Append([]byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, _, err := s.Append([]byte("second")); err != nil { // forces rotation past id1
		t.Fatalf("append: %v", err)
	}

	if err := s.DropSealed(id1); err != nil {
		t.Fatalf("DropSealed: %v", err)
	}
	if err := os.Remove(s.Path(id1)); err != nil {
		t.Fatalf("remove: %v", err)
	}

	buf := make([]byte, 5)
	n, err := s.ReadAt(id1, 0, buf)
	if err != nil {
		t.Fatalf("expected short read for a removed segment, got error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes for a removed segment, got %d", n)
	}
}

// TestDropSealedWaitsForInFlightRead exercises the read/teardown race
// directly: reads of a sealed segment run concurrently with DropSealed
// closing that segment's reader, and every read must come back either
// whole or empty, never with an error or garbage.
func TestDropSealedWaitsForInFlightRead(t *testing.T) {
	s := openTemp(t, 1)

	id1, off1, err := s.Append([]byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, _, err := s.Append([]byte("second")); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Read once through the sealed segment's reader (the one kept open
	// from when it was active) before DropSealed races against it.
	if _, err := s.ReadAt(id1, off1, make([]byte, 5)); err != nil {
		t.Fatalf("prime read: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			buf := make([]byte, 5)
			n, err := s.ReadAt(id1, off1, buf)
			if err != nil {
				errCh <- fmt.Errorf("ReadAt: %w", err)
				return
			}
			if n != 0 && (n != 5 || string(buf) != "first") {
				errCh <- fmt.Errorf("got %q (%d bytes)", buf, n)
			}
		}()
	}
	go func() {
		_ = s.DropSealed(id1)
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}
