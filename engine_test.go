package bitkv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mrkeg/bitkv/errs"
)

func setupTemp(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithHintEnabled(false), WithMergeEnabled(false)}, opts...)
	e, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("Open(%q): %v", dir, err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, dir
}

func mustGet(t *testing.T, e *Engine, key string) (string, bool) {
	t.Helper()
	v, ok, err := e.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return string(v), ok
}

// Scenarios 1-3 from the spec's end-to-end table.
func TestInsertGetDelete(t *testing.T) {
	e, _ := setupTemp(t)

	if err := e.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v, ok := mustGet(t, e, "a"); !ok || v != "1" {
		t.Fatalf("got %q, %v; want \"1\", true", v, ok)
	}

	if err := e.Insert([]byte("a"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v, ok := mustGet(t, e, "a"); !ok || v != "2" {
		t.Fatalf("got %q, %v; want \"2\", true", v, ok)
	}

	if err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := mustGet(t, e, "a"); ok {
		t.Fatalf("expected a absent after delete")
	}
}

// Scenarios 4-5: rotation and reopen.
func TestSegmentationAndReopen(t *testing.T) {
	e, dir := setupTemp(t, WithRotationThreshold(10))

	for _, k := range []string{"k1", "k2", "k3"} {
		if err := e.Insert([]byte(k), []byte("vvvv")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	logFiles := 0
	for _, ent := range entries {
		if strings.HasSuffix(ent.Name(), ".log") {
			logFiles++
		}
	}
	if logFiles < 2 {
		t.Fatalf("expected at least 2 segment files, got %d", logFiles)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dir, WithRotationThreshold(10), WithHintEnabled(false), WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	for _, k := range []string{"k1", "k2", "k3"} {
		if v, ok := mustGet(t, e2, k); !ok || v != "vvvv" {
			t.Fatalf("after reopen, %q = %q, %v", k, v, ok)
		}
	}
}

// Scenario 6: a flipped value bit surfaces BadEntry under verification.
func TestCRCDetectsCorruption(t *testing.T) {
	e, dir := setupTemp(t, WithVerifyChecksums(true))

	if err := e.Insert([]byte("k"), []byte("value")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.store.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	path := filepath.Join(dir, "1.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0x01 // flip a bit inside "value"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := e.Get([]byte("k")); !errors.Is(err, errs.ErrBadEntry) {
		t.Fatalf("expected ErrBadEntry, got %v", err)
	}
}

// Scenario 7: a larger population with half the keys deleted survives a
// reopen with correct values for every still-live key.
func TestManyKeysWithDeletesSurviveReopen(t *testing.T) {
	e, dir := setupTemp(t, WithRotationThreshold(256))

	const n = 100
	values := make(map[string]string, n)
	deleted := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("value-%03d", i)
		if err := e.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
		values[k] = v
	}
	for i := 0; i < n; i += 2 {
		k := fmt.Sprintf("key-%03d", i)
		if err := e.Delete([]byte(k)); err != nil {
			t.Fatalf("Delete(%q): %v", k, err)
		}
		deleted[k] = true
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dir, WithRotationThreshold(256), WithHintEnabled(false), WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	for k, want := range values {
		v, ok := mustGet(t, e2, k)
		if deleted[k] {
			if ok {
				t.Fatalf("expected %q deleted, still present with %q", k, v)
			}
			continue
		}
		if !ok || v != want {
			t.Fatalf("%q = %q, %v; want %q, true", k, v, ok, want)
		}
	}
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	e, _ := setupTemp(t)
	if _, ok := mustGet(t, e, "nope"); ok {
		t.Fatalf("expected false for a missing key")
	}
}

func TestBadKeyAndValueLengthsRejected(t *testing.T) {
	e, _ := setupTemp(t)

	if err := e.Insert([]byte{}, []byte("v")); !errors.Is(err, errs.ErrBadKeyLength) {
		t.Fatalf("expected ErrBadKeyLength for empty key, got %v", err)
	}
	if err := e.Insert(bytes.Repeat([]byte("k"), 256), []byte("v")); !errors.Is(err, errs.ErrBadKeyLength) {
		t.Fatalf("expected ErrBadKeyLength for 256-byte key, got %v", err)
	}
	if err := e.Insert([]byte("k"), []byte{}); !errors.Is(err, errs.ErrBadValueLength) {
		t.Fatalf("expected ErrBadValueLength for empty value, got %v", err)
	}
}

// Property 8: concurrent readers never observe a value that doesn't
// decode, even while a writer is rotating segments underneath them.
func TestConcurrentGetDuringWrites(t *testing.T) {
	e, _ := setupTemp(t, WithRotationThreshold(64))

	const writes = 500
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			_ = e.Insert([]byte("k"), []byte(fmt.Sprintf("v%04d", i)))
		}
		close(done)
	}()

	var readerWG sync.WaitGroup
	for r := 0; r < 4; r++ {
		readerWG.Add(1)
		go func() {
			defer readerWG.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				v, ok, err := e.Get([]byte("k"))
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				if ok && len(v) != 5 {
					t.Errorf("Get returned malformed value %q", v)
					return
				}
			}
		}()
	}

	wg.Wait()
	readerWG.Wait()
}
