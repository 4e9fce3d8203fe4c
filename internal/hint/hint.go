// Package hint implements the hint file format: a compact per-segment
// summary of each key's current value position, used to rebuild the
// directory without re-reading every value, and to drive merge's
// liveness estimate.
package hint

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mrkeg/bitkv/errs"
	"github.com/mrkeg/bitkv/internal/record"
	"github.com/mrkeg/bitkv/internal/segname"
)

// Entry is one key's hint record: its bytes and, for a live key, where
// its value lives in the segment the hint belongs to. Tombstone is nil.
type Entry struct {
	Key      []byte
	ValuePos *ValuePos
}

type ValuePos struct {
	ValueOffset uint32
	ValueLen    uint16
}

// Write serializes entries as one hint record apiece and installs the
// result as dir/<id>.hint, writing to a temporary file first so that a
// crash mid-write never leaves a partial file at the final name —
// bootstrap only ever sees either no hint or a complete one.
func Write(dir string, id uint32, entries []Entry) error {
	finalPath := filepath.Join(dir, segname.HintName(id))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp hint: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		var buf []byte
		var err error
		if e.ValuePos == nil {
			buf, err = record.EncodeHintTombstone(e.Key)
		} else {
			buf, err = record.EncodeHintLive(e.Key, e.ValuePos.ValueOffset, e.ValuePos.ValueLen)
		}
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("encode hint record: %w", err)
		}
		if _, err := w.Write(buf); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write hint record: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush hint: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync hint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close hint: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("install hint: %w", err)
	}
	return nil
}

// Fold walks a hint file start to end, threading acc through fn for
// each record. It is the hint-file counterpart of logio.Fold: it reads
// dir/<id>.hint instead of the store and hands fn an Entry instead of a
// logio.Key, and it never touches value bytes at all — that's the
// entire point of a hint file.
func Fold[A any](dir string, id uint32, acc A, fn func(A, Entry) (A, error)) (A, error) {
	path := filepath.Join(dir, segname.HintName(id))
	f, err := os.Open(path)
	if err != nil {
		return acc, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		hdr := make([]byte, record.HintHeaderLen)
		if _, err := io.ReadFull(r, hdr); err != nil {
			if err == io.EOF {
				return acc, nil
			}
			return acc, errs.ErrBadEntry
		}

		h := record.DecodeHintHeader(hdr)
		if err := record.ValidateKeyLen(h.KeyLen); err != nil {
			return acc, errs.ErrBadEntry
		}

		key := make([]byte, h.KeyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return acc, errs.ErrBadEntry
		}

		var vp *ValuePos
		if !h.IsTombstone() {
			vp = &ValuePos{ValueOffset: h.ValueOffset, ValueLen: h.ValueLen}
		}

		acc, err = fn(acc, Entry{Key: key, ValuePos: vp})
		if err != nil {
			return acc, err
		}
	}
}
