// Package bootstrap rebuilds the in-memory directory on open by
// folding every segment's keys, preferring a segment's hint file when
// one exists and falling back to the full log otherwise.
package bootstrap

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mrkeg/bitkv/internal/directory"
	"github.com/mrkeg/bitkv/internal/hint"
	"github.com/mrkeg/bitkv/internal/logio"
	"github.com/mrkeg/bitkv/internal/segname"
	"github.com/mrkeg/bitkv/internal/store"
)

// Run enumerates dir's segments and folds each one's keys, in ascending
// segment id order, into a fresh Directory. Because the last write to a
// key always wins and ascending-id order matches append order across
// rotations, the result is exactly the logical state as of the last
// durable write to each key.
func Run(dir string, s *store.Store) (*directory.Directory, error) {
	ids, err := segname.LogIDs(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	hinted, err := segname.HintIDs(dir)
	if err != nil {
		return nil, fmt.Errorf("list hints: %w", err)
	}
	hintedSet := mapset.NewSet[uint32]()
	for id := range hinted {
		hintedSet.Add(id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d := directory.New()
	for _, id := range ids {
		var err error
		if hintedSet.Contains(id) {
			err = foldHint(dir, id, d)
		} else {
			err = foldLog(s, id, d)
		}
		if err != nil {
			return nil, fmt.Errorf("fold segment %d: %w", id, err)
		}
	}

	return d, nil
}

func foldLog(s *store.Store, id uint32, d *directory.Directory) error {
	_, err := logio.Fold(s, id, struct{}{}, func(_ struct{}, k logio.Key) (struct{}, error) {
		apply(d, id, k.Bytes, k.ValuePos)
		return struct{}{}, nil
	})
	return err
}

func foldHint(dir string, id uint32, d *directory.Directory) error {
	_, err := hint.Fold(dir, id, struct{}{}, func(_ struct{}, e hint.Entry) (struct{}, error) {
		var vp *logio.ValuePos
		if e.ValuePos != nil {
			vp = &logio.ValuePos{ValueOffset: e.ValuePos.ValueOffset, ValueLen: e.ValuePos.ValueLen}
		}
		apply(d, id, e.Key, vp)
		return struct{}{}, nil
	})
	return err
}

func apply(d *directory.Directory, segmentID uint32, key []byte, vp *logio.ValuePos) {
	k := string(key)
	if vp == nil {
		d.Delete(k)
		return
	}
	d.Upsert(k, directory.Position{
		SegmentID:   segmentID,
		ValueOffset: vp.ValueOffset,
		ValueLen:    vp.ValueLen,
	})
}
