// Package worker runs the two background maintenance passes: producing
// hint files for sealed segments that lack one, and merging sealed
// segments whose live-data fraction has fallen below a threshold. Both
// are periodic, cooperatively cancellable, and hold only borrowed
// references to the store, the directory, and the engine's write path —
// they own nothing and are always cancelled before the engine tears
// down what they were looking at.
package worker

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/mrkeg/bitkv/internal/hint"
	"github.com/mrkeg/bitkv/internal/logio"
	"github.com/mrkeg/bitkv/internal/segname"
	"github.com/mrkeg/bitkv/internal/store"
)

// HintGenerator periodically writes hint files for sealed segments that
// don't have one yet.
type HintGenerator struct {
	store    *store.Store
	dir      string
	interval time.Duration
	log      *zap.Logger

	cancelled atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewHintGenerator(s *store.Store, dir string, interval time.Duration, log *zap.Logger) *HintGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &HintGenerator{store: s, dir: dir, interval: interval, log: log, stopCh: make(chan struct{})}
}

// Start runs the periodic pass in its own goroutine until Stop is called.
func (g *HintGenerator) Start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				if g.cancelled.Load() {
					return
				}
				g.RunOnce()
			}
		}
	}()
}

// Stop signals cancellation and blocks until the current pass, if any,
// finishes.
func (g *HintGenerator) Stop() {
	g.cancelled.Store(true)
	close(g.stopCh)
	g.wg.Wait()
}

// RunOnce writes hints for every sealed segment lacking one. A failure
// on one segment is logged and does not prevent the others from being
// attempted.
func (g *HintGenerator) RunOnce() {
	missing, err := g.missingHints()
	if err != nil {
		g.log.Warn("list segments for hint generation", zap.Error(err))
		return
	}

	for _, id := range missing {
		if g.cancelled.Load() {
			return
		}
		if err := g.generate(id); err != nil {
			g.log.Warn("generate hint", zap.Uint32("segment", id), zap.Error(err))
			continue
		}
		g.log.Info("generated hint", zap.Uint32("segment", id))
	}
}

func (g *HintGenerator) missingHints() ([]uint32, error) {
	ids, err := segname.LogIDs(g.dir)
	if err != nil {
		return nil, err
	}
	hinted, err := segname.HintIDs(g.dir)
	if err != nil {
		return nil, err
	}

	activeID := g.store.ActiveID()

	all := mapset.NewSet[uint32]()
	for _, id := range ids {
		if id < activeID {
			all.Add(id)
		}
	}
	have := mapset.NewSet[uint32]()
	for id := range hinted {
		have.Add(id)
	}

	missing := all.Difference(have).ToSlice()
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

func (g *HintGenerator) generate(id uint32) error {
	var entries []hint.Entry
	_, err := logio.Fold(g.store, id, struct{}{}, func(_ struct{}, k logio.Key) (struct{}, error) {
		e := hint.Entry{Key: append([]byte(nil), k.Bytes...)}
		if k.ValuePos != nil {
			e.ValuePos = &hint.ValuePos{ValueOffset: k.ValuePos.ValueOffset, ValueLen: k.ValuePos.ValueLen}
		}
		entries = append(entries, e)
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("fold segment %d: %w", id, err)
	}

	if err := hint.Write(g.dir, id, entries); err != nil {
		return fmt.Errorf("write hint: %w", err)
	}
	return nil
}
