package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/mrkeg/bitkv/internal/directory"
	"github.com/mrkeg/bitkv/internal/hint"
	"github.com/mrkeg/bitkv/internal/logio"
	"github.com/mrkeg/bitkv/internal/segname"
	"github.com/mrkeg/bitkv/internal/store"
)

// Reinserter is the write path the merge worker carries surviving
// records through. It is not the engine's plain Insert/Delete: both
// methods only apply their directory update if the key's directory
// entry hasn't moved on since merge decided the record was live, so a
// foreground write racing the merge pass can never be clobbered by a
// stale re-inserted copy (see ReplaceIfCurrent/RemoveIfStillAbsent).
type Reinserter interface {
	ReinsertIfCurrent(key, value []byte, expected directory.Position) error
	ReinsertTombstoneIfAbsent(key []byte) error
}

// Merger periodically reclaims sealed segments whose live-data fraction
// has fallen below threshold by rewriting their surviving records into
// the active segment and deleting the old files.
type Merger struct {
	store     *store.Store
	dir       *directory.Directory
	reader    *logio.Reader
	writer    Reinserter
	dataDir   string
	interval  time.Duration
	threshold float64
	log       *zap.Logger

	cancelled atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewMerger(s *store.Store, d *directory.Directory, w Reinserter, dataDir string, interval time.Duration, threshold float64, log *zap.Logger) *Merger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Merger{
		store:     s,
		dir:       d,
		reader:    logio.NewReader(s),
		writer:    w,
		dataDir:   dataDir,
		interval:  interval,
		threshold: threshold,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

func (m *Merger) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if m.cancelled.Load() {
					return
				}
				m.RunOnce()
			}
		}
	}()
}

func (m *Merger) Stop() {
	m.cancelled.Store(true)
	close(m.stopCh)
	m.wg.Wait()
}

// RunOnce considers every hinted sealed segment except the newest one —
// the newest is left alone so there is always at least one stable,
// already-hinted segment that isn't a moving target for concurrent
// readers — and merges any whose live fraction is at or below threshold.
func (m *Merger) RunOnce() {
	candidates, err := m.candidates()
	if err != nil {
		m.log.Warn("list segments for merge", zap.Error(err))
		return
	}

	for _, id := range candidates {
		if m.cancelled.Load() {
			return
		}

		ratio, total, err := m.liveRatio(id)
		if err != nil {
			m.log.Warn("compute live ratio", zap.Uint32("segment", id), zap.Error(err))
			continue
		}
		if total == 0 || ratio > m.threshold {
			continue
		}

		if err := m.mergeOne(id); err != nil {
			m.log.Warn("merge segment", zap.Uint32("segment", id), zap.Error(err))
			continue
		}
		m.log.Info("merged segment", zap.Uint32("segment", id), zap.Float64("live_ratio", ratio))
	}
}

func (m *Merger) candidates() ([]uint32, error) {
	ids, err := segname.LogIDs(m.dataDir)
	if err != nil {
		return nil, err
	}
	hinted, err := segname.HintIDs(m.dataDir)
	if err != nil {
		return nil, err
	}

	activeID := m.store.ActiveID()

	sealed := mapset.NewSet[uint32]()
	for _, id := range ids {
		if id < activeID && hinted[id] {
			sealed.Add(id)
		}
	}

	sorted := sealed.ToSlice()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) == 0 {
		return nil, nil
	}
	// Exclude the newest hinted segment.
	return sorted[:len(sorted)-1], nil
}

type liveCounts struct {
	total int64
	valid int64
}

func (m *Merger) liveRatio(id uint32) (ratio float64, total int64, err error) {
	counts, err := hint.Fold(m.dataDir, id, liveCounts{}, func(c liveCounts, e hint.Entry) (liveCounts, error) {
		recLen := int64(recordLen(e))
		c.total += recLen
		if isLive(m.dir, id, e) {
			c.valid += recLen
		}
		return c, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if counts.total == 0 {
		return 0, 0, nil
	}
	return float64(counts.valid) / float64(counts.total), counts.total, nil
}

func recordLen(e hint.Entry) int {
	if e.ValuePos == nil {
		return len(e.Key)
	}
	return len(e.Key) + int(e.ValuePos.ValueLen)
}

func isLive(d *directory.Directory, segmentID uint32, e hint.Entry) bool {
	key := string(e.Key)
	if e.ValuePos == nil {
		return d.Missing(key)
	}
	return d.IsCurrent(key, directory.Position{
		SegmentID:   segmentID,
		ValueOffset: e.ValuePos.ValueOffset,
		ValueLen:    e.ValuePos.ValueLen,
	})
}

// mergeOne rewrites segment id's surviving records through the write
// path and, only once that completes without error, removes the
// segment's log and hint files. A live key is carried forward with
// ReinsertIfCurrent; a tombstone whose absence is still authoritative is
// carried forward with ReinsertTombstoneIfAbsent — otherwise deleting
// this segment could let an older, not-yet-merged segment's stale value
// resurface on the next bootstrap. Both reinsert calls only
// apply their directory update if the key's entry hasn't moved on since
// isLive observed it, so a foreground write interleaved between that
// check and this append can never be overwritten by the record merge is
// carrying forward.
func (m *Merger) mergeOne(id uint32) error {
	_, err := hint.Fold(m.dataDir, id, struct{}{}, func(_ struct{}, e hint.Entry) (struct{}, error) {
		if !isLive(m.dir, id, e) {
			return struct{}{}, nil
		}

		if e.ValuePos == nil {
			return struct{}{}, m.writer.ReinsertTombstoneIfAbsent(e.Key)
		}

		pos := directory.Position{SegmentID: id, ValueOffset: e.ValuePos.ValueOffset, ValueLen: e.ValuePos.ValueLen}
		value, err := m.reader.ReadValue(pos)
		if err != nil {
			return struct{}{}, fmt.Errorf("read value for %q: %w", e.Key, err)
		}
		return struct{}{}, m.writer.ReinsertIfCurrent(e.Key, value, pos)
	})
	if err != nil {
		return fmt.Errorf("rewrite live records: %w", err)
	}

	if err := m.store.DropSealed(id); err != nil {
		return fmt.Errorf("drop sealed reader: %w", err)
	}
	if err := os.Remove(m.store.Path(id)); err != nil {
		return fmt.Errorf("remove log file: %w", err)
	}
	if err := os.Remove(hintPath(m.dataDir, id)); err != nil {
		return fmt.Errorf("remove hint file: %w", err)
	}
	return nil
}

func hintPath(dir string, id uint32) string {
	return filepath.Join(dir, segname.HintName(id))
}
