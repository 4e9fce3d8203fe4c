package fio

import (
	"os"

	"github.com/tysonmote/gommap"
)

// mmapReader is the default RandomReader for sealed segments: the file
// never grows again once sealed, so a read-only mapping lets many
// readers share the page cache without a syscall per read.
type mmapReader struct {
	f    *os.File
	m    gommap.MMap
	size int64
}

// NewMmapReader memory-maps path read-only for the lifetime of the
// returned reader.
func NewMmapReader(path string) (RandomReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := info.Size()
	if size == 0 {
		// gommap.Map rejects zero-length mappings; a zero-length sealed
		// segment reads as empty forever.
		return &mmapReader{f: f, size: 0}, nil
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &mmapReader{f: f, m: m, size: size}, nil
}

func (r *mmapReader) ReadAt(p []byte, offset int64) (int, error) {
	if offset >= r.size || offset < 0 {
		return 0, nil
	}

	n := copy(p, r.m[offset:r.size])
	return n, nil
}

func (r *mmapReader) Close() error {
	if r.m != nil {
		// Sync is a no-op on a PROT_READ mapping but keeps this reader's
		// teardown symmetric with the writer side's durability story.
		_ = r.m.Sync(gommap.MS_SYNC)
		if err := r.m.UnsafeUnmap(); err != nil {
			_ = r.f.Close()
			return err
		}
	}
	return r.f.Close()
}
