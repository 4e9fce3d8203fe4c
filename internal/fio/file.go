package fio

import "os"

// fileWriter is the direct, non-mmap SequentialWriter used for the
// active segment, whose length keeps growing for as long as it stays
// active.
type fileWriter struct {
	f    *os.File
	size int64
}

// NewFileWriter opens (creating if needed) path for append and reports
// its current length as the starting size.
func NewFileWriter(path string) (SequentialWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &fileWriter{f: f, size: info.Size()}, nil
}

func (w *fileWriter) Append(p []byte) (int64, error) {
	off := w.size

	n, err := w.f.WriteAt(p, off)
	if err != nil {
		return 0, err
	}

	w.size += int64(n)
	return off, nil
}

func (w *fileWriter) Sync() error { return w.f.Sync() }
func (w *fileWriter) Size() int64 { return w.size }
func (w *fileWriter) Close() error { return w.f.Close() }

// filePositionalReader is the direct RandomReader backing the active
// segment: safe for concurrent ReadAt because os.File.ReadAt is.
type filePositionalReader struct {
	f *os.File
}

// NewFilePositionalReader opens path read-only for positional reads.
func NewFilePositionalReader(path string) (RandomReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &filePositionalReader{f: f}, nil
}

func (r *filePositionalReader) ReadAt(p []byte, offset int64) (int, error) {
	n, err := r.f.ReadAt(p, offset)
	if err != nil {
		// A short read past EOF is the normal "not enough data yet"
		// outcome, not a failure the caller needs surfaced.
		if n > 0 || isEOF(err) {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (r *filePositionalReader) Close() error { return r.f.Close() }
