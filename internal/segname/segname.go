// Package segname encodes and decodes segment/hint file names and
// enumerates a data directory's segment set.
package segname

import (
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Kind distinguishes a segment's log file from its companion hint file.
type Kind int

const (
	Log Kind = iota
	Hint
)

// LogName returns the on-disk name of segment id's log file.
func LogName(id uint32) string { return fmt.Sprintf("%d.log", id) }

// HintName returns the on-disk name of segment id's hint file.
func HintName(id uint32) string { return fmt.Sprintf("%d.hint", id) }

// Parse decodes a bare file name (no directory component) into a
// segment id and kind. It rejects anything that isn't exactly decimal
// digits (no leading zeros other than the single digit "0", no sign,
// no extra characters) followed by ".log" or ".hint", and rejects ids
// with more than 10 digits since id is a uint32.
func Parse(name string) (id uint32, kind Kind, ok bool) {
	var rest string
	switch {
	case len(name) > 4 && name[len(name)-4:] == ".log":
		rest, kind = name[:len(name)-4], Log
	case len(name) > 5 && name[len(name)-5:] == ".hint":
		rest, kind = name[:len(name)-5], Hint
	default:
		return 0, 0, false
	}

	if rest == "" || len(rest) > 10 {
		return 0, 0, false
	}
	if rest[0] == '0' && rest != "0" {
		return 0, 0, false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, 0, false
		}
	}

	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, 0, false
	}

	return uint32(n), kind, true
}

// Entry is one decoded directory listing result.
type Entry struct {
	ID   uint32
	Kind Kind
}

// List enumerates dir for files matching the segment/hint naming
// scheme, ignoring anything else (the manifest-less design means the
// directory may also hold an external lock file, which List silently
// skips). The result is not sorted.
func List(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		id, kind, ok := Parse(e.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{ID: id, Kind: kind})
	}
	return out, nil
}

// LogIDs returns the sorted, de-duplicated set of segment ids that have
// a .log file in dir.
func LogIDs(dir string) ([]uint32, error) {
	ents, err := List(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint32]bool)
	var ids []uint32
	for _, e := range ents {
		if e.Kind == Log && !seen[e.ID] {
			seen[e.ID] = true
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// HintIDs returns the set of segment ids that have a .hint file in dir.
func HintIDs(dir string) (map[uint32]bool, error) {
	ents, err := List(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]bool)
	for _, e := range ents {
		if e.Kind == Hint {
			out[e.ID] = true
		}
	}
	return out, nil
}
