package segname

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	id, kind, ok := Parse(LogName(42))
	if !ok || id != 42 || kind != Log {
		t.Fatalf("Parse(%q) = %d, %v, %v", LogName(42), id, kind, ok)
	}

	id, kind, ok = Parse(HintName(42))
	if !ok || id != 42 || kind != Hint {
		t.Fatalf("Parse(%q) = %d, %v, %v", HintName(42), id, kind, ok)
	}
}

func TestParseZero(t *testing.T) {
	id, kind, ok := Parse("0.log")
	if !ok || id != 0 || kind != Log {
		t.Fatalf("Parse(\"0.log\") = %d, %v, %v", id, kind, ok)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []string{
		"01.log",
		"-1.log",
		"1x.log",
		"1.txt",
		".log",
		"12345678901.log", // 11 digits
		"1.logg",
	}
	for _, name := range cases {
		if _, _, ok := Parse(name); ok {
			t.Errorf("Parse(%q) unexpectedly succeeded", name)
		}
	}
}

func TestLogIDsSortedAndDeduped(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"3.log", "1.log", "2.log", "2.hint", "lock", "1.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	ids, err := LogIDs(dir)
	if err != nil {
		t.Fatalf("LogIDs: %v", err)
	}
	want := []uint32{1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestHintIDs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.log", "1.hint", "2.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	hinted, err := HintIDs(dir)
	if err != nil {
		t.Fatalf("HintIDs: %v", err)
	}
	if !hinted[1] || hinted[2] {
		t.Fatalf("got %v", hinted)
	}
}
