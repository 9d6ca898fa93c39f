package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteCreatesFileWithRestrictedMode(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(dir, "root", []byte("hello"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "root.bin" {
		t.Fatalf("got path %q, want basename root.bin", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != outputMode {
		t.Fatalf("got mode %v, want %v", info.Mode().Perm(), os.FileMode(outputMode))
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got content %q, want %q", got, "hello")
	}
}

func TestWriteBacksUpExistingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, "root", []byte("first"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(dir, "root", []byte("second"), nil); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (current file + one backup): %v", len(entries), entries)
	}

	current, err := os.ReadFile(filepath.Join(dir, "root.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(current) != "second" {
		t.Fatalf("got current content %q, want %q", current, "second")
	}

	foundBackup := false
	for _, e := range entries {
		if e.Name() != "root.bin" {
			foundBackup = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "first" {
				t.Fatalf("backup file %q has content %q, want %q", e.Name(), data, "first")
			}
		}
	}
	if !foundBackup {
		t.Fatal("expected a backup file alongside root.bin")
	}
}

func TestWriteCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	if _, err := Write(dir, "root", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "root.bin")); err != nil {
		t.Fatal(err)
	}
}
