package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystemRoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "frames")

	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}

	path := filepath.Join(dir, "2024-03-01_10.txt")
	w, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := w.Write([]byte("capture line\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if !osfs.Exists(path) {
		t.Error("created file does not exist")
	}
	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "capture line\n" {
		t.Errorf("content = %q", data)
	}

	if err := osfs.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if osfs.Exists(path) {
		t.Error("file still exists after Remove")
	}
}

func TestMemoryFileSystemCreateCommitsOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("logs/frames/2024-03-01_10.txt")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := mfs.ReadFile("logs/frames/2024-03-01_10.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "line 1\nline 2\n" {
		t.Errorf("content = %q", data)
	}
}

func TestMemoryFileSystemCreateTruncates(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.Create("hour.txt")
	w.Write([]byte("old content"))
	w.Close()

	w, _ = mfs.Create("hour.txt")
	w.Write([]byte("new"))
	w.Close()

	data, err := mfs.ReadFile("hour.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("content after truncating Create = %q", data)
	}
}

func TestMemoryFileSystemReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("logs/frames/absent.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile() error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystemMkdirAllCreatesParents(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("logs/frames/archive", 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	for _, dir := range []string{"logs", "logs/frames", "logs/frames/archive"} {
		if !mfs.Exists(dir) {
			t.Errorf("%s does not exist", dir)
		}
	}
}

func TestMemoryFileSystemRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.Create("stale.txt")
	w.Close()
	if err := mfs.Remove("stale.txt"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if mfs.Exists("stale.txt") {
		t.Error("file still exists after Remove")
	}

	if err := mfs.Remove("stale.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove() error = %v, want fs.ErrNotExist", err)
	}

	mfs.MkdirAll("emptydir", 0o755)
	if err := mfs.Remove("emptydir"); err != nil {
		t.Fatalf("Remove() on dir error: %v", err)
	}
	if mfs.Exists("emptydir") {
		t.Error("dir still exists after Remove")
	}
}

func TestMemoryFileSystemPathCleaning(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.Create("./logs/../hour.txt")
	w.Write([]byte("x"))
	w.Close()

	if _, err := mfs.ReadFile("hour.txt"); err != nil {
		t.Errorf("cleaned path not readable: %v", err)
	}
}

func TestMemoryFileSystemReadIsolation(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.Create("iso.txt")
	w.Write([]byte("original"))
	w.Close()

	data, _ := mfs.ReadFile("iso.txt")
	data[0] = 'X'

	again, _ := mfs.ReadFile("iso.txt")
	if string(again) != "original" {
		t.Errorf("stored content mutated through a read: %q", again)
	}
}
