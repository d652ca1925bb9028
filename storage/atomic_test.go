package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriter_Commit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "file.mp3")

	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter: %v", err)
	}

	if _, err := w.Write([]byte("audio data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "audio data" {
		t.Errorf("content = %q", data)
	}
}

func TestAtomicWriter_OverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.mp3")
	if err := os.WriteFile(path, []byte("old content that is longer"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter: %v", err)
	}
	if _, err := w.Write([]byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("content = %q, want replaced", data)
	}
}

func TestAtomicWriter_AbortLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.mp3")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter: %v", err)
	}
	if _, err := w.Write([]byte("partial down")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("content = %q, want original preserved", data)
	}

	assertNoTempFiles(t, dir)
}

func TestAtomicWriter_CommitCleansTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.mp3")

	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter: %v", err)
	}
	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	assertNoTempFiles(t, dir)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".chplus-") {
			t.Errorf("leftover temp file %q", e.Name())
		}
	}
}
