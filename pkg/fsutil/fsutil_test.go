package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/injector/injector/pkg/fsutil"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "a.c")
	dst := filepath.Join(dir, "dst", "nested", "a.c")

	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("int main;"), 0640); err != nil {
		t.Fatal(err)
	}

	fs := fsutil.NewOS()
	if err := fs.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "int main;" {
		t.Errorf("unexpected content %q", data)
	}

	info, _ := os.Stat(dst)
	if info.Mode().Perm() != 0640 {
		t.Errorf("expected mode 0640, got %v", info.Mode().Perm())
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	fs := fsutil.NewOS()
	if err := fs.CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out")); err == nil {
		t.Error("expected error for missing source")
	}
	if fs.Exists(filepath.Join(dir, "out")) {
		t.Error("destination must not be created")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "work", "commands.txt")
	fs := fsutil.NewOS()

	if err := fs.WriteFileAtomic(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFileAtomic(path, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("expected overwritten content, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	fs := fsutil.NewOS()

	if err := fs.RemoveIfExists(path); err != nil {
		t.Errorf("missing file should not be an error: %v", err)
	}

	os.WriteFile(path, []byte("x"), 0644)
	if err := fs.RemoveIfExists(path); err != nil {
		t.Fatal(err)
	}
	if fs.Exists(path) {
		t.Error("expected file to be removed")
	}
}

func TestExistsAndIsDirectory(t *testing.T) {
	dir := t.TempDir()
	fs := fsutil.NewOS()

	if !fs.IsDirectory(dir) || !fs.Exists(dir) {
		t.Error("temp dir should exist and be a directory")
	}
	if fsutil.FileExists(dir) {
		t.Error("FileExists should be false for a directory")
	}
}
