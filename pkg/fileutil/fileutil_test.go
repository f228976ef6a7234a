package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Tests for search.go

func TestSearchPathsOptional(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "hookbox.yaml")
	missing := filepath.Join(tmpDir, "missing.yaml")
	if err := os.WriteFile(file1, []byte("server: {}"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"finds first existing file", []string{missing, file1}, file1},
		{"returns empty when nothing exists", []string{missing}, ""},
		{"handles empty path list", []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchPathsOptional(tt.paths); got != tt.want {
				t.Errorf("SearchPathsOptional() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("hookbox.yaml")
	if len(paths) != 3 {
		t.Fatalf("Expected 3 paths, got %d", len(paths))
	}
	if !strings.HasPrefix(paths[2], "/etc/hookbox") {
		t.Errorf("Expected system path under /etc/hookbox, got %s", paths[2])
	}
	for _, p := range paths {
		if filepath.Base(p) != "hookbox.yaml" {
			t.Errorf("Expected filename hookbox.yaml, got %s", p)
		}
	}
}

func TestFileAndDirExists(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "hook")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(file) {
		t.Error("Expected FileExists true for regular file")
	}
	if FileExists(tmpDir) {
		t.Error("Expected FileExists false for directory")
	}
	if !DirExists(tmpDir) {
		t.Error("Expected DirExists true for directory")
	}
	if DirExists(file) {
		t.Error("Expected DirExists false for regular file")
	}
	if DirExists(filepath.Join(tmpDir, "nope")) {
		t.Error("Expected DirExists false for missing path")
	}
}

// Tests for atomic.go

func TestWriteFileAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "pre-receive")

	if err := WriteFileAtomic(path, []byte("v1"), 0755); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("v2"), 0755); err != nil {
		t.Fatalf("WriteFileAtomic replace failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Expected 'v2', got %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("Expected mode 0755, got %04o", info.Mode().Perm())
	}

	// No temp files should be left behind
	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file in directory, got %d", len(entries))
	}
}

func TestWriteFileAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "hook")
	if err := WriteFileAtomic(path, []byte("x"), 0755); err == nil {
		t.Error("Expected error when directory does not exist")
	}
}

func TestSameContent(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "hook")
	if err := WriteFileAtomic(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	tests := []struct {
		name string
		path string
		data string
		perm os.FileMode
		want bool
	}{
		{"identical", path, "#!/bin/sh\n", 0755, true},
		{"different bytes", path, "#!/bin/bash\n", 0755, false},
		{"different mode", path, "#!/bin/sh\n", 0644, false},
		{"missing file", filepath.Join(tmpDir, "nope"), "#!/bin/sh\n", 0755, false},
		{"directory", tmpDir, "", 0755, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameContent(tt.path, []byte(tt.data), tt.perm); got != tt.want {
				t.Errorf("SameContent() = %v, want %v", got, tt.want)
			}
		})
	}
}
