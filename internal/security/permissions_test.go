package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPermissionConstants(t *testing.T) {
	tests := []struct {
		name     string
		perm     os.FileMode
		expected os.FileMode
	}{
		{"PermHookFile", PermHookFile, 0755},
		{"PermHookDir", PermHookDir, 0755},
		{"PermLogFile", PermLogFile, 0640},
		{"PermDataDir", PermDataDir, 0750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.perm != tt.expected {
				t.Errorf("%s = %04o, want %04o", tt.name, tt.perm, tt.expected)
			}
		})
	}
}

func TestCreateSecureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookbox.log")

	file, err := CreateSecureFile(path, PermLogFile)
	if err != nil {
		t.Fatalf("CreateSecureFile() failed: %v", err)
	}
	file.WriteString("first\n")
	file.Close()

	// Reopening appends instead of truncating
	file, err = CreateSecureFile(path, PermLogFile)
	if err != nil {
		t.Fatalf("CreateSecureFile() reopen failed: %v", err)
	}
	file.WriteString("second\n")
	file.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "first\nsecond\n" {
		t.Errorf("Expected appended content, got %q", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != PermLogFile {
		t.Errorf("Expected mode %04o, got %04o", PermLogFile, info.Mode().Perm())
	}
}

func TestCreateSecureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested")
	if err := CreateSecureDir(path, PermDataDir); err != nil {
		t.Fatalf("CreateSecureDir() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat dir: %v", err)
	}
	if info.Mode().Perm() != PermDataDir {
		t.Errorf("Expected mode %04o, got %04o", PermDataDir, info.Mode().Perm())
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		perm    os.FileMode
		wantErr bool
	}{
		{"owner only", 0600, false},
		{"group readable", 0640, false},
		{"world readable", 0644, true},
		{"world writable", 0602, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name)
			if err := os.WriteFile(path, []byte("token: x"), 0600); err != nil {
				t.Fatalf("Failed to create file: %v", err)
			}
			if err := os.Chmod(path, tt.perm); err != nil {
				t.Fatalf("Failed to chmod: %v", err)
			}

			err := ValidateSecurePermissions(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateSecurePermissions(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestIsWorldReadableWritable(t *testing.T) {
	if !IsWorldReadable(0644) || IsWorldReadable(0640) {
		t.Error("IsWorldReadable returned unexpected result")
	}
	if !IsWorldWritable(0666) || IsWorldWritable(0664) {
		t.Error("IsWorldWritable returned unexpected result")
	}
}
