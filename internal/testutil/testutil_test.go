package testutil

import (
	"path/filepath"
	"testing"
)

func TestValidateRelativePath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple", "a.txt", false},
		{"nested", "a/b/c.txt", false},
		{"dot segments inside", "a/../b.txt", false},
		{"escape", "../x.txt", true},
		{"absolute", filepath.Join(dir, "x.txt"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRelativePath(dir, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRelativePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	path := WriteCSV(t, dir, "sub/x.csv", []string{"A", "B"}, []string{"1", "two, three"})
	got := string(ReadFile(t, path))
	want := "A,B\n1,\"two, three\"\n"
	if got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
}
