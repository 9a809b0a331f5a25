package testutil

import (
	"path/filepath"
	"testing"
)

// validRelativePaths is a shared fixture of relative paths that should pass
// validation and be writable.
var validRelativePaths = []string{
	"simple.txt",
	"subdir/file.txt",
	"a/b/c/deep.txt",
	"./current.txt",
	"file-with-dots.test.eml",
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range validRelativePaths {
		t.Run(name, func(t *testing.T) {
			path := WriteFile(t, dir, name, []byte("data "+name))
			if got := string(ReadFile(t, path)); got != "data "+name {
				t.Errorf("ReadFile = %q", got)
			}
			if filepath.Dir(path) != filepath.Join(dir, filepath.Dir(name)) {
				t.Errorf("path = %s, not under %s", path, dir)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	dir := t.TempDir()

	absPath, err := filepath.Abs("/some/path.txt")
	if err != nil {
		t.Fatalf("failed to get absolute path: %v", err)
	}

	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute path", absPath, true},
		{"rooted path", string(filepath.Separator) + "rooted" + string(filepath.Separator) + "path.txt", true},
		{"escape dot dot", "../escape.txt", true},
		{"escape dot dot nested", "subdir/../../escape.txt", true},
		{"escape just dot dot", "..", true},
		{"inner dot dot", "subdir/../inside.txt", false},
	}
	for _, path := range validRelativePaths {
		cases = append(cases, struct {
			name    string
			path    string
			wantErr bool
		}{"valid " + path, path, false})
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRelativePath(dir, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRelativePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssertStrings(t *testing.T) {
	AssertStrings(t, []string{"a", "b"}, "a", "b")
	AssertStrings(t, nil)
}
