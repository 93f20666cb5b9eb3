package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// ProjectRoot returns the directory holding the module's go.mod, found by
// walking up from this source file.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}

	for dir := filepath.Dir(filename); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return "", errors.New("go.mod not found in any parent directory")
		}
	}
}

// Fixture returns the content of testdata/<name> under the project root
func Fixture(t *testing.T, name string) []byte {
	t.Helper()

	root, err := ProjectRoot()
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}
