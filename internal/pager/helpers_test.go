package pager

import (
	"os"
	"testing"
)

// truncateFile chops off the last n bytes of the file at path, used to
// simulate a crash mid-append for corruption-tolerance tests.
func truncateFile(t *testing.T, path string, cutLast int64) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	newSize := info.Size() - cutLast
	if newSize < 0 {
		newSize = 0
	}
	if err := os.Truncate(path, newSize); err != nil {
		t.Fatal(err)
	}
}
