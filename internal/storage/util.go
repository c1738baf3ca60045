package storage

import (
	"os"
	"path/filepath"
)

// DirMode is the permission used for directories holding the ledger.
const DirMode = 0755

// EnsureParentDir creates the directory that will hold the file at path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, DirMode)
}
