// Package fsutil provides small filesystem helpers shared by the
// datastore, key registry and master/minion bootstrap code.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadDir checks the specified path and creates it (and its parents) if it
// does not exist.
func LoadDir(path string) error {
	_, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return os.MkdirAll(path, 0755)
	}
	return nil
}

// FileExists checks whether the specified pathname exists.
func FileExists(path string) bool {
	stat, _ := os.Stat(path)
	return stat != nil
}

// Cat reads the whole content of a file.
func Cat(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// AtomicWrite writes data to path by first writing to a temp file in the
// same directory, then renaming it over the destination. A reader can never
// observe a partially-written file.
func AtomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := LoadDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
