package util

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// EmptyDir removes everything inside dir but keeps dir itself.
func EmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// IsEmptyDir returns true if dir exists, is a directory and has no entries.
func IsEmptyDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if !info.IsDir() {
		return false, errors.Errorf("%s is not a directory", dir)
	}
	f, err := os.Open(dir)
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	if err != nil && len(names) == 0 {
		return true, nil
	}
	return len(names) == 0, nil
}

// CheckWritable creates and removes a scratch file in dir.
func CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return errors.WithStack(err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Remove(name))
}
