package utils

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// SafeJoinDir performs a filepath.Join of 'parent' and 'subdir' but returns an error
// if the resulting path points outside of 'parent'.
func SafeJoinDir(parent, subdir string) (string, error) {
	res := filepath.Join(parent, subdir)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("unsafe path join: '%s' with '%s'", parent, subdir)
	}
	return res, nil
}

// WriteFileAtomic writes the output of write to path. Data goes to a hidden temporary file in the
// same directory which is synced and then renamed over path, so readers either see the previous
// contents or the complete new file. On any failure the temporary file is removed.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "cannot create temporary file for %q", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			RemoveFileNoError(tmpName)
		}
	}()

	buffered := bufio.NewWriter(tmp)
	if err := write(buffered); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := buffered.Flush(); err != nil {
		return multierr.Combine(errors.Wrapf(err, "cannot write %q", path), tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Combine(errors.Wrapf(err, "cannot sync %q", path), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %q", path)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrapf(err, "cannot chmod %q", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "cannot move %q into place", path)
	}
	return nil
}

// UniquePath returns path if nothing exists there, otherwise path with "_N" inserted before the
// extension for the smallest N >= 1 that is free.
func UniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
