package envfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// PrivateFileMode and PrivateDirMode are the permissions of written files
// and created directories.
const (
	PrivateFileMode fs.FileMode = 0o600
	PrivateDirMode  fs.FileMode = 0o700
)

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path. The file is created with PrivateFileMode.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".cfenv.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, PrivateFileMode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// EnsurePrivateDir creates dir with PrivateDirMode if needed.
func EnsurePrivateDir(dir string) error {
	return os.MkdirAll(dir, PrivateDirMode)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
