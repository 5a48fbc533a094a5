package ota

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/avaropoint/espota/internal/fsutil"
)

// Binaries is the directory holding published firmware images.
type Binaries struct {
	dir string
}

// NewBinaries returns the store rooted at dir, creating it if needed.
func NewBinaries(dir string) (*Binaries, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("binary dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create binary dir: %w", err)
	}
	return &Binaries{dir: abs}, nil
}

// Dir returns the absolute directory.
func (b *Binaries) Dir() string { return b.dir }

// Path returns the absolute path of a stored file. Directory components in
// name are discarded.
func (b *Binaries) Path(name string) string {
	return filepath.Join(b.dir, filepath.Base(name))
}

// Exists reports whether name is a regular file in the directory.
func (b *Binaries) Exists(name string) bool {
	fi, err := os.Stat(b.Path(name))
	return err == nil && fi.Mode().IsRegular()
}

// Write stores blob under name atomically.
func (b *Binaries) Write(name string, blob []byte) error {
	return fsutil.WriteFileAtomic(b.Path(name), blob, 0o644)
}

// Remove deletes name. A missing file is not an error.
func (b *Binaries) Remove(name string) error {
	err := os.Remove(b.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MD5 returns the hex digest ESP8266 httpUpdate checks against x-MD5.
func (b *Binaries) MD5(name string) (string, error) {
	f, err := os.Open(b.Path(name))
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
