// Package storage keeps per-run backup directories on local disk
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var ErrBadName = errors.New("invalid backup file name")

// RunDirName returns backup directory name for given day
func RunDirName(day time.Time) string {
	return day.Format(time.DateOnly)
}

// Writer stores device configs under run directories of Fs
type Writer struct {
	Fs afero.Fs
}

// NewWriter returns Writer rooted at base directory of the real filesystem
func NewWriter(base string) *Writer {
	return &Writer{Fs: afero.NewBasePathFs(afero.NewOsFs(), base)}
}

// PrepareRunDir creates run directory, removing leftover one with the same name first
func (w *Writer) PrepareRunDir(name string) error {
	exists, err := afero.DirExists(w.Fs, name)
	if err != nil {
		return fmt.Errorf("cannot check backup directory %q because of: %w", name, err)
	}
	if exists {
		if err := w.Fs.RemoveAll(name); err != nil {
			return fmt.Errorf("cannot remove previous backup directory %q because of: %w", name, err)
		}
	}
	if err := w.Fs.MkdirAll(name, os.ModePerm); err != nil {
		return fmt.Errorf("cannot create backup directory %q because of: %w", name, err)
	}
	return nil
}

// Write stores config verbatim as <runDir>/<hostname>, overwriting existing file
func (w *Writer) Write(runDir, hostname, config string) error {
	if hostname == "" || hostname == "." || hostname == ".." || strings.ContainsAny(hostname, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadName, hostname)
	}
	path := filepath.Join(runDir, hostname)
	if err := afero.WriteFile(w.Fs, path, []byte(config), 0o644); err != nil {
		return fmt.Errorf("cannot create backup %q because of: %w", path, err)
	}
	return nil
}

// RemoveRunDir deletes run directory with all backups inside
func (w *Writer) RemoveRunDir(name string) error {
	if err := w.Fs.RemoveAll(name); err != nil {
		return fmt.Errorf("cannot remove backup directory %q because of: %w", name, err)
	}
	return nil
}

// Exists reports whether run directory is present
func (w *Writer) Exists(name string) bool {
	ok, err := afero.DirExists(w.Fs, name)
	return err == nil && ok
}
