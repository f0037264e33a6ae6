// Package mirror copies a local backup directory to a remote network share.
//
// Share access goes through Mounter so that callers can be tested without a
// real file server: Mount binds host credentials, CopyTree copies a directory
// tree through the binding, and Handle.Unmount releases it.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Mounter establishes credentialed connection to a file server
type Mounter interface {
	Mount(ctx context.Context, host, user, password string) (Handle, error)
}

// Handle is a live host-level binding, shares are opened through it
type Handle interface {
	Share(name string) (Share, error)
	Unmount() error
}

// Share is the subset of remote filesystem needed to copy a tree
type Share interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(name string, data []byte, perm os.FileMode) error
}

// CopyTree copies srcDir of src recursively to dst, where dst is "<share>/<dir...>"
func CopyTree(h Handle, src afero.Fs, srcDir, dst string) error {
	shareName, base := splitShare(dst)
	share, err := h.Share(shareName)
	if err != nil {
		return fmt.Errorf("cannot open share %q because of: %w", shareName, err)
	}

	return afero.Walk(src, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := joinRemote(base, filepath.ToSlash(rel))

		if info.IsDir() {
			if target == "" {
				return nil
			}
			if err := share.MkdirAll(target, os.ModePerm); err != nil {
				return fmt.Errorf("cannot create remote directory %q because of: %w", target, err)
			}
			return nil
		}
		data, err := afero.ReadFile(src, path)
		if err != nil {
			return err
		}
		if err := share.WriteFile(target, data, info.Mode().Perm()); err != nil {
			return fmt.Errorf("cannot copy %q to %q because of: %w", path, target, err)
		}
		return nil
	})
}

func joinRemote(base, rel string) string {
	switch {
	case rel == ".":
		return base
	case base == "":
		return rel
	default:
		return base + "/" + rel
	}
}

// Mirror copies local runDir to the share described by s. Binding is released on
// every path once mounted, teardown failure is only logged.
func Mirror(ctx context.Context, m Mounter, s Settings, src afero.Fs, runDir string, log *zap.SugaredLogger) (err error) {
	dest := s.Destination(runDir)
	log.Infof("Copying backup to %s...", dest)

	h, err := m.Mount(ctx, s.Host, s.User, s.Password)
	if err != nil {
		return fmt.Errorf("cannot connect to network share %q because of: %w", s.Host, err)
	}
	defer func() {
		if uerr := h.Unmount(); uerr != nil {
			log.Errorf("Cannot disconnect from network share %q because of: %s", s.Host, uerr)
		}
	}()

	if err := CopyTree(h, src, runDir, s.RemotePath(runDir)); err != nil {
		return fmt.Errorf("cannot copy backup to %s because of: %w", dest, err)
	}
	log.Infof("Backup copied to: %s", dest)
	return nil
}
