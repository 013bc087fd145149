// Package fsio is the default directory I/O collaborator: plain
// filesystem copies and deletions of class output directories. The
// scheduler treats directory contents as opaque.
package fsio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local implements compile.DirIO over the local filesystem.
type Local struct{}

// New creates the local I/O layer.
func New() Local {
	return Local{}
}

// CopyDir recursively copies src into dst, creating dst and any missing
// parents. A symlink to a file is copied as a regular file holding the
// target's contents; a symlink to a directory is not descended into and
// makes the copy fail. File modes are preserved.
func (Local) CopyDir(ctx context.Context, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

// DeleteDir recursively removes path. Removing a missing directory is not
// an error.
func (Local) DeleteDir(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func (Local) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
