package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalBackend stores objects under a root directory on the local
// filesystem, confining every resolved path to that root.
type LocalBackend struct {
	Root string
}

// NewLocalBackend returns a backend rooted at root. root must already exist.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (l *LocalBackend) Scheme() string { return "file" }

// resolve confines path to Root: Clean("/"+path) collapses any ".."
// segments against the leading slash before Join ever sees them, so the
// result can never land outside Root.
func (l *LocalBackend) resolve(path string) string {
	return filepath.Join(l.Root, filepath.Clean("/"+path))
}

func (l *LocalBackend) Download(ctx context.Context, path string, destPath string) error {
	return copyFile(l.resolve(path), destPath)
}

func (l *LocalBackend) Upload(ctx context.Context, srcPath string, path string) error {
	dest := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return copyFile(srcPath, dest)
}

func (l *LocalBackend) Probe(ctx context.Context) error {
	probePath := filepath.Join(l.Root, ".storage_probe", uuid.NewString())
	if err := os.MkdirAll(filepath.Dir(probePath), 0o755); err != nil {
		return err
	}
	defer os.Remove(probePath)

	if err := os.WriteFile(probePath, []byte("probe"), 0o644); err != nil {
		return err
	}
	data, err := os.ReadFile(probePath)
	if err != nil {
		return err
	}
	if string(data) != "probe" {
		return fmt.Errorf("storage probe read back unexpected content")
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
