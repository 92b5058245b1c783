package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider is the default, always-present storage provider: artifacts
// land under a root directory on the machine running the coordinator.
type LocalProvider struct {
	root string
}

// NewLocalProvider creates (if necessary) and returns a filesystem-backed
// provider rooted at dir.
func NewLocalProvider(dir string) (*LocalProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local backup root %s: %w", dir, err)
	}
	return &LocalProvider{root: dir}, nil
}

func (p *LocalProvider) ID() string { return "local" }

func (p *LocalProvider) resolve(path string) string {
	return filepath.Join(p.root, filepath.FromSlash(path))
}

func (p *LocalProvider) EnsureReady(ctx context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

func (p *LocalProvider) WriteFile(ctx context.Context, path string, data []byte, opts WriteOptions) error {
	full := p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(full, data, 0o644)
}

func (p *LocalProvider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(p.resolve(path))
}

func (p *LocalProvider) RemoveFile(ctx context.Context, path string) error {
	err := os.Remove(p.resolve(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(p.resolve(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (Info, error) {
	fi, err := os.Stat(p.resolve(path))
	if err != nil {
		return Info{}, err
	}
	return Info{Size: fi.Size(), ModifiedAt: fi.ModTime()}, nil
}

func (p *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	base := p.resolve(prefix)
	var out []string
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !strings.Contains(err.Error(), "no such file") {
		return nil, err
	}
	return out, nil
}

func (p *LocalProvider) SupportsStreaming() bool { return true }

func (p *LocalProvider) CreateReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(p.resolve(path))
}

func (p *LocalProvider) CreateWriteStream(ctx context.Context, path string) (io.WriteCloser, error) {
	full := p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.Create(full)
}
