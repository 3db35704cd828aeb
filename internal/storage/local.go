package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/wzdavid/mineru-api/internal/domain"
)

// LocalStorage implements Adapter on a shared local filesystem. The temp and
// output namespaces map to two root directories, typically exported to the
// worker processes via a shared volume.
type LocalStorage struct {
	tempDir   string
	outputDir string
}

// NewLocalStorage creates a filesystem-backed adapter, creating both
// namespace roots if needed.
func NewLocalStorage(tempDir, outputDir string) (*LocalStorage, error) {
	for _, dir := range []string{tempDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage root %s: %w", dir, err)
		}
	}
	return &LocalStorage{tempDir: tempDir, outputDir: outputDir}, nil
}

func (s *LocalStorage) Backend() string { return "local" }

func (s *LocalStorage) root(ns Namespace) string {
	if ns == NamespaceOutput {
		return s.outputDir
	}
	return s.tempDir
}

func (s *LocalStorage) path(ns Namespace, key string) string {
	return filepath.Join(s.root(ns), filepath.FromSlash(key))
}

func (s *LocalStorage) Save(ctx context.Context, ns Namespace, key string, r io.Reader, size int64) error {
	path := s.path(ns, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrapLocalErr(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return wrapLocalErr(err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return wrapLocalErr(err)
	}
	return nil
}

func (s *LocalStorage) Read(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(ns, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", ns, key, domain.ErrNotFound)
		}
		return nil, wrapLocalErr(err)
	}
	return data, nil
}

// DownloadToLocal is a no-op alias for the local backend: the stored object
// already is a filesystem path.
func (s *LocalStorage) DownloadToLocal(ctx context.Context, ns Namespace, key, destDir string) (string, error) {
	path := s.path(ns, key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s/%s: %w", ns, key, domain.ErrNotFound)
		}
		return "", wrapLocalErr(err)
	}
	return path, nil
}

func (s *LocalStorage) UploadFromLocal(ctx context.Context, localPath string, ns Namespace, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return wrapLocalErr(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return wrapLocalErr(err)
	}
	return s.Save(ctx, ns, key, f, info.Size())
}

func (s *LocalStorage) Delete(ctx context.Context, ns Namespace, key string) error {
	err := os.Remove(s.path(ns, key))
	if err != nil && !os.IsNotExist(err) {
		return wrapLocalErr(err)
	}
	return nil
}

func (s *LocalStorage) DeletePrefix(ctx context.Context, ns Namespace, prefix string) error {
	path := s.path(ns, prefix)
	if err := os.RemoveAll(path); err != nil {
		return wrapLocalErr(err)
	}
	return nil
}

func (s *LocalStorage) List(ctx context.Context, ns Namespace, prefix string) ([]ObjectInfo, error) {
	root := s.root(ns)
	start := s.path(ns, prefix)

	var objects []ObjectInfo
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Namespace:    ns,
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, wrapLocalErr(err)
	}
	return objects, nil
}

func (s *LocalStorage) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	_, err := os.Stat(s.path(ns, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapLocalErr(err)
	}
	return true, nil
}

// wrapLocalErr maps filesystem failures onto the shared error taxonomy.
func wrapLocalErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", domain.ErrStorageQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
