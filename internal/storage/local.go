package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalStorage implements ObjectStorage on a directory tree. It serves local
// benchmark runs and tests.
type LocalStorage struct {
	basePath string
	mu       sync.RWMutex
	etags    map[string]string // object path -> md5 of the last upload
}

// NewLocalStorage creates basePath if needed and stores objects beneath it.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local storage requires a base path")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		etags:    make(map[string]string),
	}, nil
}

// Upload copies localPath into the tree. The copy is written to a temporary
// file and renamed, so readers never observe a partial object.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return uploadError(objectPath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), src); err != nil {
		tmp.Close()
		return uploadError(objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		return uploadError(objectPath, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return uploadError(objectPath, err)
	}

	l.mu.Lock()
	l.etags[objectPath] = hex.EncodeToString(hash.Sum(nil))
	l.mu.Unlock()
	return nil
}

// Download copies an object out of the tree.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.fullPath(objectPath))
	if os.IsNotExist(err) {
		return notFound(objectPath)
	}
	if err != nil {
		return downloadError(objectPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadError(objectPath, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return downloadError(objectPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

// Delete removes an object; missing objects are ignored like S3 does.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}

	l.mu.Lock()
	delete(l.etags, objectPath)
	l.mu.Unlock()
	return nil
}

// Exists reports whether an object exists in the tree.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(l.fullPath(objectPath)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListObjects walks the tree under prefix and returns slash-separated object paths.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Base(path)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Strings(objects)
	return objects, nil
}

// ETag returns the md5 of the last upload of objectPath.
func (l *LocalStorage) ETag(objectPath string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	etag, ok := l.etags[objectPath]
	return etag, ok
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
