package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Temporary files written by Put carry this prefix until renamed.
const localTempPrefix = ".put-"

// LocalStorage keeps objects as files under a base directory. Object
// metadata lives in memory and is lost on restart; ETags are recomputed
// from file content when not cached.
type LocalStorage struct {
	basePath string

	mu    sync.RWMutex
	infos map[string]ObjectInfo
}

// NewLocalStorage creates basePath if needed and stores objects below it.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath, infos: make(map[string]ObjectInfo)}, nil
}

// Put copies localPath into a temporary file next to the object and renames
// it into place, so readers never see a partial object.
func (l *LocalStorage) Put(ctx context.Context, localPath, objectPath string, meta Metadata) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	defer src.Close()

	dest := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), localTempPrefix+"*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	info := ObjectInfo{
		Path:     objectPath,
		Size:     size,
		ETag:     hex.EncodeToString(hash.Sum(nil)),
		Metadata: copyMetadata(meta),
	}
	l.mu.Lock()
	l.infos[objectPath] = info
	l.mu.Unlock()

	return info, nil
}

// Stat describes objectPath.
func (l *LocalStorage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	fi, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		return ObjectInfo{}, err
	}

	l.mu.RLock()
	cached, ok := l.infos[objectPath]
	l.mu.RUnlock()
	if ok && cached.Size == fi.Size() {
		cached.Metadata = copyMetadata(cached.Metadata)
		return cached, nil
	}

	etag, err := fileMD5(l.fullPath(objectPath))
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Path: objectPath, Size: fi.Size(), ETag: etag}, nil
}

// Delete removes objectPath.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	l.mu.Lock()
	delete(l.infos, objectPath)
	l.mu.Unlock()
	return nil
}

// List returns the object paths under prefix, skipping in-progress puts.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objects := []string{}
	err := filepath.WalkDir(l.fullPath(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), localTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(objects)
	return objects, nil
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func copyMetadata(meta Metadata) Metadata {
	if meta == nil {
		return nil
	}
	out := make(Metadata, len(meta))
	for k, v := range meta {
		out[strings.ToLower(k)] = v
	}
	return out
}
