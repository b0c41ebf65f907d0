package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrObjectNotFound = errors.New("object_not_found")
	ErrInvalidKey     = errors.New("invalid_object_key")
)

// Storage is a key addressed object store.
type Storage interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Open streams an object. Callers must close the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Create streams a new object. The object is visible once the writer is
	// closed without error.
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (int64, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type FileStorage struct {
	fs afero.Fs
}

// NewFileStorage stores objects on the local disk under dir.
func NewFileStorage(dir string) (*FileStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return NewFromFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func NewFromFs(fsys afero.Fs) *FileStorage {
	return &FileStorage{fs: fsys}
}

func (s *FileStorage) Put(ctx context.Context, key string, data []byte) error {
	w, err := s.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return w.Close()
}

func (s *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *FileStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

func (s *FileStorage) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", key, err)
	}
	tmp := name + "." + uuid.NewString() + ".partial"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return &atomicWriter{fs: s.fs, file: f, tmp: tmp, name: name}, nil
}

func (s *FileStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil {
		return translate(err)
	}
	return nil
}

func (s *FileStorage) Stat(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		return 0, translate(err)
	}
	return info.Size(), nil
}

func (s *FileStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := "/"
	if dir := strings.TrimSpace(prefix); dir != "" {
		cleaned, err := cleanKey(dir)
		if err != nil {
			return nil, err
		}
		root = cleaned
		if !strings.HasSuffix(prefix, "/") {
			root = path.Dir(cleaned)
		}
	}

	var objects []ObjectInfo
	err := afero.Walk(s.fs, root, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		key := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
		if !strings.HasPrefix(key, strings.TrimPrefix(strings.TrimSpace(prefix), "/")) {
			return nil
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return objects, nil
}

// atomicWriter renames the partial file into place on Close so readers never
// observe a half written object.
type atomicWriter struct {
	fs     afero.Fs
	file   afero.File
	tmp    string
	name   string
	failed bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		w.failed = true
	}
	return n, err
}

func (w *atomicWriter) Close() error {
	if err := w.file.Close(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return err
	}
	if w.failed {
		_ = w.fs.Remove(w.tmp)
		return errors.New("object write aborted")
	}
	if err := w.fs.Rename(w.tmp, w.name); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("commit %s: %w", w.name, err)
	}
	return nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func translate(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	return err
}
