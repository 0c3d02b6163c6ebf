package client

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
)

// LocalStorage implements StorageClient on the local filesystem.
// Objects live under root; keys use forward slashes.
type LocalStorage struct {
	root      string
	publicURL string
}

// NewLocalStorage creates a filesystem-backed storage client
func NewLocalStorage(root, publicURL string) *LocalStorage {
	return &LocalStorage{root: root, publicURL: strings.TrimRight(publicURL, "/")}
}

func (l *LocalStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Upload writes the object atomically via a temp file and rename
func (l *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	dst, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to commit object: %w", err)
	}

	return l.GetPublicURL(key), nil
}

// Get reads an object
func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

// Delete removes an object; deleting a missing object is not an error
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// GetPublicURL returns the URL the artifact is served under
func (l *LocalStorage) GetPublicURL(key string) string {
	if l.publicURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(key)))
	}
	return l.publicURL + "/" + key
}

// Root returns the directory objects are stored under
func (l *LocalStorage) Root() string {
	return l.root
}
