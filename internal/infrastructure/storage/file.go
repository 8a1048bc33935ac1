package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var ErrInvalidKey = errors.New("invalid object key")

// FileStore keeps artifacts under a local directory and serves them from
// baseURL.
type FileStore struct {
	basePath string
	baseURL  string
	logger   *zap.SugaredLogger
}

func NewFileStore(basePath, baseURL string, logger *zap.SugaredLogger) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
	}, nil
}

// Dir returns the root directory, for serving files over HTTP.
func (fs *FileStore) Dir() string { return fs.basePath }

func (fs *FileStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes to a temporary file and renames it into place, so readers never
// see a partial artifact.
func (fs *FileStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	filePath, err := fs.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write artifact data: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("short artifact write: %d of %d bytes", written, size)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	fs.logger.Debugw("Artifact stored", "key", key, "bytes", written, "content_type", contentType)
	return fs.baseURL + "/" + strings.TrimPrefix(path.Clean("/"+key), "/"), nil
}

// Open returns the stored object.
func (fs *FileStore) Open(key string) (io.ReadCloser, error) {
	filePath, err := fs.pathFor(key)
	if err != nil {
		return nil, err
	}
	return os.Open(filePath)
}

func (fs *FileStore) Delete(ctx context.Context, key string) error {
	filePath, err := fs.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
