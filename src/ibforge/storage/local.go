package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitswalk/ibforge/src/common/paths"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
)

// LocalConfig holds the local filesystem storage configuration
type LocalConfig struct {
	// BasePath is the root directory for published images
	BasePath string
}

// LocalBackend publishes into a directory tree
type LocalBackend struct {
	basePath string
}

// NewLocal creates a new local filesystem storage backend
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	basePath := paths.Expand(cfg.BasePath)
	if err := paths.EnsureDirPath(basePath); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &LocalBackend{basePath: basePath}, nil
}

// ResolvePath maps a key to a path that cannot escape the base directory
func (b *LocalBackend) ResolvePath(key string) string {
	return filepath.Join(b.basePath, filepath.Clean("/"+key))
}

// Put writes body to a temp file next to the key, checks its size and
// digest, then renames it into place
func (b *LocalBackend) Put(ctx context.Context, obj Object, body io.Reader) error {
	dest := b.ResolvePath(obj.Key)
	dir := filepath.Dir(dest)
	if err := paths.EnsureDirPath(dir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if obj.Size > 0 && written != obj.Size {
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", obj.Size, written)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); obj.SHA256 != "" && got != obj.SHA256 {
		return fmt.Errorf("sha256 mismatch for %s: expected %s, wrote %s", obj.Key, obj.SHA256, got)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", dest, err)
	}
	return os.Rename(tmpPath, dest)
}

// Stat hashes the stored file
func (b *LocalBackend) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	path := b.ResolvePath(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	digest, err := checksum.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), SHA256: digest}, nil
}

// Ping checks if the storage directory is accessible
func (b *LocalBackend) Ping(ctx context.Context) error {
	if !paths.IsDir(b.basePath) {
		return fmt.Errorf("storage directory %s not accessible", b.basePath)
	}
	return nil
}

// Type returns the storage backend type
func (b *LocalBackend) Type() string {
	return "local"
}

// Location returns the base path
func (b *LocalBackend) Location() string {
	return b.basePath
}
