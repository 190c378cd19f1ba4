// Package storage publishes compiled firmware images and their checksum
// manifest to a local directory or an S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the storage package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Backend is a destination for published images
type Backend interface {
	// Put stores body under obj.Key, recording obj.SHA256 alongside it
	Put(ctx context.Context, obj Object, body io.Reader) error

	// Stat describes a stored object; nil when the key is absent
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Ping checks that the destination is reachable
	Ping(ctx context.Context) error

	// Type returns the storage backend type
	Type() string

	// Location returns a human-readable location description
	Location() string
}

// Object describes an upload
type Object struct {
	Key         string
	Size        int64
	ContentType string
	SHA256      string
}

// ObjectInfo describes a stored object. SHA256 is empty when the object
// was stored without one.
type ObjectInfo struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Config holds the storage configuration
type Config struct {
	// Type is the storage backend type: "s3" or "local"
	Type string

	// Local storage configuration
	Local LocalConfig

	// S3 storage configuration
	S3 S3Config
}

// New creates a new storage backend based on configuration
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "s3":
		return NewS3(cfg.S3)
	case "local", "":
		return NewLocal(cfg.Local)
	default:
		return nil, errors.ErrInvalidConfig.WithMessagef("unknown storage type %q (expected local or s3)", cfg.Type)
	}
}

// ContentType guesses a MIME type from a key's extension
func ContentType(key string) string {
	if strings.HasSuffix(key, ".gz") {
		return "application/gzip"
	}
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PublishFile uploads a local file under key unless the backend already
// holds the same content there. An empty digest is computed from the file.
// It reports whether the file was uploaded.
func PublishFile(ctx context.Context, b Backend, key, path, digest string) (bool, error) {
	if digest == "" {
		sum, err := checksum.File(path)
		if err != nil {
			return false, errors.ErrStorageUploadFailed.WithMessagef("failed to hash %s", path).WithCause(err)
		}
		digest = sum
	}

	f, err := os.Open(path)
	if err != nil {
		return false, errors.ErrStorageUploadFailed.WithMessagef("failed to open %s", path).WithCause(err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return false, errors.ErrStorageUploadFailed.WithMessagef("failed to stat %s", path).WithCause(err)
	}

	existing, err := b.Stat(ctx, key)
	if err != nil {
		return false, errors.ErrStorageUploadFailed.WithMessagef("failed to inspect %s on %s", key, b.Location()).WithCause(err)
	}
	if existing != nil && existing.SHA256 == digest && existing.Size == stat.Size() {
		log.Debug("Object unchanged, skipping upload", "key", key)
		return false, nil
	}

	obj := Object{Key: key, Size: stat.Size(), ContentType: ContentType(key), SHA256: digest}
	if err := b.Put(ctx, obj, f); err != nil {
		return false, errors.ErrStorageUploadFailed.WithMessagef("failed to upload %s to %s", filepath.Base(path), b.Location()).WithCause(err)
	}
	return true, nil
}

// JoinKey joins key segments with '/' separators, dropping empty segments
func JoinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
