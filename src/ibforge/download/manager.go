// Package download fetches Image Builder archives and checksum manifests
// into a local cache.
package download

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
	"github.com/bitswalk/ibforge/src/ibforge/db"
	"github.com/bitswalk/ibforge/src/ibforge/release"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the download package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Config holds configuration for the download manager
type Config struct {
	CacheDir       string        // Where archives and the manifest are kept
	UserAgent      string        // Sent with every request
	Enforce        bool          // Fail on checksum mismatch instead of warning
	RemoveManifest bool          // Delete the fetched manifest after verification
	RequestTimeout time.Duration // Timeout for the checksum manifest request
	MaxRetries     int           // Attempts per transfer (1 = no retry)
	RetryDelay     time.Duration // Delay between attempts
	BytesPerSec    int64         // Bandwidth limit (0 = unlimited)
	Mirror         MirrorConfig  // Mirror/proxy configuration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		CacheDir:       ".",
		UserAgent:      "ibforge",
		Enforce:        true,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     1,
		RetryDelay:     5 * time.Second,
	}
}

// Request identifies the archive to make available
type Request struct {
	Archive release.ArchiveDescriptor
	Distro  string
	Branch  string
	Target  string
}

// Result describes the cached archive after Ensure
type Result struct {
	ArchivePath  string
	ManifestPath string
	Digest       string
	Expected     string
	Size         int64
	CacheHit     bool
	Verified     bool
}

// Manager keeps the archive cache populated and verified
type Manager struct {
	config  Config
	fetcher *Fetcher
	mirror  *MirrorResolver
	index   *db.ArchiveRepository
}

// NewManager creates a new download manager. index is optional.
func NewManager(cfg Config, index *db.ArchiveRepository) *Manager {
	defaults := DefaultConfig()
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaults.CacheDir
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	mirror := NewMirrorResolver(cfg.Mirror)

	// Archive downloads carry no client timeout; the context bounds them.
	httpClient := &http.Client{}
	if transport := mirror.HTTPTransport(); transport != nil {
		httpClient.Transport = transport
	}

	return &Manager{
		config:  cfg,
		fetcher: NewFetcher(httpClient, cfg.UserAgent, cfg.BytesPerSec),
		mirror:  mirror,
		index:   index,
	}
}

// ArchivePath returns where an archive is cached
func (m *Manager) ArchivePath(desc release.ArchiveDescriptor) string {
	return filepath.Join(m.config.CacheDir, desc.FileName)
}

// ManifestPath returns where the checksum manifest is stored
func (m *Manager) ManifestPath() string {
	return filepath.Join(m.config.CacheDir, checksum.ManifestName)
}

// Ensure makes the archive available in the cache, downloading it only
// when absent, then fetches the upstream manifest and verifies the archive.
func (m *Manager) Ensure(ctx context.Context, req Request) (*Result, error) {
	if err := os.MkdirAll(m.config.CacheDir, 0755); err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to create cache dir %s", m.config.CacheDir).WithCause(err)
	}

	desc := req.Archive
	archivePath := m.ArchivePath(desc)
	result := &Result{ArchivePath: archivePath}

	info, err := os.Stat(archivePath)
	if err == nil && !info.Mode().IsRegular() {
		return nil, errors.ErrInternal.WithMessagef("cache path %s exists and is not a regular file", archivePath)
	}
	if err == nil {
		log.Info("Using cached archive", "file", desc.FileName, "size", formatBytes(info.Size()))
		result.CacheHit = true
		result.Size = info.Size()
	} else {
		fetched, err := m.fetchArchive(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Digest = fetched.Digest
		result.Size = fetched.Size
	}

	manifest, err := m.fetchManifest(ctx, desc)
	if err != nil {
		return nil, err
	}
	result.ManifestPath = m.ManifestPath()

	if result.Digest == "" {
		digest, err := checksum.File(archivePath)
		if err != nil {
			return nil, errors.ErrInternal.WithMessagef("failed to hash %s", desc.FileName).WithCause(err)
		}
		result.Digest = digest
	}
	log.Info("Archive checksum", "file", desc.FileName, "sha256", result.Digest)

	verifyErr := m.verify(manifest, desc.FileName, result)
	if verifyErr != nil && result.CacheHit && errors.Is(verifyErr, errors.ErrChecksumMismatch) {
		// A snapshot archive in the cache goes stale when upstream rebuilds.
		log.Warn("Cached archive does not match upstream, downloading again", "file", desc.FileName)
		if err := os.Remove(archivePath); err != nil {
			return nil, errors.ErrInternal.WithMessagef("failed to remove stale %s", desc.FileName).WithCause(err)
		}
		fetched, err := m.fetchArchive(ctx, req)
		if err != nil {
			return nil, err
		}
		result.CacheHit = false
		result.Digest = fetched.Digest
		result.Size = fetched.Size
		log.Info("Archive checksum", "file", desc.FileName, "sha256", result.Digest)
		verifyErr = m.verify(manifest, desc.FileName, result)
	}

	if verifyErr != nil {
		if m.config.Enforce {
			return nil, verifyErr
		}
		log.Warn("Checksum verification failed, continuing", "file", desc.FileName, "error", verifyErr)
	}

	m.recordArchive(req, result)

	if m.config.RemoveManifest {
		if err := os.Remove(result.ManifestPath); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove checksum manifest", "path", result.ManifestPath, "error", err)
		}
	}

	return result, nil
}

func (m *Manager) verify(manifest *checksum.Manifest, fileName string, result *Result) error {
	expected, ok := manifest.Lookup(fileName)
	if !ok {
		result.Verified = false
		return errors.ErrChecksumMissing.WithMessagef("upstream manifest has no entry for %s", fileName)
	}
	result.Expected = expected
	if expected != result.Digest {
		result.Verified = false
		return errors.ErrChecksumMismatch.WithMessagef(
			"checksum mismatch for %s: expected %s, got %s", fileName, expected, result.Digest)
	}
	result.Verified = true
	log.Info("Archive checksum verified", "file", fileName)
	return nil
}

func (m *Manager) fetchArchive(ctx context.Context, req Request) (*FetchResult, error) {
	desc := req.Archive
	dest := m.ArchivePath(desc)

	if local := m.mirror.ResolveLocalPath(desc.DownloadURL, req.Distro, req.Branch); local != "" {
		log.Info("Importing archive from local mirror", "path", local)
		fetched, err := m.fetcher.Copy(ctx, local, dest)
		if err != nil {
			return nil, errors.ErrDownloadFailed.WithMessagef("failed to import %s from local mirror", desc.FileName).WithCause(err)
		}
		return fetched, nil
	}

	url := m.mirror.ResolveURL(desc.DownloadURL)
	log.Info("Downloading archive", "url", url)

	var fetched *FetchResult
	err := withRetry(ctx, m.config.MaxRetries, m.config.RetryDelay, desc.FileName, func() error {
		var err error
		fetched, err = m.fetcher.Fetch(ctx, url, dest, newProgressLogger(desc.FileName))
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrDownloadFailed.WithMessagef("failed to download %s", url).WithCause(err)
	}

	log.Info("Archive downloaded", "file", desc.FileName, "size", formatBytes(fetched.Size))
	return fetched, nil
}

func (m *Manager) fetchManifest(ctx context.Context, desc release.ArchiveDescriptor) (*checksum.Manifest, error) {
	url := m.mirror.ResolveURL(desc.ChecksumURL)
	log.Debug("Fetching checksum manifest", "url", url)

	err := withRetry(ctx, m.config.MaxRetries, m.config.RetryDelay, checksum.ManifestName, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, m.config.RequestTimeout)
		defer cancel()
		_, err := m.fetcher.Fetch(reqCtx, url, m.ManifestPath(), nil)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrChecksumFetchFailed.WithMessagef("failed to download %s", url).WithCause(err)
	}

	manifest, err := checksum.ParseFile(m.ManifestPath())
	if err != nil {
		return nil, errors.ErrChecksumFetchFailed.WithMessagef("invalid checksum manifest from %s", url).WithCause(err)
	}
	return manifest, nil
}

// recordArchive updates the cache index; failures only warn
func (m *Manager) recordArchive(req Request, result *Result) {
	if m.index == nil {
		return
	}

	if result.CacheHit {
		existing, err := m.index.GetByPath(result.ArchivePath)
		if err == nil && existing != nil {
			if err := m.index.TouchLastUsed(result.ArchivePath); err != nil {
				log.Warn("Failed to touch cache entry", "path", result.ArchivePath, "error", err)
			}
			return
		}
	}

	entry := &db.ArchiveEntry{
		FileName:  req.Archive.FileName,
		Distro:    req.Distro,
		Branch:    req.Branch,
		Target:    req.Target,
		SourceURL: req.Archive.DownloadURL,
		Checksum:  result.Digest,
		CachePath: result.ArchivePath,
		SizeBytes: result.Size,
	}
	if err := m.index.Upsert(entry); err != nil {
		log.Warn("Failed to record archive in cache index", "file", entry.FileName, "error", err)
	}
}

// Forget drops an archive from disk and from the cache index
func (m *Manager) Forget(archivePath string) error {
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return errors.ErrInternal.WithMessagef("failed to remove %s", archivePath).WithCause(err)
	}
	if m.index == nil {
		return nil
	}
	entry, err := m.index.GetByPath(archivePath)
	if err != nil {
		return errors.ErrDatabaseQuery.WithCause(err)
	}
	if entry != nil {
		if err := m.index.Delete(entry.ID); err != nil {
			return errors.ErrDatabaseQuery.WithCause(err)
		}
	}
	return nil
}
