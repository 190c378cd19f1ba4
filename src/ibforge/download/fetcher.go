package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// ProgressCallback is called with download progress updates
type ProgressCallback func(bytesReceived, totalBytes int64)

// FetchResult describes a completed transfer
type FetchResult struct {
	Path   string
	Digest string
	Size   int64
}

// statusError is returned for non-200 responses
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.code, e.url)
}

// retryable reports whether a failed transfer is worth repeating
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return err != context.Canceled && err != context.DeadlineExceeded
}

// Fetcher downloads a URL to a file, hashing while writing
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
}

// NewFetcher creates a fetcher. A nil client gets one without a timeout.
func NewFetcher(httpClient *http.Client, userAgent string, bytesPerSec int64) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		limiter:    newLimiter(bytesPerSec),
	}
}

// Fetch GETs url into destPath. Data lands in a temp file next to destPath
// and is renamed into place only on success.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string, progressCb ProgressCallback) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: url, code: resp.StatusCode}
	}

	return f.store(ctx, newThrottledReader(ctx, resp.Body, f.limiter), resp.ContentLength, destPath, progressCb)
}

// Copy imports a local file into destPath the same way Fetch does
func (f *Fetcher) Copy(ctx context.Context, srcPath, destPath string) (*FetchResult, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local mirror file: %w", err)
	}
	defer src.Close()

	var size int64 = -1
	if stat, err := src.Stat(); err == nil {
		size = stat.Size()
	}
	return f.store(ctx, src, size, destPath, nil)
}

func (f *Fetcher) store(ctx context.Context, body io.Reader, totalBytes int64, destPath string, progressCb ProgressCallback) (*FetchResult, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	hash := sha256.New()
	writer := io.MultiWriter(tempFile, hash)

	var bytesReceived int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := writer.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("failed to write to temp file: %w", err)
			}
			bytesReceived += int64(n)
			if progressCb != nil {
				progressCb(bytesReceived, totalBytes)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}

	if totalBytes > 0 && bytesReceived != totalBytes {
		return nil, fmt.Errorf("short transfer: expected %d bytes, received %d", totalBytes, bytesReceived)
	}

	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return nil, fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}
	committed = true

	return &FetchResult{
		Path:   destPath,
		Digest: hex.EncodeToString(hash.Sum(nil)),
		Size:   bytesReceived,
	}, nil
}

// withRetry runs fn up to attempts times, sleeping delay between
// retryable failures.
func withRetry(ctx context.Context, attempts int, delay time.Duration, what string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			break
		}
		log.Warn("Download failed, retrying", "what", what, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
