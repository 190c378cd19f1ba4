// Package checksum reads and writes sha256sum(1)-compatible manifests.
package checksum

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the checksum package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// ManifestName is the file name of a checksum manifest, upstream and local.
const ManifestName = "sha256sums"

// Entry is a single manifest line.
type Entry struct {
	Digest string
	Name   string
}

// Manifest maps file names to lowercase hex SHA-256 digests, preserving
// the order entries were read or written in.
type Manifest struct {
	entries []Entry
	index   map[string]int
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{index: make(map[string]int)}
}

// Add appends or replaces the digest for name.
func (m *Manifest) Add(name, digest string) {
	digest = strings.ToLower(digest)
	if i, ok := m.index[name]; ok {
		m.entries[i].Digest = digest
		return
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, Entry{Digest: digest, Name: name})
}

// Lookup returns the digest recorded for name.
func (m *Manifest) Lookup(name string) (string, bool) {
	i, ok := m.index[name]
	if !ok {
		return "", false
	}
	return m.entries[i].Digest, true
}

// Entries returns the manifest entries in order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// WriteTo writes the manifest as "<hex>  <name>" lines.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range m.entries {
		n, err := fmt.Fprintf(w, "%s  %s\n", e.Digest, e.Name)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Parse reads a sha256sum manifest. Both text ("<hex>  name") and binary
// ("<hex> *name") forms are accepted; blank lines and comments are skipped.
func Parse(r io.Reader) (*Manifest, error) {
	m := NewManifest()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		digest, rest, ok := strings.Cut(line, " ")
		if !ok || len(digest) != sha256.Size*2 {
			return nil, fmt.Errorf("malformed checksum line %d: %q", lineNo, line)
		}
		if _, err := hex.DecodeString(digest); err != nil {
			return nil, fmt.Errorf("malformed digest on line %d: %w", lineNo, err)
		}

		name := strings.TrimPrefix(strings.TrimPrefix(rest, " "), "*")
		if name == "" {
			return nil, fmt.Errorf("missing file name on line %d", lineNo)
		}
		m.Add(name, digest)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksum manifest: %w", err)
	}
	return m, nil
}

// ParseFile reads a manifest from disk.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// File computes the SHA-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compare checks a file against the digest expected for its base name.
func Compare(m *Manifest, path string) (string, error) {
	name := filepath.Base(path)
	expected, ok := m.Lookup(name)
	if !ok {
		return "", errors.ErrChecksumMissing.WithMessagef("no checksum entry for %s", name)
	}

	actual, err := File(path)
	if err != nil {
		return "", errors.ErrInternal.WithMessagef("failed to hash %s", name).WithCause(err)
	}

	if actual != expected {
		return actual, errors.ErrChecksumMismatch.WithMessagef(
			"checksum mismatch for %s: expected %s, got %s", name, expected, actual)
	}
	return actual, nil
}
