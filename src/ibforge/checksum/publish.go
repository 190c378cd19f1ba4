package checksum

import (
	"os"
	"path/filepath"

	"github.com/bitswalk/ibforge/src/common/errors"
)

// ImagePattern selects the firmware images covered by a published manifest.
const ImagePattern = "*.img.gz"

// Build hashes the regular files directly inside dir whose names match
// pattern ("" matches all), in lexical order. An existing manifest is never
// part of its own contents.
func Build(dir, pattern string) (*Manifest, error) {
	return build(dir, func(name string) bool {
		if pattern == "" {
			return true
		}
		ok, _ := filepath.Match(pattern, name)
		return ok
	})
}

func build(dir string, keep func(name string) bool) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to read %s", dir).WithCause(err)
	}

	m := NewManifest()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == ManifestName || !keep(entry.Name()) {
			continue
		}
		digest, err := File(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.ErrInternal.WithMessagef("failed to hash %s", entry.Name()).WithCause(err)
		}
		m.Add(entry.Name(), digest)
	}
	return m, nil
}

// Publish writes <dir>/sha256sums covering every image in dir and returns
// the manifest path. Running it twice on unchanged contents yields an
// identical file.
func Publish(dir string) (string, error) {
	m, err := Build(dir, ImagePattern)
	if err != nil {
		return "", err
	}
	return writeManifest(dir, m)
}

// PublishFiles writes <dir>/sha256sums covering exactly the named files of
// dir, in lexical order. Other files left in dir by earlier runs are not
// listed. Every name must exist as a regular file.
func PublishFiles(dir string, names []string) (string, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	m, err := build(dir, func(name string) bool { return wanted[name] })
	if err != nil {
		return "", err
	}
	if m.Len() != len(wanted) {
		for name := range wanted {
			if _, ok := m.Lookup(name); !ok {
				return "", errors.ErrInternal.WithMessagef("cannot checksum %s: not a file in %s", name, dir)
			}
		}
	}
	return writeManifest(dir, m)
}

func writeManifest(dir string, m *Manifest) (string, error) {
	manifestPath := filepath.Join(dir, ManifestName)
	tmp, err := os.CreateTemp(dir, ".sha256sums-*")
	if err != nil {
		return "", errors.ErrInternal.WithMessage("failed to create checksum manifest").WithCause(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := m.WriteTo(tmp); err != nil {
		tmp.Close()
		return "", errors.ErrInternal.WithMessage("failed to write checksum manifest").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.ErrInternal.WithMessage("failed to write checksum manifest").WithCause(err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", errors.ErrInternal.WithMessage("failed to set manifest permissions").WithCause(err)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		return "", errors.ErrInternal.WithMessage("failed to install checksum manifest").WithCause(err)
	}

	log.Info("Checksum manifest written", "path", manifestPath, "files", m.Len())
	return manifestPath, nil
}

// Result is the verification outcome for one manifest entry.
type Result struct {
	Name     string
	Expected string
	Actual   string
	OK       bool
	Err      error
}

// Verify recomputes every entry of <dir>/sha256sums. The returned error is
// ErrChecksumMismatch when any file is missing or differs.
func Verify(dir string) ([]Result, error) {
	m, err := ParseFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, errors.ErrChecksumMissing.WithMessagef("cannot read %s in %s", ManifestName, dir).WithCause(err)
	}

	results := make([]Result, 0, m.Len())
	failed := 0
	for _, e := range m.Entries() {
		r := Result{Name: e.Name, Expected: e.Digest}
		actual, err := File(filepath.Join(dir, e.Name))
		switch {
		case err != nil:
			r.Err = err
		case actual != e.Digest:
			r.Actual = actual
		default:
			r.Actual = actual
			r.OK = true
		}
		if !r.OK {
			failed++
			log.Warn("Checksum verification failed", "file", e.Name, "expected", e.Digest, "actual", r.Actual)
		}
		results = append(results, r)
	}

	if failed > 0 {
		return results, errors.ErrChecksumMismatch.WithMessagef("%d of %d files failed verification", failed, len(results))
	}
	return results, nil
}
