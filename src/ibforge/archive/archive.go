// Package archive unpacks Image Builder tarballs.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the archive package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Format is the compression applied around the tar stream.
type Format int

const (
	FormatXZ Format = iota
	FormatZstd
	FormatGzip
	FormatTar
)

func (f Format) String() string {
	switch f {
	case FormatZstd:
		return "zstd"
	case FormatGzip:
		return "gzip"
	case FormatTar:
		return "tar"
	default:
		return "xz"
	}
}

// DetectFormat picks the decompressor from the file name. Anything not
// recognised is treated as xz, the upstream release format.
func DetectFormat(name string) Format {
	switch {
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".tzst"):
		return FormatZstd
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		return FormatGzip
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	default:
		return FormatXZ
	}
}

// Stem strips the archive suffixes from a file name,
// e.g. "x.Linux-x86_64.tar.zst" -> "x.Linux-x86_64".
func Stem(name string) string {
	name = filepath.Base(name)
	for _, suffix := range []string{".tar.zst", ".tar.xz", ".tar.gz", ".tzst", ".txz", ".tgz", ".tar"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Extract unpacks the tarball at archivePath into destDir, creating it.
func Extract(ctx context.Context, archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return errors.ErrExtractionFailed.WithMessagef("failed to open %s", archivePath).WithCause(err)
	}
	defer file.Close()

	format := DetectFormat(archivePath)
	reader, closer, err := decompressor(format, file)
	if err != nil {
		return errors.ErrExtractionFailed.WithMessagef("failed to read %s as %s", filepath.Base(archivePath), format).WithCause(err)
	}
	defer closer()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return errors.ErrExtractionFailed.WithMessagef("failed to create %s", destDir).WithCause(err)
	}

	log.Info("Extracting archive", "archive", filepath.Base(archivePath), "format", format, "dest", destDir)

	files, err := untar(ctx, reader, destDir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ErrExtractionFailed.WithMessagef("failed to extract %s", filepath.Base(archivePath)).WithCause(err)
	}

	log.Debug("Archive extracted", "archive", filepath.Base(archivePath), "entries", files)
	return nil
}

func decompressor(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case FormatGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { gr.Close() }, nil
	case FormatTar:
		return r, func() {}, nil
	default:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	}
}

func untar(ctx context.Context, r io.Reader, destDir string) (int, error) {
	cleanDest := filepath.Clean(destDir)
	tarReader := tar.NewReader(r)
	count := 0

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(cleanDest, header.Name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return count, fmt.Errorf("invalid tar path: %s", header.Name)
		}
		if err := checkNoSymlink(cleanDest, filepath.Dir(target)); err != nil {
			return count, fmt.Errorf("invalid tar path %s: %w", header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(header)); err != nil {
				return count, fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := writeFile(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return count, err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, fmt.Errorf("failed to create parent directory: %w", err)
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return count, fmt.Errorf("failed to create symlink: %w", err)
			}

		case tar.TypeLink:
			linkTarget := filepath.Join(cleanDest, header.Linkname)
			if !strings.HasPrefix(linkTarget, cleanDest+string(os.PathSeparator)) {
				return count, fmt.Errorf("invalid hard link target: %s", header.Linkname)
			}
			if err := checkNoSymlink(cleanDest, filepath.Dir(linkTarget)); err != nil {
				return count, fmt.Errorf("invalid hard link target %s: %w", header.Linkname, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, fmt.Errorf("failed to create parent directory: %w", err)
			}
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return count, fmt.Errorf("failed to create hard link: %w", err)
			}

		default:
			log.Debug("Skipping tar entry", "name", header.Name, "type", string(header.Typeflag))
			continue
		}
		count++
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// checkNoSymlink fails when an existing path element between root and dir
// is a symlink, so earlier entries cannot redirect later writes.
func checkNoSymlink(root, dir string) error {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return err
	}
	if rel == "." || rel == ".." {
		return nil
	}

	cur := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%s is a symlink", rel)
		}
	}
	return nil
}

func dirMode(h *tar.Header) os.FileMode {
	mode := os.FileMode(h.Mode).Perm()
	if mode == 0 {
		return 0755
	}
	return mode | 0700
}

// Root returns the single top-level directory of an extracted tree, or dir
// itself when the tree has several entries.
func Root(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
