package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyTree copies src into dst recursively. Existing files in dst with
// the same name are overwritten, everything else in dst is left alone.
// Symlinks are recreated rather than followed and permission bits are
// preserved.
func copyTree(ctx context.Context, src, dst string) (int, error) {
	count := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return copyDir(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				return err
			}
		case d.Type().IsRegular():
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		default:
			log.Debug("Skipping special file", "path", path, "mode", info.Mode().String())
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// copyPath copies a single file, symlink or directory tree to dst
func copyPath(ctx context.Context, src, dst string) (int, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return copyTree(ctx, src, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return 1, copySymlink(src, dst)
	}
	return 1, copyFile(src, dst, info.Mode().Perm())
}

func copyDir(target string, mode os.FileMode) error {
	existing, err := os.Lstat(target)
	switch {
	case err == nil && existing.IsDir():
		return os.Chmod(target, mode|0700)
	case err == nil:
		if err := os.Remove(target); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return err
	}
	return os.MkdirAll(target, mode|0700)
}

func copySymlink(src, target string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := removeNonDir(target); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

func copyFile(src, target string, mode os.FileMode) error {
	// Never write through an existing symlink at the destination
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(target, mode)
}

func removeNonDir(target string) error {
	fi, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("cannot replace directory %s with a symlink", target)
	}
	return os.Remove(target)
}
