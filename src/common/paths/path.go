// Package paths provides path helpers shared by the ibforge packages.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand expands environment variables and a leading ~ in path.
func Expand(path string) string {
	return ExpandHome(os.ExpandEnv(path))
}

// ExpandHome expands only the ~ prefix to the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

// Resolve expands path and makes it absolute. Relative paths are
// resolved against the current working directory.
func Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(Expand(path))
}

// EnsureDir ensures that the parent directory of a file path exists.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// EnsureDirPath ensures that the given directory path exists.
func EnsureDirPath(dirPath string) error {
	return os.MkdirAll(dirPath, 0755)
}

// Exists returns true if the path exists
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir returns true if the path exists and is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile returns true if the path exists and is a regular file
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveIfExists deletes a file or directory tree, treating a missing
// path as success.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
