// Package uploader moves rendered videos through upload states and publishes
// them. Directories double as states: a file lives in exactly one of
// processed, uploading, done or failed at any time.
package uploader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

type Dirs struct {
	Root      string
	Processed string
	Uploading string
	Done      string
	Failed    string
}

func NewDirs(root string) Dirs {
	return Dirs{
		Root:      root,
		Processed: filepath.Join(root, "processed"),
		Uploading: filepath.Join(root, "uploading"),
		Done:      filepath.Join(root, "done"),
		Failed:    filepath.Join(root, "failed"),
	}
}

func (d Dirs) All() []string {
	return []string{d.Processed, d.Uploading, d.Done, d.Failed}
}

func (d Dirs) EnsureAll() error {
	for _, dir := range d.All() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// listFiles returns the regular files in dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// safeMove renames a file, falling back to copy-then-delete when the rename
// crosses filesystems. A file is therefore never present in two state
// directories at once.
func safeMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
