package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a filesystem-backed store rooted at a project directory. All paths
// are relative to the root; anything that would escape it is rejected.
type Dir struct {
	root string
}

// NewDir creates a store rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// resolve cleans and validates a relative path against the root.
func (d *Dir) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path %q: parent directory reference", path)
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path %q: absolute paths not allowed", path)
	}
	full := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(full, d.root+string(filepath.Separator)) && full != d.root {
		return "", fmt.Errorf("invalid path %q: outside store root", path)
	}
	return full, nil
}

// Save writes data to path, creating parent directories as needed. The write
// goes through a temp file and rename so a crash never leaves a torn file.
func (d *Dir) Save(ctx context.Context, path string, data []byte) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing file: %w", err)
	}
	return nil
}

// Load reads the file at path.
func (d *Dir) Load(ctx context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// List returns relative paths matching a glob pattern under the root.
func (d *Dir) List(ctx context.Context, pattern string) ([]string, error) {
	cleaned := filepath.Clean(pattern)
	if strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	matches, err := filepath.Glob(filepath.Join(d.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	var out []string
	for _, m := range matches {
		rel, err := filepath.Rel(d.root, m)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// Exists reports whether path exists under the root.
func (d *Dir) Exists(ctx context.Context, path string) bool {
	full, err := d.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Delete removes the file at path.
func (d *Dir) Delete(ctx context.Context, path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// SaveJSON marshals v with indentation and writes it to path.
func (d *Dir) SaveJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return d.Save(ctx, path, data)
}

// LoadJSON reads path and unmarshals it into v.
func (d *Dir) LoadJSON(ctx context.Context, path string, v any) error {
	data, err := d.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return nil
}
