// Package yaml decodes planguard's YAML files strictly and replaces them
// atomically, keeping one backup of the previous version.
package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// CheckFunc vets the bytes that are about to replace a file. A plan file is
// checked with its own parser so a write never leaves an unloadable plan.
type CheckFunc func(content []byte) error

// ErrNoBackup is returned by RestoreFromBackup when path has no backup.
var ErrNoBackup = errors.New("no backup")

// DecodeStrict decodes a single YAML document into out, rejecting fields that
// out does not declare. An empty document leaves out untouched.
func DecodeStrict(data []byte, out any) error {
	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// BackupPath is where WriteFile keeps the version of path it replaced.
func BackupPath(path string) string {
	return path + ".bak"
}

// WriteFile marshals v and replaces path with it. See WriteFileRaw.
func WriteFile(path string, v any, check CheckFunc) error {
	content, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return WriteFileRaw(path, content, check)
}

// WriteFileRaw replaces path with content. content must pass check (or, with
// a nil check, parse as YAML) before anything on disk changes. An existing
// file is kept at BackupPath(path) and its permissions carry over.
func WriteFileRaw(path string, content []byte, check CheckFunc) error {
	if check == nil {
		check = syntaxCheck
	}
	if err := check(content); err != nil {
		return fmt.Errorf("refusing to write %s: %w", filepath.Base(path), err)
	}

	perm := fs.FileMode(0644)
	prev, err := os.Stat(path)
	switch {
	case err == nil:
		perm = prev.Mode().Perm()
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat %s: %w", path, err)
	}

	tmp, err := writeTemp(filepath.Dir(path), content, perm)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	if prev != nil {
		if err := backup(path); err != nil {
			return fmt.Errorf("back up %s: %w", path, err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

// RestoreFromBackup puts the backup of path back in place after it passes
// check. The restored-over version becomes the new backup.
func RestoreFromBackup(path string, check CheckFunc) error {
	content, err := os.ReadFile(BackupPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("restore %s: %w", path, ErrNoBackup)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	return WriteFileRaw(path, content, check)
}

func syntaxCheck(content []byte) error {
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	return nil
}

func writeTemp(dir string, content []byte, perm fs.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, ".planguard-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	fail := func(op string, err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%s temp file: %w", op, err)
	}

	if _, err := f.Write(content); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

// backup hard-links path to its backup name, copying when the filesystem
// refuses links.
func backup(path string) error {
	bak := BackupPath(path)
	if err := os.Remove(bak); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Link(path, bak); err == nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(bak, data, 0644)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer func() { _ = d.Close() }()
	// Some filesystems do not support fsync on directories.
	_ = d.Sync()
	return nil
}
