package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is one document to write.
type File struct {
	Path string
	Data []byte
}

// pendingFile tracks one target through a ReplaceFiles call.
type pendingFile struct {
	path     string
	tmp      string // staged new content, "" once renamed into place
	backup   string // copy of the previous content, "" if there was none
	replaced bool
}

// ReplaceFiles replaces every file as a group. All new contents are written
// and synced to temp files, and every existing target is copied aside,
// before the first rename. If a rename fails, targets already replaced are
// put back, so readers see either every old file or every new one.
// Failures are returned as *ExportError naming the file that failed.
func ReplaceFiles(files ...File) error {
	pending := make([]*pendingFile, 0, len(files))
	defer func() {
		for _, p := range pending {
			if p.tmp != "" {
				os.Remove(p.tmp)
			}
			if p.backup != "" {
				os.Remove(p.backup)
			}
		}
	}()

	for _, f := range files {
		tmp, err := stageFile(f.Path, f.Data)
		if err != nil {
			return &ExportError{Path: f.Path, Err: err}
		}
		pending = append(pending, &pendingFile{path: f.Path, tmp: tmp})
	}

	for _, p := range pending {
		backup, err := backupFile(p.path)
		if err != nil {
			return &ExportError{Path: p.path, Err: err}
		}
		p.backup = backup
	}

	for _, p := range pending {
		if err := os.Rename(p.tmp, p.path); err != nil {
			err = fmt.Errorf("renaming temp file: %w", err)
			if rerr := restore(pending); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return &ExportError{Path: p.path, Err: err}
		}
		p.tmp = ""
		p.replaced = true
	}
	return nil
}

// restore puts back the previous content of every replaced target. A target
// that did not exist before is removed.
func restore(pending []*pendingFile) error {
	var errs []error
	for _, p := range pending {
		if !p.replaced {
			continue
		}
		if p.backup == "" {
			if err := os.Remove(p.path); err != nil {
				errs = append(errs, fmt.Errorf("removing %s: %w", p.path, err))
			}
			continue
		}
		if err := os.Rename(p.backup, p.path); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", p.path, err))
			continue
		}
		p.backup = ""
		p.replaced = false
	}
	return errors.Join(errs...)
}

// backupFile copies the current content of path into a synced temp file
// beside it. It returns "" when path does not exist.
func backupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading previous version: %w", err)
	}
	backup, err := stageFile(path, data)
	if err != nil {
		return "", fmt.Errorf("backing up previous version: %w", err)
	}
	return backup, nil
}

// stageFile writes data to a synced temp file in path's directory and
// returns the temp file's name.
func stageFile(path string, data []byte) (string, error) {
	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return tmpPath, nil
}

// syncDir fsyncs a directory so renames within it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}
