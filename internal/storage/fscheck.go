package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the run database would live on a
// network mount, where SQLite file locking is unreliable.
var ErrNetworkFilesystem = errors.New("run database is on a network filesystem")

var remoteFS = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// CheckLocalFilesystem verifies that path (or its nearest existing parent)
// is on local disk.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFS[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("%w: %s is on %s, set state.path to a local file", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}
