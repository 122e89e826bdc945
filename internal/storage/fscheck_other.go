//go:build !darwin && !linux

package storage

// Unknown platforms are assumed local.
func filesystemType(path string) (string, error) {
	return "local", nil
}
