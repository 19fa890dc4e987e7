package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.ragcore/logs, or a temp-dir fallback when the home
// directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcore", "logs")
	}
	return filepath.Join(home, ".ragcore", "logs")
}

func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "ragcore.log")
}
