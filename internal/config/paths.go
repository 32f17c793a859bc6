// Package config resolves the on-disk layout used by rwsctl.
package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the rwslink home directory when set.
const HomeEnv = "RWSLINK_HOME"

// Paths describes the rwslink data directory layout.
type Paths struct {
	Home     string // root directory (~/.rwslink)
	DeviceDB string // SQLite device-profile store
	Logs     string // logs directory
}

// GetPaths returns the data directory layout without creating anything.
func GetPaths() Paths {
	home := os.Getenv(HomeEnv)
	if home == "" {
		userHome, _ := os.UserHomeDir()
		home = filepath.Join(userHome, ".rwslink")
	}
	return Paths{
		Home:     home,
		DeviceDB: filepath.Join(home, "devices.db"),
		Logs:     filepath.Join(home, "logs"),
	}
}

// EnsureDirs creates the data directories if they do not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()
	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' || path[1] == os.PathSeparator {
		return filepath.Join(home, path[2:])
	}
	return path
}
