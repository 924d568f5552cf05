package config

import (
	"os"
	"path/filepath"
)

// DataDirEnv overrides every other data directory choice.
const DataDirEnv = "LOGFAN_DATA_DIR"

// DefaultDataDir picks where a node keeps its database when no directory is
// given. Order: LOGFAN_DATA_DIR, XDG_DATA_HOME, /var/lib, then the per-user
// application directory of the host OS, then ~/.logfan. Without a home
// directory it returns ./data.
func DefaultDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "logfan")
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", "/var/lib/logfan"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Logfan")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Logfan")},
	}
	for _, c := range candidates {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, ".logfan")
}

// StoreDir is the Pebble directory inside a node's data directory.
func StoreDir(dataDir string) string {
	return filepath.Join(dataDir, "store")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
