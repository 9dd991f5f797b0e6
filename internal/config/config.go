// Package config handles pipeline configuration and data directory layout.
package config

import (
	"os"
	"path/filepath"
)

const (
	// AppDir is the directory name under XDG_CONFIG_HOME.
	AppDir = "rmap"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"

	DBFile           = "publications.db"
	InstitutionsFile = "institutions.json"
	MetaFile         = "meta.json"
	LockFile         = ".rmap.lock"
)

// DBPath returns the path to the SQLite database inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// InstitutionsPath returns the path to the exported institution listing.
func InstitutionsPath(dataDir string) string {
	return filepath.Join(dataDir, InstitutionsFile)
}

// MetaPath returns the path to the exported metadata document.
func MetaPath(dataDir string) string {
	return filepath.Join(dataDir, MetaFile)
}

// LockPath returns the path to the run lock file.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, LockFile)
}

// DefaultConfigPath returns the path to the config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/rmap/config.yml.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDir, ConfigFile)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
