// Package state centralizes filesystem locations for pagetap runtime artifacts.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime state root.
	StateDirEnv = "PAGETAP_STATE_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "pagetap"
)

// RootDir returns the runtime state root.
// Resolution order:
//  1. PAGETAP_STATE_DIR (if set)
//  2. XDG_STATE_HOME/pagetap (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/pagetap
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// ExportsDir returns the default directory for session exports.
func ExportsDir() (string, error) {
	return InRoot("exports")
}

// TabsDir returns the directory holding tab-scoped activation flags.
func TabsDir() (string, error) {
	return InRoot("tabs")
}

// CollectorDBFile returns the default collector database path.
func CollectorDBFile() (string, error) {
	return InRoot("collector", "sessions.db")
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
