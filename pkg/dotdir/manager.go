// Package dotdir manages the .accord/ and ~/.accord directories that hold
// the configuration, the default SQLite store, encrypted keys, locally
// published DID documents, and server logs.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName = ".accord"

	// EnvHome points accord at a home directory when no --config-dir is
	// given. Agents sharing a working directory use it to keep separate keys.
	EnvHome = "ACCORD_HOME"
)

// Manager locates the accord home directory.
type Manager struct {
	getenv  func(string) string
	getwd   func() (string, error)
	userDir func() (string, error)
}

func NewManager() *Manager {
	return &Manager{getenv: os.Getenv, getwd: os.Getwd, userDir: os.UserHomeDir}
}

// Target returns the absolute path of the accord home, creating it readable
// by the owner only when missing. The first of these wins:
//  1. overrideDir (--config-dir)
//  2. $ACCORD_HOME
//  3. ./.accord/ when it exists in the working directory
//  4. ~/.accord/
func (m *Manager) Target(overrideDir string) (string, error) {
	dir, err := m.locate(overrideDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating accord home %s: %w", dir, err)
	}
	return filepath.Abs(dir)
}

func (m *Manager) locate(overrideDir string) (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}
	if dir := m.getenv(EnvHome); dir != "" {
		return dir, nil
	}
	if cwd, err := m.getwd(); err == nil {
		local := filepath.Join(cwd, dirName)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local, nil
		}
	}
	home, err := m.userDir()
	if err != nil {
		return "", fmt.Errorf("locating accord home: %w", err)
	}
	return filepath.Join(home, dirName), nil
}
