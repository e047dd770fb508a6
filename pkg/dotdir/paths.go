package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dbFile      = "accord.db"
	keysDir     = "keys"
	registryDir = "registry"
	logFile     = "accord.log"
)

// Paths are the well-known locations inside an .accord/ directory.
type Paths struct {
	Home     string
	DB       string
	Keys     string
	Registry string
	Log      string
}

// Layout returns the paths inside home without touching the filesystem.
func Layout(home string) Paths {
	return Paths{
		Home:     home,
		DB:       filepath.Join(home, dbFile),
		Keys:     filepath.Join(home, keysDir),
		Registry: filepath.Join(home, registryDir),
		Log:      filepath.Join(home, logFile),
	}
}

// Paths resolves the .accord/ directory like Target and creates its key
// and registry subdirectories.
func (m *Manager) Paths(overrideDir string) (Paths, error) {
	home, err := m.Target(overrideDir)
	if err != nil {
		return Paths{}, err
	}

	p := Layout(home)
	for _, dir := range []string{p.Keys, p.Registry} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Paths{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return p, nil
}
