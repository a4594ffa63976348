package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locations are where hyper looks for its config file and keeps its data
// unless the config says otherwise.
type Locations struct {
	ConfigFile string
	BaseDir    string
}

// DefaultLocations resolves Locations from the environment. HYPER_CONFIG_PATH
// and HYPER_HOME take precedence, then XDG_CONFIG_HOME and XDG_DATA_HOME,
// then ~/.config and ~/.local/share.
func DefaultLocations() (Locations, error) {
	configFile, err := locate("HYPER_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "hyper.toml")
	if err != nil {
		return Locations{}, err
	}
	baseDir, err := locate("HYPER_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "hyper")
	if err != nil {
		return Locations{}, err
	}
	return Locations{ConfigFile: configFile, BaseDir: baseDir}, nil
}

// locate returns $override verbatim, or name inside $xdg, or name inside
// homeRel below the home directory. Relative XDG paths are ignored.
func locate(override, xdg, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", name, err)
	}
	return filepath.Join(home, homeRel, name), nil
}
