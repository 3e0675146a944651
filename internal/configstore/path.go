package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFileName = "config.toml"
	appDirName     = "ansible-toolbox"
)

// GetConfigPath resolves the configuration directory and file path using XDG
// rules with a fallback to ~/.config/ansible-toolbox/config.toml.
// ANSIBLE_TOOLBOX_HOME replaces the directory entirely.
func GetConfigPath() (string, string, error) {
	if override := strings.TrimSpace(os.Getenv("ANSIBLE_TOOLBOX_HOME")); override != "" {
		dir, err := absDir(override, "ANSIBLE_TOOLBOX_HOME")
		if err != nil {
			return "", "", err
		}
		return dir, filepath.Join(dir, configFileName), nil
	}

	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", "", err
	}
	return dir, filepath.Join(dir, configFileName), nil
}

// GetCacheDir resolves the directory that holds the image record store and
// build locks. ANSIBLE_TOOLBOX_CACHE_DIR takes precedence over
// $XDG_CACHE_HOME/ansible-toolbox and ~/.cache/ansible-toolbox.
func GetCacheDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("ANSIBLE_TOOLBOX_CACHE_DIR")); override != "" {
		return absDir(override, "ANSIBLE_TOOLBOX_CACHE_DIR")
	}
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

func absDir(raw, source string) (string, error) {
	dir := filepath.Clean(raw)
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", source, raw, err)
	}
	return abs, nil
}

func xdgDir(envKey, homeFallback string) (string, error) {
	if base := strings.TrimSpace(os.Getenv(envKey)); base != "" {
		return filepath.Join(base, appDirName), nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeFallback, appDirName), nil
}

// resolveHomeDir reads HOME on each call instead of trusting a cached value,
// so tests that rewrite the environment see their own home directory.
func resolveHomeDir() (string, error) {
	if home := strings.TrimSpace(os.Getenv("HOME")); home != "" {
		return filepath.Clean(home), nil
	}
	if profile := strings.TrimSpace(os.Getenv("USERPROFILE")); profile != "" {
		return filepath.Clean(profile), nil
	}
	return "", fmt.Errorf("resolve home dir: home directory not found")
}
