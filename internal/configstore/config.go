package configstore

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Runtime names accepted in the runtime key and ANSIBLE_TOOLBOX_RUNTIME.
const (
	RuntimeDocker = "docker"
	RuntimePodman = "podman"
)

// Config represents the persisted ansible-toolbox configuration.
type Config struct {
	Runtime  string
	Packages []string
	EnvVars  map[string]string
	Volumes  []string
	Projects map[string]ProjectConfig
}

// ProjectConfig holds the settings applied only when the toolbox runs from
// the project directory it is keyed by.
type ProjectConfig struct {
	Packages []string
	EnvVars  map[string]string
	Volumes  []string
}

// DecisionScope models the precedence layer that yielded an effective value.
type DecisionScope string

const (
	ScopeUnset   DecisionScope = "unset"
	ScopeGlobal  DecisionScope = "global"
	ScopeProject DecisionScope = "project"
)

// EnvVarValue captures the effective value and scope for an environment variable.
type EnvVarValue struct {
	Value string
	Scope DecisionScope
}

// New returns a Config with initialized maps.
func New() Config {
	return Config{
		EnvVars:  make(map[string]string),
		Projects: make(map[string]ProjectConfig),
	}
}

func (c *Config) ensureInitialized() {
	if c.EnvVars == nil {
		c.EnvVars = make(map[string]string)
	}
	if c.Projects == nil {
		c.Projects = make(map[string]ProjectConfig)
	}
	for key, project := range c.Projects {
		if project.EnvVars == nil {
			project.EnvVars = make(map[string]string)
			c.Projects[key] = project
		}
	}
}

// ValidRuntime reports whether name is a supported container runtime.
func ValidRuntime(name string) bool {
	switch name {
	case RuntimeDocker, RuntimePodman:
		return true
	default:
		return false
	}
}

// normalizeProjectKey resolves the absolute path for use as a project key.
func normalizeProjectKey(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("project path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs project path: %w", err)
	}
	normalized, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Projects may be configured before the directory exists.
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return filepath.Clean(normalized), nil
}

func resolveConfigProjectKey(spec string) (string, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return "", fmt.Errorf("project key must not be empty")
	}
	expanded, err := ExpandLeadingTilde(os.ExpandEnv(trimmed))
	if err != nil {
		return "", err
	}
	return normalizeProjectKey(expanded)
}

// ExpandLeadingTilde expands "~", "~/rest" and "~user/rest" to home
// directories. Paths without a leading tilde are returned unchanged.
func ExpandLeadingTilde(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	if len(path) == 1 || path[1] == '/' {
		home, err := resolveHomeDir()
		if err != nil {
			return "", err
		}
		if len(path) == 1 {
			return home, nil
		}
		return filepath.Join(home, strings.TrimLeft(path[2:], "/")), nil
	}

	username, rest, _ := strings.Cut(path[1:], "/")
	account, err := user.Lookup(username)
	if err != nil {
		return "", fmt.Errorf("lookup home for %s: %w", username, err)
	}
	if rest == "" {
		return account.HomeDir, nil
	}
	return filepath.Join(account.HomeDir, rest), nil
}
