package configstore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseError represents a TOML decode failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the persisted config from disk. Missing files result in an empty
// configuration with defaults.
func Load() (Config, error) {
	cfg := New()
	_, file, err := GetConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(data, file, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeConfig(data []byte, path string, cfg *Config) error {
	cfg.ensureInitialized()

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			return &ParseError{Path: path, Err: decodeErr}
		}
		return err
	}

	for _, key := range sortedAnyKeys(raw) {
		value := raw[key]
		switch key {
		case "runtime":
			name, err := toString(value)
			if err != nil {
				return fmt.Errorf("parse runtime: %w", err)
			}
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" && !ValidRuntime(name) {
				return fmt.Errorf("parse runtime: unsupported container runtime %q (want %s or %s)", name, RuntimeDocker, RuntimePodman)
			}
			cfg.Runtime = name
		case "packages":
			packages, err := toStringSlice(value)
			if err != nil {
				return fmt.Errorf("parse packages: %w", err)
			}
			cfg.Packages = packages
		case "volumes":
			volumes, err := toStringSlice(value)
			if err != nil {
				return fmt.Errorf("parse volumes: %w", err)
			}
			cfg.Volumes = volumes
		case "env":
			envs, err := toEnvTable(value)
			if err != nil {
				return fmt.Errorf("parse env: %w", err)
			}
			cfg.EnvVars = envs
		case "projects":
			projects, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("parse projects: expected table, got %T", value)
			}
			for projectKey, rawProject := range projects {
				if err := decodeProject(cfg, projectKey, rawProject); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("parse config: unknown key %q", key)
		}
	}

	cfg.ensureInitialized()
	return nil
}

func decodeProject(cfg *Config, projectKey string, rawProject any) error {
	table, ok := rawProject.(map[string]any)
	if !ok {
		return fmt.Errorf("parse projects.%s: expected table, got %T", projectKey, rawProject)
	}
	normalizedKey, err := resolveConfigProjectKey(projectKey)
	if err != nil {
		return fmt.Errorf("parse projects.%s: %w", projectKey, err)
	}

	project := cfg.Projects[normalizedKey]
	for key, value := range table {
		switch key {
		case "packages":
			packages, err := toStringSlice(value)
			if err != nil {
				return fmt.Errorf("parse projects.%s.packages: %w", projectKey, err)
			}
			project.Packages = packages
		case "volumes":
			volumes, err := toStringSlice(value)
			if err != nil {
				return fmt.Errorf("parse projects.%s.volumes: %w", projectKey, err)
			}
			project.Volumes = volumes
		case "env":
			envs, err := toEnvTable(value)
			if err != nil {
				return fmt.Errorf("parse projects.%s.env: %w", projectKey, err)
			}
			project.EnvVars = envs
		default:
			return fmt.Errorf("parse projects.%s: unknown key %q", projectKey, key)
		}
	}
	cfg.Projects[normalizedKey] = project
	return nil
}

func toEnvTable(value any) (map[string]string, error) {
	table, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected table, got %T", value)
	}
	out := make(map[string]string, len(table))
	for key, rawVal := range table {
		strVal, err := toString(rawVal)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if err := ValidateEnvKey(key); err != nil {
			return nil, fmt.Errorf("%q: %w", key, err)
		}
		out[key] = expandConfigValue(strVal)
	}
	return out, nil
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}

func toStringSlice(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of strings, got %T", value)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, err := toString(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("item %d: value cannot be empty", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// expandConfigValue expands $VAR and ${VAR} from the process environment.
// "$$" yields a literal dollar sign.
func expandConfigValue(raw string) string {
	if !strings.Contains(raw, "$") {
		return raw
	}
	const placeholder = "\x00DOLLAR\x00"
	protected := strings.ReplaceAll(raw, "$$", placeholder)
	expanded := os.Expand(protected, os.Getenv)
	return strings.ReplaceAll(expanded, placeholder, "$")
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
