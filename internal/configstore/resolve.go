package configstore

import "strings"

// Resolved is the effective configuration for one working directory.
// Packages and Volumes list global entries before project entries.
type Resolved struct {
	Runtime  string
	Packages []string
	Volumes  []string
	Env      map[string]EnvVarValue
}

// Resolve applies the project section matching projectPath, if any, on top of
// the global settings.
func (c Config) Resolve(projectPath string) (Resolved, error) {
	env, err := c.ResolveEnvVars(projectPath)
	if err != nil {
		return Resolved{}, err
	}
	out := Resolved{
		Runtime:  c.Runtime,
		Packages: append([]string(nil), c.Packages...),
		Volumes:  append([]string(nil), c.Volumes...),
		Env:      env,
	}
	project, ok, err := c.project(projectPath)
	if err != nil {
		return Resolved{}, err
	}
	if ok {
		out.Packages = append(out.Packages, project.Packages...)
		out.Volumes = append(out.Volumes, project.Volumes...)
	}
	return out, nil
}

// ResolveEnvVars merges global and project-specific environment variables
// (project > global). The result is keyed by variable name.
func (c Config) ResolveEnvVars(projectPath string) (map[string]EnvVarValue, error) {
	result := make(map[string]EnvVarValue)
	for key, value := range c.EnvVars {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = EnvVarValue{Value: value, Scope: ScopeGlobal}
	}

	project, ok, err := c.project(projectPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return result, nil
	}
	for key, value := range project.EnvVars {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = EnvVarValue{Value: value, Scope: ScopeProject}
	}
	return result, nil
}

func (c Config) project(projectPath string) (ProjectConfig, bool, error) {
	if strings.TrimSpace(projectPath) == "" || len(c.Projects) == 0 {
		return ProjectConfig{}, false, nil
	}
	normalized, err := normalizeProjectKey(projectPath)
	if err != nil {
		return ProjectConfig{}, false, err
	}
	project, ok := c.Projects[normalized]
	return project, ok, nil
}
