package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/ansible-toolbox/at/internal/buildspec"
	"github.com/ansible-toolbox/at/internal/configstore"
	"github.com/ansible-toolbox/at/internal/containerspec"
	"github.com/ansible-toolbox/at/internal/engine"
)

// configError marks a problem with config.toml contents or the
// environment-provided settings.
type configError struct {
	err error
}

func (e *configError) Error() string { return "config: " + e.err.Error() }

func (e *configError) Unwrap() error { return e.err }

// inputs is everything the pipeline needs besides the parsed flags.
type inputs struct {
	host    containerspec.HostContext
	runtime string
	build   buildspec.BuildSpec
	volumes []containerspec.Mount
	env     []containerspec.EnvVar
}

// loadInputs merges config.toml (global, then the project matching the
// working directory) with the command-line flags. Config entries come first
// so that command-line values win.
func (r *runner) loadInputs() (inputs, error) {
	host, err := detectHost()
	if err != nil {
		return inputs{}, &engine.ExecutionError{Op: "inspect host", Err: err}
	}

	cfg, err := configstore.Load()
	if err != nil {
		return inputs{}, &configError{err: err}
	}
	resolved, err := cfg.Resolve(host.Cwd)
	if err != nil {
		return inputs{}, &configError{err: err}
	}

	in := inputs{host: host, runtime: resolved.Runtime}
	if override := strings.ToLower(strings.TrimSpace(os.Getenv(envRuntime))); override != "" {
		if !configstore.ValidRuntime(override) {
			return inputs{}, &configError{err: fmt.Errorf("%s=%q is not a supported runtime (want docker or podman)", envRuntime, override)}
		}
		in.runtime = override
	}

	packages := append(append([]string(nil), resolved.Packages...), r.inv.Options.Packages...)
	in.build, err = buildspec.New(packages)
	if err != nil {
		return inputs{}, &configError{err: fmt.Errorf("packages: %w", err)}
	}

	for _, raw := range resolved.Volumes {
		m, err := containerspec.ParseMount(raw)
		if err != nil {
			return inputs{}, &configError{err: err}
		}
		in.volumes = append(in.volumes, m)
	}
	if err := containerspec.CheckTargets(in.volumes); err != nil {
		return inputs{}, &configError{err: err}
	}

	merged := configstore.MergeEnvLayers(
		configstore.LayerFromValues(resolved.Env, configstore.ScopeGlobal),
		configstore.LayerFromValues(resolved.Env, configstore.ScopeProject),
	)
	for _, spec := range merged {
		key, value, _ := strings.Cut(spec, "=")
		in.env = append(in.env, containerspec.EnvVar{Key: key, Value: value})
	}

	r.logger.Debug("resolved configuration",
		"runtime", in.runtime,
		"config_packages", len(resolved.Packages),
		"config_volumes", len(in.volumes),
		"config_env", len(in.env),
		"selinux", host.SELinux,
	)
	return in, nil
}
