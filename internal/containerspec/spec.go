// Package containerspec assembles the hardened container definition for one
// toolbox run and serializes it into runtime arguments.
package containerspec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ansible-toolbox/at/internal/configstore"
)

const (
	// WorkspaceDir is where the invoking directory is mounted.
	WorkspaceDir = "/workspace"

	// NamePrefix starts every container name.
	NamePrefix = "ansible-toolbox-"

	entryShell  = "/bin/sh"
	entryScript = `cd ` + WorkspaceDir + ` && exec "$@"`
	// entryArgv0 becomes $0 of the entry script; the command follows as $@.
	entryArgv0 = "at"
)

var (
	droppedCapabilities = []string{"NET_BIND_SERVICE", "SETUID", "SETGID"}
	securityOptions     = []string{"no-new-privileges"}
)

// Options are the per-invocation inputs to Build. Config-file entries come
// before command-line entries in both slices of each pair.
type Options struct {
	Image       string
	Interactive bool
	// Name overrides the generated container name.
	Name string

	ConfigVolumes []Mount
	Volumes       []Mount
	ConfigEnv     []EnvVar
	Env           []EnvVar
}

// Spec is a complete container definition. The hardening settings and the
// mandatory mounts cannot be removed through its API; user input only adds
// mounts and environment entries.
type Spec struct {
	name        string
	image       string
	interactive bool
	uid, gid    int
	mounts      []Mount
	env         []EnvVar
}

// Build assembles the spec for host and opts.
func Build(host HostContext, opts Options) (Spec, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return Spec{}, fmt.Errorf("container image is required")
	}
	if strings.TrimSpace(host.Cwd) == "" {
		return Spec{}, fmt.Errorf("working directory is required")
	}
	name := opts.Name
	if name == "" {
		name = NewName()
	}

	s := Spec{
		name:        name,
		image:       opts.Image,
		interactive: opts.Interactive,
		uid:         host.UID,
		gid:         host.GID,
	}

	for _, m := range fixedMounts(host.Cwd) {
		m.Relabel = host.SELinux
		s.mounts = append(s.mounts, m)
	}
	cliTargets := make(map[string]struct{}, len(opts.Volumes))
	for _, m := range opts.Volumes {
		cliTargets[m.Container] = struct{}{}
	}
	for i, group := range [][]Mount{opts.ConfigVolumes, opts.Volumes} {
		if err := CheckTargets(group); err != nil {
			return Spec{}, err
		}
		seen := make(map[Mount]struct{}, len(group))
		for _, m := range group {
			if IsReservedTarget(m.Container) {
				return Spec{}, fmt.Errorf("volume %s targets reserved path %s", m.Host, m.Container)
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			// A command-line volume replaces a config volume on the same target.
			if _, replaced := cliTargets[m.Container]; replaced && i == 0 {
				continue
			}
			m.Host = resolveHost(m.Host, host)
			if host.SELinux && !m.ExplicitMode {
				m.Relabel = true
			}
			s.mounts = append(s.mounts, m)
		}
	}

	merged := configstore.MergeEnvLayers(
		configstore.LayerFromSpecs(envSpecs(baselineEnv(host))),
		configstore.LayerFromSpecs(envSpecs(opts.ConfigEnv)),
		configstore.LayerFromSpecs(envSpecs(opts.Env)),
	)
	for _, spec := range merged {
		key, value, _ := strings.Cut(spec, "=")
		s.env = append(s.env, EnvVar{Key: key, Value: value})
	}
	return s, nil
}

// CheckTargets reports two mounts that bind different host paths or modes
// to the same container path. Identical repeats are allowed.
func CheckTargets(mounts []Mount) error {
	byTarget := make(map[string]Mount, len(mounts))
	for _, m := range mounts {
		prev, ok := byTarget[m.Container]
		if !ok {
			byTarget[m.Container] = m
			continue
		}
		if prev != m {
			return fmt.Errorf("volumes %s and %s both target %s", prev, m, m.Container)
		}
	}
	return nil
}

// NewName returns a fresh container name.
func NewName() string {
	return NamePrefix + uuid.NewString()[:8]
}

func fixedMounts(cwd string) []Mount {
	return []Mount{
		{Host: "/etc/passwd", Container: "/etc/passwd", ReadOnly: true},
		{Host: "/etc/group", Container: "/etc/group", ReadOnly: true},
		{Host: "/tmp", Container: "/tmp"},
		{Host: "/var/tmp", Container: "/var/tmp"},
		{Host: cwd, Container: WorkspaceDir, ReadOnly: true},
	}
}

func baselineEnv(host HostContext) []EnvVar {
	ansibleTmp := "/tmp/.ansible-" + host.User
	return []EnvVar{
		{Key: "HOME", Value: "/tmp"},
		{Key: "TERM", Value: NormalizeTerm(host.Term)},
		{Key: "ANSIBLE_LOCAL_TEMP", Value: ansibleTmp + "/tmp"},
		{Key: "ANSIBLE_REMOTE_TEMP", Value: ansibleTmp + "/remote"},
		{Key: "ANSIBLE_STDOUT_CALLBACK", Value: "debug"},
		{Key: "ANSIBLE_CONFIG", Value: WorkspaceDir + "/ansible.cfg"},
		{Key: "ANSIBLE_FORCE_COLOR", Value: "1"},
	}
}

func (s Spec) Name() string      { return s.name }
func (s Spec) Image() string     { return s.image }
func (s Spec) Interactive() bool { return s.interactive }

// User is the uid:gid the container runs as.
func (s Spec) User() string {
	return strconv.Itoa(s.uid) + ":" + strconv.Itoa(s.gid)
}

// Mounts returns a copy of the mounts, mandatory ones first.
func (s Spec) Mounts() []Mount {
	return append([]Mount(nil), s.mounts...)
}

// Env returns a copy of the merged environment, one entry per key.
func (s Spec) Env() []EnvVar {
	return append([]EnvVar(nil), s.env...)
}

// Lookup returns the value of an environment entry.
func (s Spec) Lookup(key string) (string, bool) {
	for _, e := range s.env {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Args renders the runtime argument vector that runs command in the
// container. command is handed to the entry script as positional
// parameters, so it reaches the container process unmodified.
func (s Spec) Args(command []string) []string {
	args := []string{"run", "--rm", "--name", s.name}
	if s.interactive {
		args = append(args, "-it")
	}
	args = append(args, "--network", "host", "--user", s.User())
	for _, capability := range droppedCapabilities {
		args = append(args, "--cap-drop", capability)
	}
	for _, opt := range securityOptions {
		args = append(args, "--security-opt", opt)
	}
	for _, m := range s.mounts {
		args = append(args, "-v", m.String())
	}
	for _, e := range s.env {
		args = append(args, "-e", e.String())
	}
	args = append(args, "-w", WorkspaceDir, s.image, entryShell, "-c", entryScript, entryArgv0)
	return append(args, command...)
}
