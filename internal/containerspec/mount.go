package containerspec

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Mount is one bind mount of a host path into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
	// Relabel requests the shared SELinux label ("z").
	Relabel bool
	// ExplicitMode is set when the user spelled out a mode; such mounts are
	// never relabeled implicitly.
	ExplicitMode bool
}

// String renders the mount in the runtime's -v syntax.
func (m Mount) String() string {
	var opts []string
	if m.ReadOnly {
		opts = append(opts, "ro")
	} else if m.ExplicitMode && !m.Relabel {
		opts = append(opts, "rw")
	}
	if m.Relabel {
		opts = append(opts, "z")
	}
	if len(opts) == 0 {
		return m.Host + ":" + m.Container
	}
	return m.Host + ":" + m.Container + ":" + strings.Join(opts, ",")
}

// reservedTargets are the container paths owned by the fixed mounts.
var reservedTargets = []string{
	WorkspaceDir,
	"/etc/passwd",
	"/etc/group",
	"/tmp",
	"/var/tmp",
}

// IsReservedTarget reports whether a container path is claimed by one of the
// mandatory mounts.
func IsReservedTarget(container string) bool {
	clean := path.Clean(container)
	for _, reserved := range reservedTargets {
		if clean == reserved {
			return true
		}
	}
	return false
}

// ParseMount parses HOST_PATH:CONTAINER_PATH[:MODE] where MODE is one of
// ro, rw, z, "ro,z" or "rw,z". The host path may be relative or start with
// "~"; it is resolved when the spec is built.
func ParseMount(spec string) (Mount, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return Mount{}, fmt.Errorf("volume specification cannot be empty")
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) < 2 {
		return Mount{}, fmt.Errorf("invalid volume %q; expected HOST_PATH:CONTAINER_PATH[:MODE]", spec)
	}
	if len(parts) > 3 {
		return Mount{}, fmt.Errorf("invalid volume %q; too many ':' separators", spec)
	}

	host := strings.TrimSpace(parts[0])
	container := strings.TrimSpace(parts[1])
	if host == "" {
		return Mount{}, fmt.Errorf("invalid volume %q; host path is empty", spec)
	}
	if container == "" {
		return Mount{}, fmt.Errorf("invalid volume %q; container path is empty", spec)
	}
	if !strings.HasPrefix(container, "/") {
		return Mount{}, fmt.Errorf("invalid volume %q; container path must be absolute", spec)
	}
	container = path.Clean(container)
	if IsReservedTarget(container) {
		return Mount{}, fmt.Errorf("invalid volume %q; %s is managed by the toolbox and cannot be replaced", spec, container)
	}

	m := Mount{Host: host, Container: container}
	if len(parts) == 3 {
		if err := m.setMode(strings.TrimSpace(parts[2])); err != nil {
			return Mount{}, fmt.Errorf("invalid volume %q; %w", spec, err)
		}
	}
	return m, nil
}

func (m *Mount) setMode(mode string) error {
	m.ExplicitMode = true
	switch mode {
	case "ro":
		m.ReadOnly = true
	case "rw":
	case "z", "rw,z":
		m.Relabel = true
	case "ro,z":
		m.ReadOnly = true
		m.Relabel = true
	case "":
		return fmt.Errorf("mode is empty")
	default:
		return fmt.Errorf("unsupported mode %q (want ro, rw, z, ro,z or rw,z)", mode)
	}
	return nil
}

// resolveHost turns a relative or "~" host path into an absolute one.
func resolveHost(raw string, host HostContext) string {
	switch {
	case raw == "~":
		return filepath.Clean(host.Home)
	case strings.HasPrefix(raw, "~/"):
		return filepath.Join(host.Home, raw[2:])
	case filepath.IsAbs(raw):
		return filepath.Clean(raw)
	default:
		return filepath.Join(host.Cwd, raw)
	}
}
