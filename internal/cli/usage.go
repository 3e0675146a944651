package cli

import "fmt"

// Usage renders the help text shown for --at-help.
func Usage(cmdName string) string {
	return fmt.Sprintf(`Usage: %s [toolbox flags] COMMAND [args...]

Run an Ansible command inside an ephemeral, hardened container. The image is
built on first use from Alpine with Ansible and the requested Python packages,
and reused for as long as the package set stays the same.

Toolbox flags must come before COMMAND. Everything from COMMAND on is passed to
the container unchanged, including flags that look like toolbox flags.

Flags:
  --at-help                       Show this help and exit.
  --at-version                    Print the version and exit.
  --at-i                          Run interactively with a TTY (vault prompts, pause tasks).
  --at-add-py-package <name>      Install an extra Python package in the image (repeatable).
  --at-volume <host:container[:mode]>
                                  Bind mount a host path (repeatable). mode is one of
                                  ro, rw, z, ro,z or rw,z; the default is rw.
  --at-env <KEY=VALUE>            Set an environment variable in the container (repeatable).
  --at-verbose                    Enable debug logging.

Environment variables:
  ANSIBLE_TOOLBOX_HOME            Config directory (defaults to $XDG_CONFIG_HOME/ansible-toolbox).
  ANSIBLE_TOOLBOX_CACHE_DIR       Image cache directory (defaults to $XDG_CACHE_HOME/ansible-toolbox).
  ANSIBLE_TOOLBOX_RUNTIME         Container runtime, docker or podman.
  ANSIBLE_TOOLBOX_VERBOSE         Same as --at-verbose when set to 1.
  ANSIBLE_TOOLBOX_TRACE           Print build and run spans and cache counters on exit.

Global and per-project defaults for packages, volumes and environment live in
config.toml inside the config directory.

Exit status is the command's own exit status. The toolbox itself exits 64 for
bad arguments, 78 for a bad config file, 70 when the image build fails and 69
when the container cannot be started.`, cmdName)
}
