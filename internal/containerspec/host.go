package containerspec

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// HostContext is what the container spec needs to know about the invoking
// user and machine.
type HostContext struct {
	UID     int
	GID     int
	User    string
	Home    string
	Cwd     string
	Term    string
	SELinux bool
}

// selinuxEnforcePath exists only on hosts with SELinux enabled.
var selinuxEnforcePath = "/sys/fs/selinux/enforce"

// DetectHost collects the host context for the current process.
func DetectHost() (HostContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return HostContext{}, fmt.Errorf("determine working directory: %w", err)
	}
	host := HostContext{
		UID:  os.Getuid(),
		GID:  os.Getgid(),
		Cwd:  cwd,
		Term: os.Getenv("TERM"),
	}
	if u, err := user.Current(); err == nil {
		host.User = u.Username
		host.Home = u.HomeDir
	}
	if host.User == "" {
		host.User = os.Getenv("USER")
	}
	if host.User == "" {
		host.User = strconv.Itoa(host.UID)
	}
	if home := strings.TrimSpace(os.Getenv("HOME")); home != "" {
		host.Home = home
	}
	if host.Home == "" {
		return HostContext{}, fmt.Errorf("unable to determine home directory for %s", host.User)
	}
	host.SELinux = selinuxEnabled()
	return host, nil
}

func selinuxEnabled() bool {
	_, err := os.Stat(selinuxEnforcePath)
	return err == nil
}

// NormalizeTerm maps TERM values that Alpine's terminfo database does not
// ship (e.g. xterm-ghostty) to xterm-256color. An empty TERM gets the same
// fallback.
func NormalizeTerm(term string) string {
	const fallback = "xterm-256color"

	term = strings.TrimSpace(term)
	if term == "" {
		return fallback
	}
	lower := strings.ToLower(term)
	for _, unknown := range unsupportedTerms {
		if lower == unknown {
			return fallback
		}
	}
	return term
}

var unsupportedTerms = []string{
	"xterm-ghostty",
	"xterm-kitty",
	"wezterm",
	"alacritty",
}
