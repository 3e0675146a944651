package runner

import (
	"fmt"
	"strings"
)

var (
	productVersion = "dev"
	buildCommit    = "unknown"
	buildDate      = "unknown"
)

// SetVersion records the build metadata printed by --at-version. Blank
// values keep the defaults.
func SetVersion(version, commit, date string) {
	if v := strings.TrimSpace(version); v != "" {
		productVersion = v
	}
	if c := strings.TrimSpace(commit); c != "" {
		buildCommit = c
	}
	if d := strings.TrimSpace(date); d != "" {
		buildDate = d
	}
}

func versionTag() string {
	v := strings.TrimSpace(productVersion)
	if v == "" || v == "dev" {
		return "dev"
	}
	if strings.HasPrefix(strings.ToLower(v), "v") {
		return v
	}
	return "v" + v
}

func versionString(cmdName string) string {
	shortHash := buildCommit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	return fmt.Sprintf("%s %s (git %s, built %s)", cmdName, versionTag(), shortHash, buildDate)
}
