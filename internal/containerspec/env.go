package containerspec

import (
	"fmt"
	"strings"

	"github.com/ansible-toolbox/at/internal/configstore"
)

// EnvVar is one environment entry passed to the container.
type EnvVar struct {
	Key   string
	Value string
}

func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// ParseEnv parses KEY=VALUE. Exactly one '=' is allowed and KEY must be a
// non-empty name without whitespace.
func ParseEnv(spec string) (EnvVar, error) {
	if n := strings.Count(spec, "="); n != 1 {
		if n == 0 {
			return EnvVar{}, fmt.Errorf("invalid environment variable %q; expected KEY=VALUE", spec)
		}
		return EnvVar{}, fmt.Errorf("invalid environment variable %q; value must not contain '='", spec)
	}
	key, value, _ := strings.Cut(spec, "=")
	if err := configstore.ValidateEnvKey(key); err != nil {
		return EnvVar{}, fmt.Errorf("invalid environment variable %q; %w", spec, err)
	}
	return EnvVar{Key: key, Value: value}, nil
}

func envSpecs(vars []EnvVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}
