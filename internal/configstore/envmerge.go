package configstore

import (
	"errors"
	"sort"
	"strings"
)

// EnvLayer represents a single precedence layer of KEY=VALUE specifications.
// Later layers override earlier ones when the same key occurs multiple times.
type EnvLayer struct {
	Specs map[string]string
	Order []string
}

// LayerFromSpecs builds a layer from KEY=VALUE strings. Within the layer a
// repeated key keeps its first position but takes its last value.
func LayerFromSpecs(specs []string) EnvLayer {
	if len(specs) == 0 {
		return EnvLayer{}
	}
	layer := EnvLayer{
		Specs: make(map[string]string, len(specs)),
		Order: make([]string, 0, len(specs)),
	}
	for _, spec := range specs {
		key := EnvSpecKey(spec)
		if key == "" {
			continue
		}
		if _, seen := layer.Specs[key]; !seen {
			layer.Order = append(layer.Order, key)
		}
		layer.Specs[key] = spec
	}
	return layer
}

// LayerFromValues builds a layer from resolved config values, ordered by key.
// Only entries whose scope matches are included.
func LayerFromValues(values map[string]EnvVarValue, scope DecisionScope) EnvLayer {
	specs := make(map[string]string)
	for rawKey, entry := range values {
		key := trimKey(rawKey)
		if key == "" || entry.Scope != scope {
			continue
		}
		specs[key] = key + "=" + entry.Value
	}
	if len(specs) == 0 {
		return EnvLayer{}
	}
	order := make([]string, 0, len(specs))
	for key := range specs {
		order = append(order, key)
	}
	sort.Strings(order)
	return EnvLayer{Specs: specs, Order: order}
}

// ValidateEnvKey reports whether key can name a container environment
// variable. The command line and config.toml share this check.
func ValidateEnvKey(key string) error {
	switch {
	case key == "":
		return errors.New("name is required")
	case strings.ContainsAny(key, " \t\r\n"):
		return errors.New("name must not contain whitespace")
	case strings.Contains(key, "="):
		return errors.New("name must not contain '='")
	}
	return nil
}

// EnvSpecKey returns the variable name of a KEY=VALUE specification.
func EnvSpecKey(spec string) string {
	key, _, _ := strings.Cut(strings.TrimSpace(spec), "=")
	return trimKey(key)
}

func (l EnvLayer) normalizedOrder() []string {
	if len(l.Specs) == 0 {
		return nil
	}
	order := make([]string, 0, len(l.Order)+len(l.Specs))
	seen := make(map[string]struct{})

	for _, key := range l.Order {
		key = trimKey(key)
		if key == "" {
			continue
		}
		if _, ok := l.Specs[key]; !ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		order = append(order, key)
		seen[key] = struct{}{}
	}

	if len(order) != len(l.Specs) {
		remaining := make([]string, 0, len(l.Specs))
		for key := range l.Specs {
			key = trimKey(key)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			remaining = append(remaining, key)
			seen[key] = struct{}{}
		}
		sort.Strings(remaining)
		order = append(order, remaining...)
	}

	return order
}

func trimKey(key string) string {
	return strings.TrimSpace(key)
}

// MergeEnvLayers applies precedence across multiple EnvLayer values, returning
// one specification per key in deterministic order. Later layers win ties and
// an overridden key moves to the position of the layer that won.
func MergeEnvLayers(layers ...EnvLayer) []string {
	if len(layers) == 0 {
		return nil
	}

	orderPerLayer := make([][]string, len(layers))
	finalStage := make(map[string]int)

	for i, layer := range layers {
		order := layer.normalizedOrder()
		orderPerLayer[i] = order
		for _, key := range order {
			finalStage[key] = i
		}
	}

	result := make([]string, 0, len(finalStage))
	emitted := make(map[string]struct{})

	for i, order := range orderPerLayer {
		layer := layers[i]
		for _, key := range order {
			if finalStage[key] != i {
				continue
			}
			if _, already := emitted[key]; already {
				continue
			}
			result = append(result, layer.Specs[key])
			emitted[key] = struct{}{}
		}
	}

	return result
}
