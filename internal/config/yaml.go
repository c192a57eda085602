package config

import (
	"fmt"

	"github.com/knadh/koanf/v2"
	yaml "go.yaml.in/yaml/v3"
)

// yamlParser is a koanf.Parser for YAML config files.
type yamlParser struct{}

func YAMLParser() koanf.Parser { return &yamlParser{} }

func (p *yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := normalizeYAML(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("yaml config must be a mapping, got %T", v)
	}
	return m, nil
}

func (p *yamlParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}

// normalizeYAML ensures all map keys are strings so koanf can flatten them.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
