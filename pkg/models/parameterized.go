package models

import (
	"maps"

	"github.com/tiendc/go-deepcopy"
)

// ParameterizedItem is the identity and parameter bag shared by actions and conditions.
type ParameterizedItem struct {
	id     string
	params map[string]any
}

func newParameterizedItem(id string) ParameterizedItem {
	return ParameterizedItem{id: id, params: make(map[string]any)}
}

func (p *ParameterizedItem) ID() string {
	return p.id
}

// ParameterValue returns nil for parameters that were never set.
func (p *ParameterizedItem) ParameterValue(name string) any {
	return p.params[name]
}

func (p *ParameterizedItem) SetParameterValue(name string, value any) {
	if p.params == nil {
		p.params = make(map[string]any)
	}

	p.params[name] = value
}

// ParameterValues returns a shallow copy of the parameter bag.
func (p *ParameterizedItem) ParameterValues() map[string]any {
	return maps.Clone(p.params)
}

// SetParameterValues replaces every parameter with the given values.
func (p *ParameterizedItem) SetParameterValues(values map[string]any) {
	p.params = make(map[string]any, len(values))
	maps.Copy(p.params, values)
}

func (p *ParameterizedItem) copyParameters() map[string]any {
	out := make(map[string]any, len(p.params))
	for k, v := range p.params {
		out[k] = copyParameterValue(v)
	}

	return out
}

// copyParameterValue deep copies container values. Scalars, times and node
// references are immutable values and are shared.
func copyParameterValue(v any) any {
	switch src := v.(type) {
	case []any:
		var dst []any
		if err := deepcopy.Copy(&dst, &src); err == nil {
			return dst
		}
	case []string:
		var dst []string
		if err := deepcopy.Copy(&dst, &src); err == nil {
			return dst
		}
	case map[string]any:
		var dst map[string]any
		if err := deepcopy.Copy(&dst, &src); err == nil {
			return dst
		}
	}

	return v
}
