package models

import (
	"context"
	"slices"
)

// ActionChain is the set of action ids currently executing on one logical
// call path. The zero value is an absent chain, which is distinct from a
// present chain with no members.
type ActionChain struct {
	ids     map[string]struct{}
	present bool
}

func NewActionChain(ids ...string) ActionChain {
	c := ActionChain{ids: make(map[string]struct{}, len(ids)), present: true}
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}

	return c
}

func (c ActionChain) Present() bool {
	return c.present
}

func (c ActionChain) Contains(id string) bool {
	_, ok := c.ids[id]

	return ok
}

func (c ActionChain) Len() int {
	return len(c.ids)
}

// With returns a present chain holding the receiver's ids plus id. The
// receiver is left untouched.
func (c ActionChain) With(id string) ActionChain {
	out := ActionChain{ids: make(map[string]struct{}, len(c.ids)+1), present: true}
	for k := range c.ids {
		out.ids[k] = struct{}{}
	}

	out.ids[id] = struct{}{}

	return out
}

func (c ActionChain) IDs() []string {
	ids := make([]string, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

type actionChainKey struct{}

func WithActionChain(ctx context.Context, chain ActionChain) context.Context {
	return context.WithValue(ctx, actionChainKey{}, chain)
}

// ActionChainFromContext returns the chain bound to ctx, or an absent chain.
func ActionChainFromContext(ctx context.Context) ActionChain {
	chain, _ := ctx.Value(actionChainKey{}).(ActionChain)

	return chain
}
