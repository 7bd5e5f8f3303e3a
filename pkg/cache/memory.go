package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process local cache. Entries expire after ttl; a zero ttl keeps
// them until removed.
type Memory[V any] struct {
	store *gocache.Cache
}

func NewMemory[V any](ttl time.Duration) *Memory[V] {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)

	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}

	return &Memory[V]{store: gocache.New(expiration, cleanup)}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	v, ok := m.store.Get(key)
	if !ok {
		return zero, false, nil
	}

	value, ok := v.(V)
	if !ok {
		return zero, false, nil
	}

	return value, true, nil
}

func (m *Memory[V]) Put(_ context.Context, key string, value V) error {
	m.store.SetDefault(key, value)

	return nil
}

func (m *Memory[V]) Remove(_ context.Context, key string) error {
	m.store.Delete(key)

	return nil
}

func (m *Memory[V]) Contains(_ context.Context, key string) (bool, error) {
	_, ok := m.store.Get(key)

	return ok, nil
}

func (m *Memory[V]) Keys(_ context.Context) ([]string, error) {
	items := m.store.Items()

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	return keys, nil
}

func (m *Memory[V]) Clear(_ context.Context) error {
	m.store.Flush()

	return nil
}

func (m *Memory[V]) Len() int {
	return m.store.ItemCount()
}
