package cache

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func exerciseCache(t *testing.T, c Cache[entry]) {
	t.Helper()

	ctx := t.Context()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "a", entry{Name: "a", Count: 1}))
	require.NoError(t, c.Put(ctx, "b", entry{Name: "b", Count: 2}))

	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entry{Name: "a", Count: 1}, got)

	exists, err := c.Contains(ctx, "b")
	require.NoError(t, err)
	assert.True(t, exists)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, c.Remove(ctx, "a"))
	exists, err = c.Contains(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Remove(ctx, "never-there"))

	require.NoError(t, c.Clear(ctx))
	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemory(t *testing.T) {
	c := NewMemory[entry](0)
	exerciseCache(t, c)
	assert.Equal(t, 0, c.Len())
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory[entry](20 * time.Millisecond)

	require.NoError(t, c.Put(t.Context(), "a", entry{Name: "a"}))
	assert.Equal(t, 1, c.Len())

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(context.Background(), "a")

		return !ok
	}, time.Second, 10*time.Millisecond)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedis(t *testing.T) {
	client := setupRedis(t)

	c := NewRedis[entry](client, "actiond:test:", time.Minute)
	exerciseCache(t, c)

	// keys outside the prefix are not visible
	require.NoError(t, client.Set(t.Context(), "other", "x", 0).Err())
	keys, err := c.Keys(t.Context())
	require.NoError(t, err)
	assert.Empty(t, keys)
}
