package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cix-16/opencti/pkg/utils"
)

func TestTTLStore_ExpiresOnSimulatedClock(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewTTLStore(clock, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ws-1", "u1", []byte(`{"focusOn":"name"}`), time.Minute))

	v, ok, err := store.Get(ctx, "ws-1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"focusOn":"name"}`, string(v))

	clock.Advance(59 * time.Second)
	_, ok, _ = store.Get(ctx, "ws-1", "u1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = store.Get(ctx, "ws-1", "u1")
	assert.False(t, ok)

	values, err := store.List(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, values)

	assert.Equal(t, 1, store.Len())
	store.Sweep()
	assert.Equal(t, 0, store.Len())
}

func TestTTLStore_SetIsIdempotentUpsert(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewTTLStore(clock, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ws-1", "u1", []byte("a"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, store.Set(ctx, "ws-1", "u1", []byte("b"), time.Minute))
	clock.Advance(50 * time.Second)

	v, ok, err := store.Get(ctx, "ws-1", "u1")
	require.NoError(t, err)
	require.True(t, ok, "upsert refreshes the ttl")
	assert.Equal(t, "b", string(v))
	assert.Equal(t, 1, store.Len())
}

func TestTTLStore_ListAndDelete(t *testing.T) {
	store := NewTTLStore(nil, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ws-1", "u2", []byte("two"), time.Minute))
	require.NoError(t, store.Set(ctx, "ws-1", "u1", []byte("one"), time.Minute))
	require.NoError(t, store.Set(ctx, "ws-2", "u1", []byte("other"), time.Minute))

	values, err := store.List(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "one", string(values[0]))
	assert.Equal(t, "two", string(values[1]))

	require.NoError(t, store.Delete(ctx, "ws-1", "u1"))
	require.NoError(t, store.Delete(ctx, "ws-1", "missing"))

	values, _ = store.List(ctx, "ws-1")
	assert.Len(t, values, 1)
	_, ok, _ := store.Get(ctx, "ws-2", "u1")
	assert.True(t, ok)
}

func TestTTLStore_ReturnsCopies(t *testing.T) {
	store := NewTTLStore(nil, 0)
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, store.Set(ctx, "p", "k", buf, time.Minute))
	buf[0] = 'x'

	v, _, _ := store.Get(ctx, "p", "k")
	v[1] = 'y'
	again, _, _ := store.Get(ctx, "p", "k")
	assert.Equal(t, "abc", string(again))
}

func TestTTLStore_JanitorStops(t *testing.T) {
	store := NewTTLStore(nil, time.Millisecond)
	require.NoError(t, store.Set(context.Background(), "p", "k", []byte("v"), time.Millisecond))

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
