package storefront

import (
	"context"
	"errors"
	"testing"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart(t *testing.T) {
	ctx := context.Background()
	kv := syncache.NewFileKV(t.TempDir())
	cart := NewCart(kv)
	require.NoError(t, cart.Load(ctx))

	cola, lemonade, water := testProducts[0], testProducts[1], testProducts[2]

	require.NoError(t, cart.Add(ctx, cola, 2))
	require.NoError(t, cart.Add(ctx, lemonade, 1))
	assert.True(t, errors.Is(cart.Add(ctx, cola, 2), errdefs.ErrStockExhausted))
	assert.True(t, errors.Is(cart.Add(ctx, water, 1), errdefs.ErrStockExhausted))
	assert.True(t, errdefs.IsValidation(cart.Add(ctx, cola, 0)))

	assert.Equal(t, 3, cart.Count())
	assert.InDelta(t, 8.0, cart.Total(), 1e-9)

	require.NoError(t, cart.UpdateQuantity(ctx, lemonade.ID, 50))
	assert.Equal(t, 10, cart.Items()[1].Quantity)

	require.NoError(t, cart.UpdateQuantity(ctx, cola.ID, 0))
	assert.Len(t, cart.Items(), 1)
	assert.True(t, errdefs.IsNotFound(cart.UpdateQuantity(ctx, cola.ID, 1)))

	restored := NewCart(kv)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, cart.Items(), restored.Items())

	require.NoError(t, restored.Remove(ctx, lemonade.ID))
	require.NoError(t, restored.Remove(ctx, lemonade.ID))
	assert.Zero(t, restored.Count())

	require.NoError(t, cart.Clear(ctx))
	require.NoError(t, restored.Load(ctx))
	assert.Empty(t, restored.Items())
}
