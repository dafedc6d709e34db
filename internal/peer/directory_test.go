package peer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

func TestDirectory_LookupsAndUpdate(t *testing.T) {
	d := NewDirectory()
	d.PutRestaurant(domain.Restaurant{ID: "rest-1"})
	d.PutTable(domain.Table{ID: "table-1"})
	ctx := context.Background()

	_, err := d.GetRestaurant(ctx, "rest-1")
	require.NoError(t, err)
	_, err = d.GetRestaurant(ctx, "rest-2")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	table, err := d.GetTable(ctx, "table-1")
	require.NoError(t, err)
	require.NoError(t, d.UpdateTable(ctx, table.WithOrder("order-1")))

	stored, ok := d.Table("table-1")
	require.True(t, ok)
	assert.Equal(t, []string{"order-1"}, stored.Orders)
	assert.Equal(t, 1, d.UpdateCalls())

	assert.ErrorIs(t, d.UpdateTable(ctx, domain.Table{ID: "missing"}), domain.ErrPeerNotFound)
}

func TestDirectory_InjectedErrors(t *testing.T) {
	d := NewDirectory()
	d.PutTable(domain.Table{ID: "table-1"})
	boom := errors.New("boom")
	d.SetUpdateTableErr(boom)

	assert.ErrorIs(t, d.UpdateTable(context.Background(), domain.Table{ID: "table-1"}), boom)
	assert.Equal(t, 1, d.UpdateCalls())
}
