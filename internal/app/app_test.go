package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-bookstore-orders/internal/config"
	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

func TestBuildWithoutRedisSkipsOrderCache(t *testing.T) {
	cfg := config.Config{
		ServiceName:   "bookstore-orders",
		StorageDriver: "sqlite",
		SQLitePath:    filepath.Join(t.TempDir(), "orders.db"),
	}
	d, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Nil(t, d.Redis)
	assert.Equal(t, orders.NopCache{}, d.Cache)
	assert.Equal(t, orders.NopCache{}, d.Payments.Cache)
	assert.IsType(t, orders.NopPublisher{}, d.Events)
}
