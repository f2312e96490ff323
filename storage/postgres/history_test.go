package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/storage"
)

var _ storage.HistoryStore = (*PostgresBackend)(nil)

func newTestBackend(t *testing.T) *PostgresBackend {
	dsn := os.Getenv("SHAREKEEPER_TEST_DSN")
	if dsn == "" {
		t.Skip("SHAREKEEPER_TEST_DSN not set")
	}
	backend, err := NewPostgresBackend(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestTransactionHistory(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	sender := "0x" + uuid.NewString()[:8]

	id, err := backend.CreateTransactionHistory(ctx, types.TransactionHistory{
		Sender:   sender,
		FeePayer: "0x00000000000000000000000000000000000000fe",
		RawTx:    "0x16c0",
		Metadata: map[string]interface{}{"source": "test"},
	})
	require.NoError(t, err)

	got, err := backend.GetTransactionHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Nil(t, got.TxHash)

	hash := "0xabc"
	require.NoError(t, backend.UpdateTransactionStatus(ctx, id, types.StatusUpdate{
		Status:   types.StatusBroadcast,
		TxHash:   &hash,
		Metadata: map[string]interface{}{"node": "local"},
	}))
	got, err = backend.GetTransactionHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroadcast, got.Status)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, hash, *got.TxHash)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, "local", got.Metadata["node"])

	list, err := backend.GetTransactionHistoryBySender(ctx, sender, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestTransactionHistoryNotFound(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.GetTransactionHistory(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = backend.UpdateTransactionStatus(ctx, uuid.New(), types.StatusUpdate{Status: types.StatusSigned})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
