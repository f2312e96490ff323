package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/vultisig/sharekeeper/internal/types"
)

// HistoryStore records fee payer co-signing requests and their outcome.
type HistoryStore interface {
	Close() error

	CreateTransactionHistory(ctx context.Context, tx types.TransactionHistory) (uuid.UUID, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, update types.StatusUpdate) error
	GetTransactionHistory(ctx context.Context, id uuid.UUID) (*types.TransactionHistory, error)
	GetTransactionHistoryBySender(ctx context.Context, sender string, take, skip int) ([]types.TransactionHistory, error)
}
