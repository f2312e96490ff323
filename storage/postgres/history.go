package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/storage"
)

const historyColumns = `id, sender, fee_payer, raw_tx, tx_hash, status, metadata, error_message, created_at, updated_at`

func (p *PostgresBackend) CreateTransactionHistory(ctx context.Context, tx types.TransactionHistory) (uuid.UUID, error) {
	if p.pool == nil {
		return uuid.Nil, fmt.Errorf("database pool is nil")
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = types.StatusPending
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]interface{}{}
	}

	query := `
		INSERT INTO fee_payer_transactions (id, sender, fee_payer, raw_tx, status, metadata)
		VALUES (@id, @sender, @fee_payer, @raw_tx, @status, @metadata)`
	_, err := p.pool.Exec(ctx, query, pgx.NamedArgs{
		"id":        tx.ID,
		"sender":    tx.Sender,
		"fee_payer": tx.FeePayer,
		"raw_tx":    tx.RawTx,
		"status":    tx.Status,
		"metadata":  tx.Metadata,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("fail to insert transaction history, err: %w", err)
	}
	logrus.WithFields(logrus.Fields{"id": tx.ID, "sender": tx.Sender}).Info("transaction history created")
	return tx.ID, nil
}

func (p *PostgresBackend) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, update types.StatusUpdate) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	query := `
		UPDATE fee_payer_transactions
		SET status = @status,
			tx_hash = COALESCE(@tx_hash, tx_hash),
			error_message = @error_message,
			metadata = metadata || @metadata,
			updated_at = @updated_at
		WHERE id = @id`
	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	tag, err := p.pool.Exec(ctx, query, pgx.NamedArgs{
		"id":            id,
		"status":        update.Status,
		"tx_hash":       update.TxHash,
		"error_message": update.ErrorMessage,
		"metadata":      metadata,
		"updated_at":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("fail to update transaction status, err: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) GetTransactionHistory(ctx context.Context, id uuid.UUID) (*types.TransactionHistory, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	rows, err := p.pool.Query(ctx, `SELECT `+historyColumns+` FROM fee_payer_transactions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	history, err := pgx.CollectOneRow(rows, scanHistory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &history, nil
}

func (p *PostgresBackend) GetTransactionHistoryBySender(ctx context.Context, sender string, take, skip int) ([]types.TransactionHistory, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT ` + historyColumns + ` FROM fee_payer_transactions
		WHERE sender = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := p.pool.Query(ctx, query, sender, take, skip)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanHistory)
}

func scanHistory(row pgx.CollectableRow) (types.TransactionHistory, error) {
	var h types.TransactionHistory
	var status string
	err := row.Scan(
		&h.ID,
		&h.Sender,
		&h.FeePayer,
		&h.RawTx,
		&h.TxHash,
		&status,
		&h.Metadata,
		&h.ErrorMessage,
		&h.CreatedAt,
		&h.UpdatedAt)
	h.Status = types.TransactionStatus(status)
	return h, err
}
