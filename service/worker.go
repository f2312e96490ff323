package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/contexthelper"
	"github.com/vultisig/sharekeeper/internal/tasks"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/storage"
)

// Broadcaster submits fully signed transactions.
type Broadcaster interface {
	Send(ctx context.Context, tx *txcodec.Transaction) (common.Hash, error)
}

type WorkerService struct {
	history     storage.HistoryStore
	builder     *txbuilder.Builder
	feePayerKey *ecdsa.PrivateKey
	broadcaster Broadcaster
	logger      *logrus.Entry
	sdClient    statsd.ClientInterface
}

// NewWorker creates a new worker service
func NewWorker(history storage.HistoryStore, builder *txbuilder.Builder, feePayerKey *ecdsa.PrivateKey, broadcaster Broadcaster, sdClient statsd.ClientInterface) (*WorkerService, error) {
	if addr := crypto.PubkeyToAddress(feePayerKey.PublicKey); addr != builder.FeePayer() {
		return nil, fmt.Errorf("%w: key is %s, builder fee payer is %s", txbuilder.ErrFeePayerMismatch, addr.Hex(), builder.FeePayer().Hex())
	}
	return &WorkerService{
		history:     history,
		builder:     builder,
		feePayerKey: feePayerKey,
		broadcaster: broadcaster,
		logger:      logrus.WithField("service", "worker"),
		sdClient:    sdClient,
	}, nil
}

type FeePayerSignTaskResult struct {
	TxHash string `json:"tx_hash"`
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}
func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// HandleFeePayerSign co-signs a sender-signed fee-delegated transaction as
// the fee payer and broadcasts it. Broadcast failures are retried.
func (s *WorkerService) HandleFeePayerSign(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.fee_payer.sign.latency", time.Now(), []string{})
	var req tasks.FeePayerSignPayload
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	logger := s.logger.WithField("history_id", req.HistoryID)
	s.incCounter("worker.fee_payer.sign", []string{})

	history, err := s.history.GetTransactionHistory(ctx, req.HistoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("transaction history not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("fail to load transaction history, err: %w", err)
	}
	if history.Status == types.StatusBroadcast {
		logger.Info("transaction already broadcast")
		return nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(req.RawTx, "0x"))
	if err != nil {
		s.fail(ctx, req, types.StatusRejected, err)
		return fmt.Errorf("invalid raw transaction: %v: %w", err, asynq.SkipRetry)
	}
	tx, err := txcodec.DecodeAs(raw, txcodec.SenderSigned)
	if err != nil {
		s.fail(ctx, req, types.StatusRejected, err)
		return fmt.Errorf("txcodec.DecodeAs failed: %v: %w", err, asynq.SkipRetry)
	}

	signed, err := s.builder.SignAsFeePayer(ctx, tx, s.feePayerKey)
	if err != nil {
		s.incCounter("worker.fee_payer.sign.error", []string{})
		s.fail(ctx, req, types.StatusSigningFailed, err)
		return fmt.Errorf("SignAsFeePayer failed: %v: %w", err, asynq.SkipRetry)
	}
	txHash, err := txcodec.TxHash(signed)
	if err != nil {
		s.fail(ctx, req, types.StatusSigningFailed, err)
		return fmt.Errorf("txcodec.TxHash failed: %v: %w", err, asynq.SkipRetry)
	}
	hashHex := txHash.Hex()
	if err := s.history.UpdateTransactionStatus(ctx, req.HistoryID, types.StatusUpdate{
		Status: types.StatusSigned,
		TxHash: &hashHex,
	}); err != nil {
		return fmt.Errorf("fail to update transaction status, err: %w", err)
	}

	sent, err := s.broadcaster.Send(ctx, signed)
	if err != nil {
		s.incCounter("worker.fee_payer.broadcast.error", []string{})
		logger.WithError(err).Error("fail to broadcast transaction")
		msg := err.Error()
		if uerr := s.history.UpdateTransactionStatus(ctx, req.HistoryID, types.StatusUpdate{
			Status:       types.StatusSigned,
			ErrorMessage: &msg,
		}); uerr != nil {
			logger.WithError(uerr).Error("fail to update transaction status")
		}
		return fmt.Errorf("fail to broadcast transaction, err: %w", err)
	}

	sentHex := sent.Hex()
	if err := s.history.UpdateTransactionStatus(ctx, req.HistoryID, types.StatusUpdate{
		Status: types.StatusBroadcast,
		TxHash: &sentHex,
	}); err != nil {
		logger.WithError(err).Error("fail to update transaction status")
	}
	logger.WithField("tx_hash", sentHex).Info("fee-delegated transaction broadcast")

	result, err := json.Marshal(FeePayerSignTaskResult{TxHash: sentHex})
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(result); err != nil {
			logger.Errorf("t.ResultWriter.Write failed: %v", err)
		}
	}
	return nil
}

func (s *WorkerService) fail(ctx context.Context, req tasks.FeePayerSignPayload, status types.TransactionStatus, cause error) {
	msg := cause.Error()
	if err := s.history.UpdateTransactionStatus(ctx, req.HistoryID, types.StatusUpdate{
		Status:       status,
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.WithField("history_id", req.HistoryID).WithError(err).Error("fail to update transaction status")
	}
}
