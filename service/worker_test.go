package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/internal/tasks"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/storage"
)

type memHistory struct {
	mu   sync.Mutex
	rows map[uuid.UUID]types.TransactionHistory
}

func newMemHistory() *memHistory {
	return &memHistory{rows: map[uuid.UUID]types.TransactionHistory{}}
}

func (m *memHistory) Close() error { return nil }

func (m *memHistory) CreateTransactionHistory(_ context.Context, tx types.TransactionHistory) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = types.StatusPending
	}
	m.rows[tx.ID] = tx
	return tx.ID, nil
}

func (m *memHistory) UpdateTransactionStatus(_ context.Context, id uuid.UUID, update types.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	row.Status = update.Status
	if update.TxHash != nil {
		row.TxHash = update.TxHash
	}
	row.ErrorMessage = update.ErrorMessage
	m.rows[id] = row
	return nil
}

func (m *memHistory) GetTransactionHistory(_ context.Context, id uuid.UUID) (*types.TransactionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &row, nil
}

func (m *memHistory) GetTransactionHistoryBySender(_ context.Context, sender string, take, skip int) ([]types.TransactionHistory, error) {
	return nil, nil
}

type fakeBroadcaster struct {
	err  error
	sent []*txcodec.Transaction
}

func (f *fakeBroadcaster) Send(_ context.Context, tx *txcodec.Transaction) (common.Hash, error) {
	if f.err != nil {
		return common.Hash{}, f.err
	}
	f.sent = append(f.sent, tx)
	return txcodec.TxHash(tx)
}

type workerFixture struct {
	worker      *WorkerService
	history     *memHistory
	broadcaster *fakeBroadcaster
	builder     *txbuilder.Builder
}

func newWorkerFixture(t *testing.T) *workerFixture {
	feePayer, err := crypto.GenerateKey()
	require.NoError(t, err)
	builder := txbuilder.New(big.NewInt(1112), crypto.PubkeyToAddress(feePayer.PublicKey), wallet.NewGethService(true))
	f := &workerFixture{
		history:     newMemHistory(),
		broadcaster: &fakeBroadcaster{},
		builder:     builder,
	}
	f.worker, err = NewWorker(f.history, builder, feePayer, f.broadcaster, &statsd.NoOpClient{})
	require.NoError(t, err)
	return f
}

func (f *workerFixture) senderSigned(t *testing.T, delegated bool) string {
	sender, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx, err := f.builder.Build(txbuilder.Request{
		To:        &to,
		Value:     big.NewInt(1),
		Nonce:     1,
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Delegated: delegated,
	})
	require.NoError(t, err)
	signed, err := f.builder.SignAsSender(context.Background(), tx, sender)
	require.NoError(t, err)
	wire, err := txcodec.Encode(signed)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(wire)
}

func (f *workerFixture) enqueue(t *testing.T, rawTx string) (uuid.UUID, *asynq.Task) {
	id, err := f.history.CreateTransactionHistory(context.Background(), types.TransactionHistory{RawTx: rawTx})
	require.NoError(t, err)
	task, err := tasks.NewFeePayerSign(id, rawTx)
	require.NoError(t, err)
	return id, task
}

func TestNewWorkerRejectsForeignKey(t *testing.T) {
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	builder := txbuilder.New(big.NewInt(1112), common.HexToAddress("0x01"), wallet.NewGethService(true))
	_, err = NewWorker(newMemHistory(), builder, other, &fakeBroadcaster{}, &statsd.NoOpClient{})
	assert.ErrorIs(t, err, txbuilder.ErrFeePayerMismatch)
}

func TestHandleFeePayerSign(t *testing.T) {
	f := newWorkerFixture(t)
	id, task := f.enqueue(t, f.senderSigned(t, true))

	require.NoError(t, f.worker.HandleFeePayerSign(context.Background(), task))

	require.Len(t, f.broadcaster.sent, 1)
	sent := f.broadcaster.sent[0]
	assert.Equal(t, txcodec.FullySigned, sent.State())
	payer, err := txbuilder.RecoverFeePayer(sent)
	require.NoError(t, err)
	assert.Equal(t, f.builder.FeePayer(), payer)

	row, err := f.history.GetTransactionHistory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroadcast, row.Status)
	wantHash, err := txcodec.TxHash(sent)
	require.NoError(t, err)
	require.NotNil(t, row.TxHash)
	assert.Equal(t, wantHash.Hex(), *row.TxHash)

	// a redelivered task does not broadcast twice
	require.NoError(t, f.worker.HandleFeePayerSign(context.Background(), task))
	assert.Len(t, f.broadcaster.sent, 1)
}

func TestHandleFeePayerSignRejects(t *testing.T) {
	testCases := []struct {
		name   string
		rawTx  func(f *workerFixture, t *testing.T) string
		status types.TransactionStatus
	}{
		{
			name:   "not hex",
			rawTx:  func(*workerFixture, *testing.T) string { return "0xzz" },
			status: types.StatusRejected,
		},
		{
			name:   "sender-paid transaction",
			rawTx:  func(f *workerFixture, t *testing.T) string { return f.senderSigned(t, false) },
			status: types.StatusRejected,
		},
		{
			name: "other fee payer",
			rawTx: func(f *workerFixture, t *testing.T) string {
				other := txbuilder.New(big.NewInt(1112), common.HexToAddress("0x02"), wallet.NewGethService(true))
				return (&workerFixture{builder: other}).senderSigned(t, true)
			},
			status: types.StatusSigningFailed,
		},
		{
			name: "other chain",
			rawTx: func(f *workerFixture, t *testing.T) string {
				other := txbuilder.New(big.NewInt(1), f.builder.FeePayer(), wallet.NewGethService(true))
				return (&workerFixture{builder: other}).senderSigned(t, true)
			},
			status: types.StatusSigningFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWorkerFixture(t)
			id, task := f.enqueue(t, tc.rawTx(f, t))

			err := f.worker.HandleFeePayerSign(context.Background(), task)
			assert.ErrorIs(t, err, asynq.SkipRetry)
			assert.Empty(t, f.broadcaster.sent)

			row, err := f.history.GetTransactionHistory(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tc.status, row.Status)
			require.NotNil(t, row.ErrorMessage)
		})
	}
}

func TestHandleFeePayerSignBroadcastFailureRetries(t *testing.T) {
	f := newWorkerFixture(t)
	f.broadcaster.err = errors.New("node unavailable")
	id, task := f.enqueue(t, f.senderSigned(t, true))

	err := f.worker.HandleFeePayerSign(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	row, err := f.history.GetTransactionHistory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSigned, row.Status)
	assert.NotNil(t, row.TxHash)
}

func TestHandleFeePayerSignBadPayload(t *testing.T) {
	f := newWorkerFixture(t)

	err := f.worker.HandleFeePayerSign(context.Background(), asynq.NewTask(tasks.TypeFeePayerSign, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload, err := json.Marshal(tasks.FeePayerSignPayload{HistoryID: uuid.New(), RawTx: "0x00"})
	require.NoError(t, err)
	err = f.worker.HandleFeePayerSign(context.Background(), asynq.NewTask(tasks.TypeFeePayerSign, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
