package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/tasks"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/service"
	"github.com/vultisig/sharekeeper/storage"
)

const testSecret = "api-test-secret"

var testFeePayer = common.HexToAddress("0x00000000000000000000000000000000000000fe")

var errQueueDown = errors.New("queue unavailable")

// fakeEnqueuer records tasks. The first failures calls fail.
type fakeEnqueuer struct {
	mu       sync.Mutex
	tasks    []*asynq.Task
	failures int
	calls    int
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errQueueDown
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type()}, nil
}

type memHistory struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]types.TransactionHistory
	failCreate error
}

func (m *memHistory) Close() error { return nil }

func (m *memHistory) CreateTransactionHistory(_ context.Context, tx types.TransactionHistory) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return uuid.Nil, m.failCreate
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.TransactionHistory
	for _, row := range m.rows {
		if row.Sender == sender {
			out = append(out, row)
		}
	}
	return out, nil
}

type apiFixture struct {
	e       *echo.Echo
	queue   *fakeEnqueuer
	history *memHistory
	token   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	var cfg config.Config
	cfg.Roles.FeePayer = testFeePayer.Hex()
	cfg.Chain.ChainID = 1112
	cfg.Server.JWTSecret = testSecret

	mr := miniredis.RunT(t)
	claims := storage.NewRedisStorageWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = claims.Close() })

	f := &apiFixture{
		queue:   &fakeEnqueuer{},
		history: &memHistory{rows: map[uuid.UUID]types.TransactionHistory{}},
	}
	s, err := NewServer(cfg, f.queue, claims, f.history, &statsd.NoOpClient{})
	require.NoError(t, err)
	f.e = s.routes()
	f.token, err = service.NewAuthService(testSecret).GenerateToken("wallet-app")
	require.NoError(t, err)
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func senderSignedTx(t *testing.T, chainID int64, feePayer common.Address, delegated bool) (string, common.Address) {
	sender, err := crypto.GenerateKey()
	require.NoError(t, err)
	b := txbuilder.New(big.NewInt(chainID), feePayer, wallet.NewGethService(true))
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx, err := b.Build(txbuilder.Request{
		To:        &to,
		Value:     big.NewInt(5),
		Nonce:     3,
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Delegated: delegated,
	})
	require.NoError(t, err)
	signed, err := b.SignAsSender(context.Background(), tx, sender)
	require.NoError(t, err)
	wire, err := txcodec.Encode(signed)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(wire), crypto.PubkeyToAddress(sender.PublicKey)
}

func submitBody(rawTx string) string {
	b, _ := json.Marshal(types.FeePayerSignRequest{RawTx: rawTx})
	return string(b)
}

func TestPing(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/ping", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/transactions/"+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions/"+uuid.NewString(), nil)
	req.Header.Set(echo.HeaderAuthorization, "Token abc")
	out := httptest.NewRecorder()
	f.e.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestSubmitTransaction(t *testing.T) {
	f := newAPIFixture(t)
	rawTx, sender := senderSignedTx(t, 1112, testFeePayer, true)

	rec := f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp types.FeePayerSignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusPending, resp.Status)
	assert.Equal(t, sender.Hex(), resp.Sender)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, tasks.TypeFeePayerSign, f.queue.tasks[0].Type())
	var payload tasks.FeePayerSignPayload
	require.NoError(t, json.Unmarshal(f.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, resp.ID, payload.HistoryID)
	assert.Equal(t, rawTx, payload.RawTx)

	row, err := f.history.GetTransactionHistory(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "wallet-app", row.Metadata["client"])

	// resubmitting returns the queued entry
	rec = f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusOK, rec.Code)
	var again types.FeePayerSignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, resp.ID, again.ID)
	assert.Len(t, f.queue.tasks, 1)

	rec = f.do(t, http.MethodGet, "/v1/transactions/"+resp.ID.String(), "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.TransactionHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sender.Hex(), got.Sender)

	rec = f.do(t, http.MethodGet, "/v1/transactions?sender="+sender.Hex(), "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []types.TransactionHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestSubmitTransactionRetriesAfterQueueFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.failures = 1
	rawTx, sender := senderSignedTx(t, 1112, testFeePayer, true)

	rec := f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, f.queue.tasks)

	rows, err := f.history.GetTransactionHistoryBySender(context.Background(), sender.Hex(), maxPageSize, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.StatusSigningFailed, rows[0].Status)
	require.NotNil(t, rows[0].ErrorMessage)

	rec = f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 2, f.queue.calls)
	require.Len(t, f.queue.tasks, 1)

	var resp types.FeePayerSignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, rows[0].ID, resp.ID)
	var payload tasks.FeePayerSignPayload
	require.NoError(t, json.Unmarshal(f.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, resp.ID, payload.HistoryID)
}

func TestSubmitTransactionRetriesAfterHistoryFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.history.failCreate = errors.New("database unavailable")
	rawTx, _ := senderSignedTx(t, 1112, testFeePayer, true)

	rec := f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	f.history.failCreate = nil
	rec = f.do(t, http.MethodPost, "/v1/transactions", submitBody(rawTx), true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, f.queue.tasks, 1)
}

func TestSubmitTransactionRejects(t *testing.T) {
	unsigned := func(t *testing.T) string {
		b := txbuilder.New(big.NewInt(1112), testFeePayer, wallet.NewGethService(true))
		to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
		tx, err := b.Build(txbuilder.Request{To: &to, Gas: 21000, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(1), Delegated: true})
		require.NoError(t, err)
		wire, err := txcodec.Encode(tx)
		require.NoError(t, err)
		return "0x" + hex.EncodeToString(wire)
	}
	testCases := []struct {
		name  string
		rawTx func(t *testing.T) string
	}{
		{name: "empty", rawTx: func(*testing.T) string { return "" }},
		{name: "not hex", rawTx: func(*testing.T) string { return "0xnothex" }},
		{name: "garbage", rawTx: func(*testing.T) string { return "0x1602" }},
		{name: "unsigned", rawTx: unsigned},
		{name: "sender-paid", rawTx: func(t *testing.T) string {
			raw, _ := senderSignedTx(t, 1112, testFeePayer, false)
			return raw
		}},
		{name: "other fee payer", rawTx: func(t *testing.T) string {
			raw, _ := senderSignedTx(t, 1112, common.HexToAddress("0x01"), true)
			return raw
		}},
		{name: "other chain", rawTx: func(t *testing.T) string {
			raw, _ := senderSignedTx(t, 1, testFeePayer, true)
			return raw
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/v1/transactions", submitBody(tc.rawTx(t)), true)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, f.queue.tasks)
		})
	}
}

func TestGetTransactionErrors(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/transactions/not-a-uuid", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/transactions/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/transactions?sender=bob", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/transactions?sender="+testFeePayer.Hex()+"&take=1000", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/auth/refresh", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := service.NewAuthService(testSecret).ValidateToken(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "wallet-app", claims.Subject)
}

func TestNewServerValidatesConfig(t *testing.T) {
	var cfg config.Config
	cfg.Server.JWTSecret = testSecret
	_, err := NewServer(cfg, &fakeEnqueuer{}, nil, &memHistory{}, &statsd.NoOpClient{})
	assert.Error(t, err)

	cfg.Roles.FeePayer = testFeePayer.Hex()
	cfg.Server.JWTSecret = ""
	_, err = NewServer(cfg, &fakeEnqueuer{}, nil, &memHistory{}, &statsd.NoOpClient{})
	assert.Error(t, err)
}
