package api

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/tasks"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/txcodec"
	"github.com/vultisig/sharekeeper/internal/types"
	"github.com/vultisig/sharekeeper/service"
	"github.com/vultisig/sharekeeper/storage"
)

const (
	claimTTL     = 10 * time.Minute
	maxPageSize  = 100
	clientCtxKey = "client"
)

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Claimer deduplicates submissions. Satisfied by *storage.RedisStorage.
type Claimer interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, value string) error
}

type Server struct {
	host        string
	port        int64
	client      TaskEnqueuer
	claims      Claimer
	sdClient    statsd.ClientInterface
	logger      *logrus.Entry
	history     storage.HistoryStore
	authService *service.AuthService
	feePayer    common.Address
	chainID     *big.Int
}

// NewServer returns a new server. claims may be nil to accept duplicate
// submissions.
func NewServer(cfg config.Config,
	client TaskEnqueuer,
	claims Claimer,
	history storage.HistoryStore,
	sdClient statsd.ClientInterface) (*Server, error) {
	if !common.IsHexAddress(cfg.Roles.FeePayer) {
		return nil, fmt.Errorf("roles.fee_payer %q is not an address", cfg.Roles.FeePayer)
	}
	if cfg.Server.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwt_secret is required")
	}
	return &Server{
		host:        cfg.Server.Host,
		port:        cfg.Server.Port,
		client:      client,
		claims:      claims,
		sdClient:    sdClient,
		logger:      logrus.WithField("service", "api"),
		history:     history,
		authService: service.NewAuthService(cfg.Server.JWTSecret),
		feePayer:    common.HexToAddress(cfg.Roles.FeePayer),
		chainID:     big.NewInt(cfg.Chain.ChainID),
	}, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.DEBUG)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M")) // set maximum allowed size for a request body to 2M
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))
	e.GET("/ping", s.Ping)

	grp := e.Group("/v1", s.AuthMiddleware)
	grp.POST("/auth/refresh", s.RefreshToken)
	grp.POST("/transactions", s.SubmitTransaction)
	grp.GET("/transactions", s.ListTransactions)
	grp.GET("/transactions/:id", s.GetTransaction)
	return e
}

func (s *Server) StartServer() error {
	return s.routes().Start(fmt.Sprintf("%s:%d", s.host, s.port))
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "sharekeeper is running")
}

func (s *Server) RefreshToken(c echo.Context) error {
	token, err := s.authService.GenerateToken(c.Get(clientCtxKey).(string))
	if err != nil {
		return fmt.Errorf("fail to generate token, err: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// SubmitTransaction accepts a sender-signed fee-delegated transaction and
// queues it for fee payer co-signing.
func (s *Server) SubmitTransaction(c echo.Context) error {
	ctx := c.Request().Context()
	var req types.FeePayerSignRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "fail to parse request"})
	}
	if !req.IsValid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "raw_tx must be hex"})
	}
	tx, err := txcodec.DecodeAs(req.Bytes(), txcodec.SenderSigned)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if !tx.IsDelegated() || tx.FeePayer != s.feePayer {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "transaction does not name this fee payer"})
	}
	if tx.ChainID == nil || tx.ChainID.Cmp(s.chainID) != 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": txbuilder.ErrChainMismatch.Error()})
	}
	sender, err := txbuilder.RecoverSender(tx)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid sender signature"})
	}
	signingHash, err := txcodec.SigningHash(tx)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	id := uuid.New()
	claimKey := "fee_payer:" + signingHash.Hex()
	claimed := false
	if s.claims != nil {
		held, ok, err := s.claims.Claim(ctx, claimKey, id.String(), claimTTL)
		if err != nil {
			s.logger.Errorf("fail to claim submission, err: %v", err)
		} else if !ok {
			return s.existing(c, held)
		}
		claimed = err == nil
	}
	// A submission that is not queued must not hold the claim, so a retry
	// gets a fresh attempt.
	queued := false
	defer func() {
		if !claimed || queued {
			return
		}
		if err := s.claims.Release(context.WithoutCancel(ctx), claimKey, id.String()); err != nil {
			s.logger.Errorf("fail to release submission claim, err: %v", err)
		}
	}()

	rawTx := "0x" + hex.EncodeToString(req.Bytes())
	client, _ := c.Get(clientCtxKey).(string)
	_, err = s.history.CreateTransactionHistory(ctx, types.TransactionHistory{
		ID:       id,
		Sender:   sender.Hex(),
		FeePayer: s.feePayer.Hex(),
		RawTx:    rawTx,
		Status:   types.StatusPending,
		Metadata: map[string]interface{}{"client": client},
	})
	if err != nil {
		return fmt.Errorf("fail to create transaction history, err: %w", err)
	}
	if err := s.sdClient.Count("fee_payer.submit", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	task, err := tasks.NewFeePayerSign(id, rawTx)
	if err == nil {
		_, err = s.client.Enqueue(task)
	}
	if err != nil {
		s.abandon(ctx, id, err)
		return fmt.Errorf("fail to enqueue task, err: %w", err)
	}
	queued = true
	s.logger.WithFields(logrus.Fields{
		"id":     id,
		"sender": sender.Hex(),
		"client": client,
	}).Info("fee-delegated transaction queued")
	return c.JSON(http.StatusAccepted, types.FeePayerSignResponse{
		ID:     id,
		Status: types.StatusPending,
		Sender: sender.Hex(),
	})
}

// abandon marks a history row whose task never reached the queue.
func (s *Server) abandon(ctx context.Context, id uuid.UUID, cause error) {
	msg := "not queued: " + cause.Error()
	err := s.history.UpdateTransactionStatus(context.WithoutCancel(ctx), id, types.StatusUpdate{
		Status:       types.StatusSigningFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		s.logger.WithField("id", id).Errorf("fail to mark transaction history, err: %v", err)
	}
}

func (s *Server) existing(c echo.Context, held string) error {
	id, err := uuid.Parse(held)
	if err != nil {
		return fmt.Errorf("fail to parse claimed id, err: %w", err)
	}
	history, err := s.history.GetTransactionHistory(c.Request().Context(), id)
	if err != nil {
		return fmt.Errorf("fail to load transaction history, err: %w", err)
	}
	return c.JSON(http.StatusOK, types.FeePayerSignResponse{
		ID:     history.ID,
		Status: history.Status,
		Sender: history.Sender,
	})
}

func (s *Server) GetTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	history, err := s.history.GetTransactionHistory(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "transaction not found"})
		}
		return fmt.Errorf("fail to load transaction history, err: %w", err)
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) ListTransactions(c echo.Context) error {
	sender := c.QueryParam("sender")
	if !common.IsHexAddress(sender) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sender must be an address"})
	}
	take, err := queryInt(c, "take", 20)
	if err != nil || take <= 0 || take > maxPageSize {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid take"})
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil || skip < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid skip"})
	}
	list, err := s.history.GetTransactionHistoryBySender(c.Request().Context(), common.HexToAddress(sender).Hex(), take, skip)
	if err != nil {
		return fmt.Errorf("fail to list transaction history, err: %w", err)
	}
	if list == nil {
		list = []types.TransactionHistory{}
	}
	return c.JSON(http.StatusOK, list)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
