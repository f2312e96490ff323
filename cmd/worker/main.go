package main

import (
	"context"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/chain"
	"github.com/vultisig/sharekeeper/internal/keystore"
	"github.com/vultisig/sharekeeper/internal/tasks"
	"github.com/vultisig/sharekeeper/internal/txbuilder"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/service"
	"github.com/vultisig/sharekeeper/storage"
	"github.com/vultisig/sharekeeper/storage/postgres"
)

func main() {
	if err := newRootCmd(run).ExecuteContext(context.Background()); err != nil {
		logrus.Fatal(err)
	}
}

// newRootCmd loads the config named by --config and hands it to start.
func newRootCmd(start func(context.Context, *config.Config) error) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "worker",
		Short:        "Co-sign and broadcast queued fee-delegated transactions",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return start(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.ReadConfig("config")
	}
	return config.ReadConfigFile(path)
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level, err: %w", err)
	}
	logrus.SetLevel(level)

	sdClient, err := statsd.New(cfg.DatadogAddr())
	if err != nil {
		return fmt.Errorf("fail to create statsd client, err: %w", err)
	}
	defer sdClient.Close()

	history, err := postgres.NewPostgresBackend(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("fail to connect to database, err: %w", err)
	}
	defer history.Close()

	signer := wallet.NewGethService(cfg.Keystore.LightKDF)
	store := storage.NewRouterFromConfig(*cfg)
	defer store.Close()
	feePayerKey, err := service.LoadFeePayerKey(ctx, *cfg, keystore.NewManager(store, signer, cfg.Keystore.Dir))
	if err != nil {
		return fmt.Errorf("fail to unlock fee payer, err: %w", err)
	}
	builder, err := txbuilder.NewFromConfig(*cfg, signer)
	if err != nil {
		return fmt.Errorf("fail to create transaction builder, err: %w", err)
	}
	broadcaster, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("fail to dial node, err: %w", err)
	}
	defer broadcaster.Close()

	worker, err := service.NewWorker(history, builder, feePayerKey, broadcaster, sdClient)
	if err != nil {
		return fmt.Errorf("fail to create worker, err: %w", err)
	}

	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Logger:      logrus.WithField("service", "asynq"),
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 10,
			},
		},
	)

	logrus.WithFields(logrus.Fields{
		"redis":     redisOpts.Addr,
		"fee_payer": builder.FeePayer().Hex(),
	}).Info("starting worker")

	// mux maps a type to a handler
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeFeePayerSign, worker.HandleFeePayerSign)
	if err := srv.Run(mux); err != nil {
		return fmt.Errorf("could not run server: %w", err)
	}
	return nil
}
