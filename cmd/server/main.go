package main

import (
	"context"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vultisig/sharekeeper/api"
	"github.com/vultisig/sharekeeper/config"
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
		Use:          "server",
		Short:        "Serve the fee payer API",
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

	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpts)
	defer client.Close()

	redisStorage, err := storage.NewRedisStorage(*cfg)
	if err != nil {
		return fmt.Errorf("fail to connect to redis, err: %w", err)
	}
	defer redisStorage.Close()

	history, err := postgres.NewPostgresBackend(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("fail to connect to database, err: %w", err)
	}
	defer history.Close()

	server, err := api.NewServer(*cfg, client, redisStorage, history, sdClient)
	if err != nil {
		return fmt.Errorf("fail to create server, err: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("starting api server")
	if err := server.StartServer(); err != nil {
		return fmt.Errorf("server stopped, err: %w", err)
	}
	return nil
}
