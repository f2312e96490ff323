package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/internal/keystore"
	"github.com/vultisig/sharekeeper/internal/wallet"
	"github.com/vultisig/sharekeeper/storage"
)

type app struct {
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	configPath string
	cfg        *config.Config
	prompter   *terminalPrompter
	store      *storage.Router
}

// newApp wires a CLI run. Results go to out; prompts go to errOut so results
// can be piped.
func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, prompter: newTerminalPrompter(in, errOut)}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sharekeeper",
		Short:         "Threshold-protected keystores and fee-delegated transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./config.yaml)")
	flags.String("log-level", "", "log level")
	flags.String("keystore-dir", "", "directory holding keystore records")
	flags.Bool("light-kdf", false, "use light scrypt parameters for new keystores")
	flags.String("rpc-url", "", "JSON-RPC endpoint")
	flags.Int64("chain-id", 0, "chain id")

	root.AddCommand(newKeystoreCmd(a), newTxCmd(a), newTokenCmd(a))
	return root
}

var flagKeys = map[string]string{
	"log-level":    "log_level",
	"keystore-dir": "keystore.dir",
	"light-kdf":    "keystore.light_kdf",
	"rpc-url":      "chain.rpc_url",
	"chain-id":     "chain.chain_id",
}

// load reads the config file, then lets changed flags override it.
func (a *app) load(cmd *cobra.Command) error {
	v := viper.New()
	if a.configPath != "" {
		v.SetConfigFile(a.configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configPath != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("fail to read config, err: %w", err)
		}
	}
	for name, key := range flagKeys {
		flag := cmd.Root().PersistentFlags().Lookup(name)
		if flag != nil && flag.Changed {
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("fail to bind flag %s, err: %w", name, err)
			}
		}
	}
	cfg, err := config.New(v)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q, err: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	a.cfg = cfg
	return nil
}

func (a *app) manager() *keystore.Manager {
	if a.store == nil {
		a.store = storage.NewRouterFromConfig(*a.cfg)
	}
	return keystore.NewManager(a.store, wallet.NewGethService(a.cfg.Keystore.LightKDF), a.cfg.Keystore.Dir)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
