package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log_level" json:"log_level,omitempty"`

	Chain struct {
		RPCURL  string `mapstructure:"rpc_url" json:"rpc_url,omitempty"`
		ChainID int64  `mapstructure:"chain_id" json:"chain_id,omitempty"`
	} `mapstructure:"chain" json:"chain,omitempty"`

	Roles struct {
		FeePayer string `mapstructure:"fee_payer" json:"fee_payer,omitempty"`
	} `mapstructure:"roles" json:"roles,omitempty"`

	Keystore struct {
		Dir        string `mapstructure:"dir" json:"dir,omitempty"`
		LightKDF   bool   `mapstructure:"light_kdf" json:"light_kdf,omitempty"`
		ShareDir   string `mapstructure:"share_dir" json:"share_dir,omitempty"`
		BackupPath string `mapstructure:"backup_path" json:"backup_path,omitempty"`
	} `mapstructure:"keystore" json:"keystore,omitempty"`

	FeePayer struct {
		// Record is the fee payer's keystore record file.
		Record   string        `mapstructure:"record" json:"record,omitempty"`
		Password string        `mapstructure:"password" json:"-"`
		Shares   []ShareSecret `mapstructure:"shares" json:"shares,omitempty"`
	} `mapstructure:"fee_payer" json:"fee_payer,omitempty"`

	Server struct {
		Host      string `mapstructure:"host" json:"host,omitempty"`
		Port      int64  `mapstructure:"port" json:"port,omitempty"`
		JWTSecret string `mapstructure:"jwt_secret" json:"-"`
	} `mapstructure:"server" json:"server,omitempty"`

	Redis struct {
		Host     string `mapstructure:"host" json:"host,omitempty"`
		Port     string `mapstructure:"port" json:"port,omitempty"`
		User     string `mapstructure:"user" json:"user,omitempty"`
		Password string `mapstructure:"password" json:"-"`
		DB       int    `mapstructure:"db" json:"db,omitempty"`
	} `mapstructure:"redis" json:"redis,omitempty"`

	BlockStorage struct {
		Host      string `mapstructure:"host" json:"host,omitempty"`
		Region    string `mapstructure:"region" json:"region,omitempty"`
		AccessKey string `mapstructure:"access_key" json:"access_key,omitempty"`
		SecretKey string `mapstructure:"secret" json:"-"`
		Bucket    string `mapstructure:"bucket" json:"bucket,omitempty"`
	} `mapstructure:"block_storage" json:"block_storage,omitempty"`

	Database struct {
		DSN string `mapstructure:"dsn" json:"-"`
	} `mapstructure:"database" json:"database,omitempty"`

	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog,omitempty"`
}

// ShareSecret locates one share of a threshold keystore and the password
// that decrypts it.
type ShareSecret struct {
	Location string `mapstructure:"location" json:"location,omitempty"`
	Password string `mapstructure:"password" json:"-"`
}

func (c Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

func (c Config) DatadogAddr() string {
	return c.Datadog.Host + ":" + c.Datadog.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("chain.chain_id", 1111)
	v.SetDefault("keystore.dir", "keystore")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("datadog.host", "localhost")
	v.SetDefault("datadog.port", "8125")
}

// New decodes a Config from v after applying defaults and environment
// overrides. Keys map to env vars with dots replaced by underscores.
func New(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("fail to decode config, err: %w", err)
	}
	return &cfg, nil
}

// ReadConfig loads <name>.yaml from the working directory. A missing file is
// not an error: defaults and environment still apply.
func ReadConfig(name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("fail to read config %s, err: %w", name, err)
		}
	}
	return New(v)
}

// ReadConfigFile loads the config from an explicit path.
func ReadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to read config file %s, err: %w", path, err)
	}
	return New(v)
}
