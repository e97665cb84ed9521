package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mempoolScope/internal/storage"
)

const envPrefix = "RELAY"

// Archive sink kinds.
const (
	SinkNone     = storage.KindNone
	SinkJSONL    = storage.KindJSONL
	SinkPostgres = storage.KindPostgres
	SinkRedis    = storage.KindRedis
)

// MinBackoffFactor keeps reconnect delays non-decreasing under 30% jitter.
const MinBackoffFactor = 1.3

// Config holds relay configuration loaded from flags, env, .env and config file.
type Config struct {
	LogLevel    string
	UpstreamURL string
	Addresses   []string

	PublisherHost string
	PublisherPort int

	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	BackoffFactor        float64
	MaxReconnectDelay    time.Duration
	ConnectTimeout       time.Duration

	FetchTimeout  time.Duration
	MaxInflight   int
	ShutdownGrace time.Duration

	Interfaces       string
	TokenMeta        bool
	TokenMetaTimeout time.Duration

	Sink              string
	SinkPath          string
	PGDSN             string
	RedisAddr         string
	RedisPassword     string
	RedisStream       string
	SinkBatchSize     int
	SinkFlushInterval time.Duration
}

// Load merges .env, config file, environment variables and flags into Config.
// Flags win over env, env over file.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("log-level", "info")
		v.SetDefault("publisher-host", "127.0.0.1")
		v.SetDefault("publisher-port", 8546)
		v.SetDefault("max-reconnect-attempts", 10)
		v.SetDefault("reconnect-interval", time.Second)
		v.SetDefault("backoff-factor", 2.0)
		v.SetDefault("max-reconnect-delay", 60*time.Second)
		v.SetDefault("connect-timeout", 30*time.Second)
		v.SetDefault("fetch-timeout", 10*time.Second)
		v.SetDefault("max-inflight", 256)
		v.SetDefault("shutdown-grace", 5*time.Second)
		v.SetDefault("token-meta", false)
		v.SetDefault("token-meta-timeout", 3*time.Second)
		v.SetDefault("sink", SinkNone)
		v.SetDefault("sink-path", "./data/envelopes.jsonl")
		v.SetDefault("redis-stream", "mempool:envelopes")
		v.SetDefault("sink-batch-size", 100)
		v.SetDefault("sink-flush-interval", time.Second)
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:             v.GetString("log-level"),
		UpstreamURL:          strings.TrimSpace(v.GetString("upstream-url")),
		Addresses:            lowerStrings(getStringSlice(v, "address")),
		PublisherHost:        v.GetString("publisher-host"),
		PublisherPort:        v.GetInt("publisher-port"),
		MaxReconnectAttempts: v.GetInt("max-reconnect-attempts"),
		ReconnectInterval:    v.GetDuration("reconnect-interval"),
		BackoffFactor:        v.GetFloat64("backoff-factor"),
		MaxReconnectDelay:    v.GetDuration("max-reconnect-delay"),
		ConnectTimeout:       v.GetDuration("connect-timeout"),
		FetchTimeout:         v.GetDuration("fetch-timeout"),
		MaxInflight:          v.GetInt("max-inflight"),
		ShutdownGrace:        v.GetDuration("shutdown-grace"),
		Interfaces:           v.GetString("interfaces"),
		TokenMeta:            v.GetBool("token-meta"),
		TokenMetaTimeout:     v.GetDuration("token-meta-timeout"),
		Sink:                 strings.ToLower(v.GetString("sink")),
		SinkPath:             v.GetString("sink-path"),
		PGDSN:                v.GetString("pg-dsn"),
		RedisAddr:            v.GetString("redis-addr"),
		RedisPassword:        v.GetString("redis-password"),
		RedisStream:          v.GetString("redis-stream"),
		SinkBatchSize:        v.GetInt("sink-batch-size"),
		SinkFlushInterval:    v.GetDuration("sink-flush-interval"),
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot start with.
func (c Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("upstream url is required")
	}
	if strings.HasPrefix(c.UpstreamURL, "http://") || strings.HasPrefix(c.UpstreamURL, "https://") {
		return fmt.Errorf("upstream url must be a websocket or ipc endpoint: %s", c.UpstreamURL)
	}
	for _, addr := range c.Addresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address: %s", addr)
		}
	}
	if c.PublisherPort < 0 || c.PublisherPort > 65535 {
		return fmt.Errorf("publisher port out of range: %d", c.PublisherPort)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive")
	}
	if c.BackoffFactor < MinBackoffFactor {
		return fmt.Errorf("backoff factor %.2f is below %.1f", c.BackoffFactor, MinBackoffFactor)
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("max inflight must be positive")
	}

	switch c.Sink {
	case "", SinkNone:
	case SinkJSONL:
		if c.SinkPath == "" {
			return fmt.Errorf("sink path is required for the jsonl sink")
		}
	case SinkPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres sink")
		}
	case SinkRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis addr is required for the redis sink")
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}
	return nil
}

var envOnce sync.Once

// loadDotEnv reads ./.env once; a missing file is not an error.
func loadDotEnv() error {
	var err error
	envOnce.Do(func() {
		if loadErr := godotenv.Load(); loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
			err = fmt.Errorf("load .env: %w", loadErr)
		}
	})
	return err
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func lowerStrings(items []string) []string {
	for i := range items {
		items[i] = strings.ToLower(items[i])
	}
	return items
}
