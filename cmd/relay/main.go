package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Pending transaction decode relay",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream, decode and broadcast pending router transactions",
		RunE:  runRelay,
	}

	runCmd.Flags().String("upstream-url", "", "upstream node websocket or ipc URL")
	runCmd.Flags().StringSlice("address", nil, "monitored contract addresses (comma-separated, defaults to the built-in routers)")
	runCmd.Flags().String("publisher-host", "127.0.0.1", "publisher listen host")
	runCmd.Flags().Int("publisher-port", 8546, "publisher listen port")
	runCmd.Flags().Int("max-reconnect-attempts", 10, "reconnect attempts before giving up")
	runCmd.Flags().Duration("reconnect-interval", time.Second, "initial reconnect delay")
	runCmd.Flags().Float64("backoff-factor", 2, "reconnect delay multiplier")
	runCmd.Flags().Duration("max-reconnect-delay", 60*time.Second, "reconnect delay cap")
	runCmd.Flags().Duration("connect-timeout", 30*time.Second, "timeout for a single connect attempt")
	runCmd.Flags().Duration("fetch-timeout", 10*time.Second, "transaction lookup timeout")
	runCmd.Flags().Int("max-inflight", 256, "maximum concurrent lookups")
	runCmd.Flags().Duration("shutdown-grace", 5*time.Second, "time allowed for in-flight work on shutdown")
	runCmd.Flags().String("interfaces", "", "extra contract interfaces JSON file")
	runCmd.Flags().Bool("token-meta", false, "attach ERC20 metadata to decoded calls")
	runCmd.Flags().Duration("token-meta-timeout", 3*time.Second, "timeout per token metadata call")
	runCmd.Flags().String("sink", "none", "archive sink (none, jsonl, postgres, redis)")
	runCmd.Flags().String("sink-path", "./data/envelopes.jsonl", "jsonl sink path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the postgres sink")
	runCmd.Flags().String("redis-addr", "", "Redis address for the redis sink")
	runCmd.Flags().String("redis-password", "", "Redis password")
	runCmd.Flags().String("redis-stream", "mempool:envelopes", "Redis stream key")
	runCmd.Flags().Int("sink-batch-size", 100, "envelopes per archive write")
	runCmd.Flags().Duration("sink-flush-interval", time.Second, "archive flush interval")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a single router call",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("upstream-url", "", "upstream node URL for --tx and --token-meta")
	decodeCmd.Flags().String("tx", "", "pending or mined transaction hash to look up")
	decodeCmd.Flags().String("to", "", "contract address the call data is sent to")
	decodeCmd.Flags().String("input", "", "hex call data")
	decodeCmd.Flags().String("interfaces", "", "extra contract interfaces JSON file")
	decodeCmd.Flags().Bool("token-meta", false, "attach ERC20 metadata")
	decodeCmd.Flags().String("out", "", "output file (defaults to stdout)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
