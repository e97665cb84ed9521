package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mempoolScope/internal/chain"
	"mempoolScope/internal/config"
	"mempoolScope/internal/dex"
	"mempoolScope/internal/model"
	"mempoolScope/internal/relay"
)

const decodeLookupTimeout = 30 * time.Second

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := buildRegistry(cfg.Interfaces)
	if err != nil {
		return err
	}
	decoder := dex.NewCallDecoder(registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *chain.Client
	if cfg.UpstreamURL != "" {
		client, err = chain.NewClient(ctx, cfg.UpstreamURL)
		if err != nil {
			return fmt.Errorf("connect upstream: %w", err)
		}
		defer client.Close()
	}

	record, err := decodeInput(ctx, cfg, client)
	if err != nil {
		return err
	}

	entry, ok := registry.Lookup(record.To.Hex())
	if !ok {
		return fmt.Errorf("no interface registered for %s", record.To.Hex())
	}
	call := decoder.Decode(record)
	if call == nil {
		return fmt.Errorf("no %s function matches the call to %s", entry.Name, record.To.Hex())
	}
	if cfg.TokenMeta && client != nil {
		dex.NewTokenMetaResolver(nil, decodeLookupTimeout, logger).Annotate(ctx, client, call)
	}

	logger.Info("decode complete",
		zap.String("address", call.Contract),
		zap.String("function", call.FunctionName),
		zap.Int("tokens", len(call.Tokens)),
	)

	payload := model.DecodedTransactionPayload{Decoded: call}
	if cfg.Tx != "" {
		payload.Transaction = record
	}
	return writeEnvelope(cfg.Out, model.NewEnvelope(payload, time.Now()))
}

// decodeInput builds the record to decode from --tx or from --to and --input.
func decodeInput(ctx context.Context, cfg config.DecodeConfig, client *chain.Client) (*model.TransactionRecord, error) {
	if cfg.Tx != "" {
		hash, err := relay.ParseHash(cfg.Tx)
		if err != nil {
			return nil, err
		}
		lookupCtx, cancel := context.WithTimeout(ctx, decodeLookupTimeout)
		defer cancel()
		record, err := client.TransactionByHash(lookupCtx, hash)
		if err != nil {
			return nil, fmt.Errorf("look up %s: %w", hash.Hex(), err)
		}
		if record.To == nil {
			return nil, fmt.Errorf("transaction %s creates a contract", hash.Hex())
		}
		return record, nil
	}

	if !common.IsHexAddress(cfg.To) {
		return nil, fmt.Errorf("invalid address: %s", cfg.To)
	}
	input, err := hexutil.Decode(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("invalid call data: %w", err)
	}
	to := common.HexToAddress(cfg.To)
	return &model.TransactionRecord{To: &to, Input: input}, nil
}

func writeEnvelope(path string, env model.Envelope) error {
	var out io.Writer = os.Stdout
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
		}
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer file.Close()
		out = file
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
