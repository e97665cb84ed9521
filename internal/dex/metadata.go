package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

func (c *TokenMetaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// FetchTokenMeta loads ERC20 metadata. Symbol and name fall back to the bytes32
// variant used by some legacy tokens; only a failed decimals call is an error.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20StringABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("unpack %s: empty result", method)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, fmt.Errorf("decimals: %w", err)
	}
	meta.Decimals = decimals

	textField := func(method string) string {
		if values, err := call(method, stringABI); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := call(method, bytes32ABI)
		if err != nil {
			logger.Debug("token metadata call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
			return ""
		}
		s, _ := bytes32ToString(values[0])
		return s
	}
	meta.Symbol = textField("symbol")
	meta.Name = textField("name")

	return meta, nil
}

// TokenMetaResolver attaches cached token metadata to decoded calls.
type TokenMetaResolver struct {
	cache   *TokenMetaCache
	timeout time.Duration
	logger  *zap.Logger
}

func NewTokenMetaResolver(cache *TokenMetaCache, timeout time.Duration, logger *zap.Logger) *TokenMetaResolver {
	if cache == nil {
		cache = NewTokenMetaCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenMetaResolver{cache: cache, timeout: timeout, logger: logger}
}

// Annotate fills call.Tokens for every token address in the canonical fields.
// Failed lookups are cached with whatever was resolved so a broken token is
// queried once.
func (r *TokenMetaResolver) Annotate(ctx context.Context, caller ContractCaller, call *model.DecodedCall) {
	if r == nil || call == nil {
		return
	}
	addresses := call.Canonical.TokenAddresses()
	if len(addresses) == 0 {
		return
	}

	tokens := make([]model.TokenMeta, 0, len(addresses))
	for _, hex := range addresses {
		if !common.IsHexAddress(hex) {
			continue
		}
		token := common.HexToAddress(hex)
		if meta, ok := r.cache.Get(token); ok {
			tokens = append(tokens, meta)
			continue
		}
		if caller == nil {
			continue
		}

		callCtx := ctx
		cancel := func() {}
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		meta, err := FetchTokenMeta(callCtx, caller, token, r.logger)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
		}
		r.cache.Set(token, meta)
		tokens = append(tokens, meta)
	}
	call.Tokens = tokens
}
