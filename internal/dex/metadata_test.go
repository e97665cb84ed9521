package dex

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

type fakeCaller struct {
	mu        sync.Mutex
	responses map[common.Address]map[string][]byte
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	byToken, ok := f.responses[*msg.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	resp, ok := byToken[hexutil.Encode(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return resp, nil
}

func erc20Responses(t *testing.T, decimals uint8, symbol string, legacy bool) map[string][]byte {
	t.Helper()
	stringABI, err := erc20StringABI.get()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	out := make(map[string][]byte)
	dec, err := stringABI.Methods["decimals"].Outputs.Pack(decimals)
	if err != nil {
		t.Fatalf("pack decimals: %v", err)
	}
	out[hexutil.Encode(stringABI.Methods["decimals"].ID)] = dec

	var sym []byte
	if legacy {
		var word [32]byte
		copy(word[:], symbol)
		sym, err = bytes32ABI.Methods["symbol"].Outputs.Pack(word)
	} else {
		sym, err = stringABI.Methods["symbol"].Outputs.Pack(symbol)
	}
	if err != nil {
		t.Fatalf("pack symbol: %v", err)
	}
	out[hexutil.Encode(stringABI.Methods["symbol"].ID)] = sym
	return out
}

func TestFetchTokenMeta(t *testing.T) {
	dai := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	mkr := common.HexToAddress("0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2")
	caller := &fakeCaller{responses: map[common.Address]map[string][]byte{
		dai: erc20Responses(t, 18, "DAI", false),
		mkr: erc20Responses(t, 18, "MKR", true),
	}}

	meta, err := FetchTokenMeta(context.Background(), caller, dai, zap.NewNop())
	if err != nil {
		t.Fatalf("fetch dai: %v", err)
	}
	if meta.Decimals != 18 || meta.Symbol != "DAI" || meta.Name != "" {
		t.Fatalf("dai meta mismatch: %+v", meta)
	}

	meta, err = FetchTokenMeta(context.Background(), caller, mkr, zap.NewNop())
	if err != nil {
		t.Fatalf("fetch mkr: %v", err)
	}
	if meta.Symbol != "MKR" {
		t.Fatalf("bytes32 symbol fallback failed: %+v", meta)
	}

	unknown := common.HexToAddress("0x5555555555555555555555555555555555555555")
	meta, err = FetchTokenMeta(context.Background(), caller, unknown, zap.NewNop())
	if err == nil {
		t.Fatalf("expected error for reverting token")
	}
	if meta.Address != unknown.Hex() {
		t.Fatalf("partial meta should keep the address: %+v", meta)
	}
}

func TestTokenMetaResolverCachesResults(t *testing.T) {
	dai := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	broken := common.HexToAddress("0x5555555555555555555555555555555555555555")
	caller := &fakeCaller{responses: map[common.Address]map[string][]byte{
		dai: erc20Responses(t, 18, "DAI", false),
	}}
	resolver := NewTokenMetaResolver(nil, 0, zap.NewNop())

	call := &model.DecodedCall{Canonical: model.CanonicalFields{
		TokenIn:  broken.Hex(),
		TokenOut: dai.Hex(),
	}}
	resolver.Annotate(context.Background(), caller, call)
	if len(call.Tokens) != 2 || call.Tokens[1].Symbol != "DAI" {
		t.Fatalf("tokens mismatch: %+v", call.Tokens)
	}
	first := caller.calls

	again := &model.DecodedCall{Canonical: call.Canonical}
	resolver.Annotate(context.Background(), caller, again)
	if caller.calls != first {
		t.Fatalf("second annotate should be served from cache: %d calls, want %d", caller.calls, first)
	}
	if len(again.Tokens) != 2 {
		t.Fatalf("cached tokens mismatch: %+v", again.Tokens)
	}
	if resolver.cache.Len() != 2 {
		t.Fatalf("cache size mismatch: %d", resolver.cache.Len())
	}
}
