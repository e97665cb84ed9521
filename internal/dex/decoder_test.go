package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

var (
	testWETH  = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	testToken = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	testUser  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestDecoder(t *testing.T) *CallDecoder {
	t.Helper()
	registry, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewCallDecoder(registry, zap.NewNop())
}

func routerRecord(to string, input []byte) *model.TransactionRecord {
	addr := common.HexToAddress(to)
	return &model.TransactionRecord{
		Hash:  common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"),
		From:  testUser,
		To:    &addr,
		Value: big.NewInt(0),
		Input: input,
	}
}

func TestDecodeSwapExactETHForTokens(t *testing.T) {
	routerABI, err := RouterV2ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	input, err := routerABI.Pack("swapExactETHForTokens",
		big.NewInt(1000),
		[]common.Address{testWETH, testToken},
		testUser,
		big.NewInt(1700000000),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	decoded := newTestDecoder(t).Decode(routerRecord(UniswapV2RouterAddress, input))
	if decoded == nil {
		t.Fatalf("expected decoded call")
	}
	if decoded.FunctionName != "swapExactETHForTokens" {
		t.Fatalf("function mismatch: %s", decoded.FunctionName)
	}
	if decoded.Selector != "0x7ff36ab5" {
		t.Fatalf("selector mismatch: %s", decoded.Selector)
	}
	if decoded.Signature != "swapExactETHForTokens(uint256,address[],address,uint256)" {
		t.Fatalf("signature mismatch: %s", decoded.Signature)
	}
	if decoded.Contract != UniswapV2RouterAddress {
		t.Fatalf("contract mismatch: %s", decoded.Contract)
	}
	if decoded.ContractName != "UniswapV2Router02" {
		t.Fatalf("contract name mismatch: %s", decoded.ContractName)
	}

	fields := decoded.Canonical
	if fields.AmountOutMin != "1000" {
		t.Fatalf("amountOutMin mismatch: %s", fields.AmountOutMin)
	}
	if len(fields.Path) != 2 || fields.Path[0] != testWETH.Hex() || fields.Path[1] != testToken.Hex() {
		t.Fatalf("path mismatch: %v", fields.Path)
	}
	if fields.TokenIn != testWETH.Hex() || fields.TokenOut != testToken.Hex() {
		t.Fatalf("token in/out mismatch: %s -> %s", fields.TokenIn, fields.TokenOut)
	}
	if fields.To != testUser.Hex() {
		t.Fatalf("to mismatch: %s", fields.To)
	}
	if fields.Deadline != "1700000000" {
		t.Fatalf("deadline mismatch: %s", fields.Deadline)
	}
	if fields.AmountIn != "" {
		t.Fatalf("amountIn should be empty for an ETH input swap: %s", fields.AmountIn)
	}

	if len(decoded.RawArguments) != 4 {
		t.Fatalf("expected 4 arguments, got %d", len(decoded.RawArguments))
	}
	pathArg := decoded.RawArguments[1]
	if pathArg.Name != "path" || pathArg.Type != "address[]" {
		t.Fatalf("path argument mismatch: %+v", pathArg)
	}
	if values, ok := pathArg.Value.([]string); !ok || len(values) != 2 {
		t.Fatalf("path argument value mismatch: %#v", pathArg.Value)
	}
	if decoded.RawArguments[0].Value != "1000" {
		t.Fatalf("amounts should render as decimal strings: %#v", decoded.RawArguments[0].Value)
	}
}

func TestDecodeMappedFunctions(t *testing.T) {
	routerABI, err := RouterV2ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t)

	for name := range canonicalRoles {
		method, ok := routerABI.Methods[name]
		if !ok {
			t.Fatalf("mapped function %s missing from router abi", name)
		}
		args, deadline := sampleArguments(method.Inputs)
		input, err := routerABI.Pack(name, args...)
		if err != nil {
			t.Fatalf("pack %s: %v", name, err)
		}

		decoded := decoder.Decode(routerRecord(SushiSwapRouterAddress, input))
		if decoded == nil {
			t.Fatalf("%s: expected decoded call", name)
		}
		if decoded.FunctionName != name {
			t.Fatalf("%s: function mismatch: %s", name, decoded.FunctionName)
		}
		if decoded.ContractName != "SushiSwapRouter" {
			t.Fatalf("%s: contract name mismatch: %s", name, decoded.ContractName)
		}
		if decoded.Canonical.To != testUser.Hex() {
			t.Fatalf("%s: to mismatch: %s", name, decoded.Canonical.To)
		}
		if decoded.Canonical.Deadline != deadline {
			t.Fatalf("%s: deadline mismatch: %s want %s", name, decoded.Canonical.Deadline, deadline)
		}
		if len(decoded.Canonical.TokenAddresses()) == 0 {
			t.Fatalf("%s: expected token addresses", name)
		}
	}
}

// sampleArguments builds values for every input; uint256 arguments get their
// one-based position so each is distinguishable.
func sampleArguments(inputs abi.Arguments) ([]interface{}, string) {
	args := make([]interface{}, len(inputs))
	deadline := ""
	for i, input := range inputs {
		switch input.Type.String() {
		case "uint256":
			args[i] = big.NewInt(int64(i + 1))
			if input.Name == "deadline" {
				deadline = big.NewInt(int64(i + 1)).String()
			}
		case "address":
			if input.Name == "to" {
				args[i] = testUser
			} else {
				args[i] = testToken
			}
		case "address[]":
			args[i] = []common.Address{testWETH, testToken}
		case "bool":
			args[i] = true
		case "uint8":
			args[i] = uint8(27)
		case "bytes32":
			args[i] = [32]byte{1}
		}
	}
	return args, deadline
}

func TestDecodeUnmappedFunctionHasEmptyCanonicalFields(t *testing.T) {
	routerABI, err := RouterV2ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	input, err := routerABI.Pack("WETH")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	decoded := newTestDecoder(t).Decode(routerRecord(UniswapV2RouterAddress, input))
	if decoded == nil {
		t.Fatalf("expected decoded call")
	}
	if decoded.FunctionName != "WETH" || len(decoded.RawArguments) != 0 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if !decoded.Canonical.IsEmpty() {
		t.Fatalf("canonical fields should be empty: %+v", decoded.Canonical)
	}
}

func TestDecodeReturnsNil(t *testing.T) {
	routerABI, err := RouterV2ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	valid, err := routerABI.Pack("swapExactETHForTokens",
		big.NewInt(1), []common.Address{testWETH, testToken}, testUser, big.NewInt(2))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	decoder := newTestDecoder(t)

	cases := []struct {
		name   string
		record *model.TransactionRecord
	}{
		{"nil record", nil},
		{"unknown selector", routerRecord(UniswapV2RouterAddress, []byte{0xde, 0xad, 0xbe, 0xef, 0x00})},
		{"short input", routerRecord(UniswapV2RouterAddress, []byte{0x7f, 0xf3})},
		{"empty input", routerRecord(UniswapV2RouterAddress, nil)},
		{"truncated arguments", routerRecord(UniswapV2RouterAddress, valid[:40])},
		{"unregistered contract", routerRecord("0x9999999999999999999999999999999999999999", valid)},
		{"contract creation", &model.TransactionRecord{Input: valid}},
	}
	for _, tc := range cases {
		if decoded := decoder.Decode(tc.record); decoded != nil {
			t.Fatalf("%s: expected nil, got %+v", tc.name, decoded)
		}
	}
}
