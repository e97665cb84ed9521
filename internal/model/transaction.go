package model

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// TransactionRecord is a resolved pending transaction.
type TransactionRecord struct {
	Hash                 common.Hash
	From                 common.Address
	To                   *common.Address
	Nonce                uint64
	Type                 uint64
	Value                *big.Int
	Gas                  uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Input                []byte
}

// IsFeeMarket reports whether the record carries EIP-1559 fee fields.
func (tr *TransactionRecord) IsFeeMarket() bool {
	return tr.MaxFeePerGas != nil
}

// Selector returns the first four bytes of the call data, or nil.
func (tr *TransactionRecord) Selector() []byte {
	if len(tr.Input) < 4 {
		return nil
	}
	return tr.Input[:4]
}

type transactionRecordJSON struct {
	Hash                 string  `json:"hash"`
	From                 string  `json:"from"`
	To                   *string `json:"to"`
	Nonce                uint64  `json:"nonce"`
	Type                 uint64  `json:"type"`
	Value                string  `json:"value"`
	ValueEther           string  `json:"valueEther"`
	Gas                  uint64  `json:"gas"`
	GasPrice             string  `json:"gasPrice,omitempty"`
	MaxFeePerGas         string  `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas,omitempty"`
	Input                string  `json:"input"`
}

// MarshalJSON encodes amounts as decimal strings and addresses as checksummed hex.
func (tr TransactionRecord) MarshalJSON() ([]byte, error) {
	out := transactionRecordJSON{
		Hash:                 tr.Hash.Hex(),
		From:                 tr.From.Hex(),
		Nonce:                tr.Nonce,
		Type:                 tr.Type,
		Value:                bigString(tr.Value),
		ValueEther:           FormatEther(tr.Value),
		Gas:                  tr.Gas,
		GasPrice:             optionalBigString(tr.GasPrice),
		MaxFeePerGas:         optionalBigString(tr.MaxFeePerGas),
		MaxPriorityFeePerGas: optionalBigString(tr.MaxPriorityFeePerGas),
		Input:                hexutil.Encode(tr.Input),
	}
	if tr.To != nil {
		to := tr.To.Hex()
		out.To = &to
	}
	return json.Marshal(out)
}

// FormatEther renders a wei amount as an ether decimal string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionalBigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
