package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"mempoolScope/internal/model"
)

// rpcTransaction mirrors the eth_getTransactionByHash response. The sender is
// taken from the node rather than recovered, since pending transactions carry
// no block context for the signer cache.
type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Type                 hexutil.Uint64  `json:"type"`
	Value                *hexutil.Big    `json:"value"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Input                hexutil.Bytes   `json:"input"`
}

func (tx *rpcTransaction) record() *model.TransactionRecord {
	record := &model.TransactionRecord{
		Hash:                 tx.Hash,
		From:                 tx.From,
		Nonce:                uint64(tx.Nonce),
		Type:                 uint64(tx.Type),
		Value:                toBig(tx.Value),
		Gas:                  uint64(tx.Gas),
		MaxFeePerGas:         toBig(tx.MaxFeePerGas),
		MaxPriorityFeePerGas: toBig(tx.MaxPriorityFeePerGas),
		Input:                []byte(tx.Input),
	}
	if tx.To != nil {
		to := *tx.To
		record.To = &to
	}
	// Fee market transactions report an effective gasPrice on some nodes; keep
	// only the fields that describe the transaction's own pricing.
	if record.MaxFeePerGas == nil {
		record.GasPrice = toBig(tx.GasPrice)
	}
	if record.Value == nil {
		record.Value = new(big.Int)
	}
	return record
}

func toBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v.ToInt())
}
