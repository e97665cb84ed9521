package dex

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

// CallDecoder matches transaction input against the registry.
type CallDecoder struct {
	registry *Registry
	logger   *zap.Logger
}

func NewCallDecoder(registry *Registry, logger *zap.Logger) *CallDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallDecoder{registry: registry, logger: logger}
}

// Decode returns nil when the recipient is unregistered, the input is shorter
// than a selector, or no method with a matching selector unpacks the arguments.
// Candidates are tried in declaration order and the first clean unpack wins.
func (d *CallDecoder) Decode(record *model.TransactionRecord) *model.DecodedCall {
	if d == nil || d.registry == nil || record == nil || record.To == nil {
		return nil
	}
	selector := record.Selector()
	if selector == nil {
		return nil
	}
	entry, ok := d.registry.LookupAddress(*record.To)
	if !ok {
		return nil
	}

	for _, method := range entry.Methods {
		if !bytes.Equal(method.ID, selector) {
			continue
		}
		values, err := unpackInputs(method, record.Input[4:])
		if err != nil {
			d.logger.Debug("call arguments did not unpack",
				zap.String("tx", record.Hash.Hex()),
				zap.String("method", method.Sig),
				zap.Error(err),
			)
			continue
		}
		return buildDecodedCall(entry, method, values)
	}
	return nil
}

func unpackInputs(method abi.Method, data []byte) (values []interface{}, err error) {
	// The ABI unpacker can panic on crafted offsets.
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = fmt.Errorf("unpack panicked: %v", r)
		}
	}()

	values, err = method.Inputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(values) != len(method.Inputs) {
		return nil, fmt.Errorf("unpacked %d values, want %d", len(values), len(method.Inputs))
	}
	return values, nil
}

func buildDecodedCall(entry *InterfaceEntry, method abi.Method, values []interface{}) *model.DecodedCall {
	args := make([]model.Argument, len(method.Inputs))
	for i, input := range method.Inputs {
		args[i] = model.Argument{
			Name:  input.Name,
			Type:  input.Type.String(),
			Value: formatArgument(values[i]),
		}
	}
	return &model.DecodedCall{
		Contract:     entry.Address,
		ContractName: entry.Name,
		FunctionName: method.RawName,
		Signature:    method.Sig,
		Selector:     hexutil.Encode(method.ID),
		RawArguments: args,
		Canonical:    canonicalize(method, values),
	}
}
