package filter

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

// AddressFilter is an immutable set of monitored contract addresses.
type AddressFilter struct {
	addresses map[common.Address]struct{}
	logger    *zap.Logger
}

func NewAddressFilter(addresses []common.Address, logger *zap.Logger) *AddressFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[common.Address]struct{}, len(addresses))
	for _, addr := range addresses {
		set[addr] = struct{}{}
	}
	return &AddressFilter{addresses: set, logger: logger}
}

// IsMonitored reports whether the record's recipient is monitored. Contract
// creations have no recipient and are never monitored.
func (f *AddressFilter) IsMonitored(record *model.TransactionRecord) bool {
	if record == nil || record.To == nil {
		return false
	}
	if _, ok := f.addresses[*record.To]; !ok {
		return false
	}
	f.logger.Debug("monitored address hit",
		zap.String("hash", record.Hash.Hex()),
		zap.String("address", strings.ToLower(record.To.Hex())),
	)
	return true
}

// Contains matches a textual address regardless of case.
func (f *AddressFilter) Contains(address string) bool {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return false
	}
	_, ok := f.addresses[common.HexToAddress(address)]
	return ok
}

func (f *AddressFilter) Len() int { return len(f.addresses) }
