package dex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Well-known Router02 deployments on mainnet.
const (
	UniswapV2RouterAddress = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	SushiSwapRouterAddress = "0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f"
)

// InterfaceEntry is a monitored contract together with the methods it exposes.
// Methods keep ABI declaration order so that selector ties resolve the same way
// on every run.
type InterfaceEntry struct {
	Address string
	Name    string
	Methods []abi.Method
}

// Registry maps lower-cased contract addresses to their interface entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*InterfaceEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*InterfaceEntry)}
}

// DefaultRegistry returns a registry preloaded with the Uniswap V2 and SushiSwap routers.
func DefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	if err := registry.Register(UniswapV2RouterAddress, "UniswapV2Router02", []byte(RouterV2ABIJSON)); err != nil {
		return nil, err
	}
	if err := registry.Register(SushiSwapRouterAddress, "SushiSwapRouter", []byte(RouterV2ABIJSON)); err != nil {
		return nil, err
	}
	return registry, nil
}

// Register parses abiJSON and adds the contract. Registering the same address twice fails.
func (r *Registry) Register(address, name string, abiJSON []byte) error {
	key, err := normalizeAddress(address)
	if err != nil {
		return err
	}
	methods, err := parseOrderedMethods(abiJSON)
	if err != nil {
		return fmt.Errorf("parse abi for %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("interface already registered for %s", key)
	}
	r.entries[key] = &InterfaceEntry{Address: key, Name: name, Methods: methods}
	return nil
}

// Lookup is case-insensitive. Unparseable addresses are simply not found.
func (r *Registry) Lookup(address string) (*InterfaceEntry, bool) {
	key, err := normalizeAddress(address)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	return entry, ok
}

func (r *Registry) LookupAddress(address common.Address) (*InterfaceEntry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[strings.ToLower(address.Hex())]
	r.mu.RUnlock()
	return entry, ok
}

// Addresses lists registered addresses in sorted order.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, key)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

type interfaceFileEntry struct {
	Address string          `json:"address"`
	Name    string          `json:"name"`
	ABI     json.RawMessage `json:"abi"`
}

// LoadFile registers every entry of a JSON file shaped as
// [{"address": "0x..", "name": "..", "abi": [...]}]. The abi field may also be
// a JSON string holding the ABI, as emitted by block explorers.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read interfaces file: %w", err)
	}
	var entries []interfaceFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse interfaces file: %w", err)
	}
	for i, entry := range entries {
		abiJSON := []byte(entry.ABI)
		var embedded string
		if err := json.Unmarshal(entry.ABI, &embedded); err == nil {
			abiJSON = []byte(embedded)
		}
		name := entry.Name
		if name == "" {
			name = entry.Address
		}
		if err := r.Register(entry.Address, name, abiJSON); err != nil {
			return fmt.Errorf("interfaces file entry %d: %w", i, err)
		}
	}
	return nil
}

func normalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid address: %s", address)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// parseOrderedMethods parses each fragment separately; abi.ABI keeps methods in a
// map and would lose declaration order.
func parseOrderedMethods(abiJSON []byte) ([]abi.Method, error) {
	var fragments []json.RawMessage
	if err := json.Unmarshal(abiJSON, &fragments); err != nil {
		return nil, err
	}

	methods := make([]abi.Method, 0, len(fragments))
	for i, fragment := range fragments {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(fragment, &head); err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		if head.Type != "" && head.Type != "function" {
			continue
		}

		var buf bytes.Buffer
		buf.WriteByte('[')
		buf.Write(fragment)
		buf.WriteByte(']')
		parsed, err := abi.JSON(&buf)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		for _, method := range parsed.Methods {
			methods = append(methods, method)
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("abi declares no functions")
	}
	return methods, nil
}
