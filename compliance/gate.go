// Package compliance implements the authorization gate consulted by the fund
// ledger on every deposit and withdrawal. The core treats the gate as an
// opaque yes/no capability; this package supplies the deny-list reference
// implementation and the plumbing for loading it from configuration.
package compliance

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Gate answers whether a principal is currently authorized to transact.
type Gate interface {
	IsAuthorized(principal string) bool
}

// GateFunc adapts ordinary functions to Gate.
type GateFunc func(principal string) bool

// IsAuthorized implements the Gate interface.
func (f GateFunc) IsAuthorized(principal string) bool {
	if f == nil {
		return false
	}
	return f(principal)
}

// AllowAll authorizes every principal. It is the default gate for development
// and tests.
var AllowAll Gate = GateFunc(func(string) bool { return true })

// Config describes how the deny-list gate should behave.
type Config struct {
	DenyList []string `toml:"DenyList"`
}

// Normalise trims whitespace, removes duplicates, and applies canonical
// casing to the deny list.
func (cfg Config) Normalise() Config {
	if len(cfg.DenyList) == 0 {
		return Config{}
	}
	trimmed := make([]string, 0, len(cfg.DenyList))
	seen := make(map[string]struct{}, len(cfg.DenyList))
	for _, raw := range cfg.DenyList {
		normalized := strings.ToLower(strings.TrimSpace(raw))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		trimmed = append(trimmed, normalized)
	}
	sort.Strings(trimmed)
	return Config{DenyList: trimmed}
}

// Gate returns a gate implementation honouring the configured deny list.
func (cfg Config) Gate() Gate {
	normalized := cfg.Normalise()
	if len(normalized.DenyList) == 0 {
		return AllowAll
	}
	blocked := make(map[string]struct{}, len(normalized.DenyList))
	for _, entry := range normalized.DenyList {
		blocked[entry] = struct{}{}
	}
	return GateFunc(func(principal string) bool {
		_, denied := blocked[strings.ToLower(strings.TrimSpace(principal))]
		return !denied
	})
}

// LoadConfig reads a deny-list configuration from a TOML file. A missing path
// yields an empty configuration.
func LoadConfig(path string) (Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return Config{}, fmt.Errorf("compliance: read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("compliance: parse config: %w", err)
	}
	return cfg.Normalise(), nil
}

// DynamicGate wraps a gate that can be swapped at runtime, e.g. when the
// deny list is reloaded from disk.
type DynamicGate struct {
	mu   sync.RWMutex
	gate Gate
}

// NewDynamicGate wraps the supplied gate; nil defaults to AllowAll.
func NewDynamicGate(gate Gate) *DynamicGate {
	if gate == nil {
		gate = AllowAll
	}
	return &DynamicGate{gate: gate}
}

// IsAuthorized implements the Gate interface.
func (d *DynamicGate) IsAuthorized(principal string) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	gate := d.gate
	d.mu.RUnlock()
	return gate.IsAuthorized(principal)
}

// Swap replaces the underlying gate.
func (d *DynamicGate) Swap(gate Gate) {
	if d == nil {
		return
	}
	if gate == nil {
		gate = AllowAll
	}
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}
