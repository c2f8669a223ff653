// Package wallet provides the local balance and token-ownership registry the
// engine consults through its collaborator seams. The engine trusts locally
// supplied balance figures; nothing here talks to a chain.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNegativeAmount is returned when crediting a negative amount.
var ErrNegativeAmount = errors.New("wallet: amount must not be negative")

// Wallet is a thread-safe in-memory registry of token balances and token
// ownership. It implements the engine's BalanceProvider and
// OwnershipResolver seams.
type Wallet struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // address → token → amount
	owners   map[string]string                     // token → owner address
}

// New creates an empty wallet registry.
func New() *Wallet {
	return &Wallet{
		balances: make(map[string]map[string]decimal.Decimal),
		owners:   make(map[string]string),
	}
}

// Credit adds amount of token to the address's balance.
func (w *Wallet) Credit(address, token string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	tokens, ok := w.balances[address]
	if !ok {
		tokens = make(map[string]decimal.Decimal)
		w.balances[address] = tokens
	}
	tokens[token] = tokens[token].Add(amount)
	return nil
}

// AvailableBalance returns the spendable balance an address holds in a
// token. Unknown addresses and tokens have a zero balance.
func (w *Wallet) AvailableBalance(_ context.Context, address, token string) (decimal.Decimal, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[address][token], nil
}

// Balances returns a copy of all token balances held by an address.
func (w *Wallet) Balances(address string) map[string]decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(w.balances[address]))
	for token, amount := range w.balances[address] {
		out[token] = amount
	}
	return out
}

// SetTokenOwner records the principal that owns a token's underlying asset.
func (w *Wallet) SetTokenOwner(token, owner string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.owners[token] = owner
}

// OwnsToken reports whether principal owns the token's underlying asset.
func (w *Wallet) OwnsToken(_ context.Context, principal, token string) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.owners[token] == principal, nil
}
