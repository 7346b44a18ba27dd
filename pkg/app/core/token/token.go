// Package token implements the external token ledger the exchange custodies
// value against. AssetToken is an in-process fungible token with ERC-20 style
// transfer/approve semantics; the exchange only ever talks to the Ledger
// interface, so a real chain-backed ledger can be swapped in.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("caller is not the token owner")
	ErrUnknownToken          = errors.New("unknown token")
)

// Ledger is the transfer capability the exchange consumes for deposits and
// withdrawals. All amounts are 1e18 fixed-point.
type Ledger interface {
	// Transfer moves amount from -> to. Fails if from's balance is short.
	Transfer(from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from -> to on behalf of spender, consuming
	// spender's allowance granted by from.
	TransferFrom(spender, from, to common.Address, amount *big.Int) error

	// BalanceOf reports from's balance. Never fails; unknown owners are zero.
	BalanceOf(owner common.Address) *big.Int
}

// AssetToken is an in-memory fungible token. The full initial supply is
// minted to the deployer, matching the reference asset tokens the exchange
// is seeded with.
type AssetToken struct {
	mu sync.RWMutex

	address common.Address
	name    string
	symbol  string
	owner   common.Address // deployer; only address allowed to mint

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

// NewAssetToken deploys a token and mints initialSupply to the deployer.
// The token address is derived from deployer, name and symbol the same way
// for every run, so restarts see stable asset identifiers.
func NewAssetToken(deployer common.Address, name, symbol string, initialSupply *big.Int) *AssetToken {
	t := &AssetToken{
		address:     deriveAddress(deployer, name, symbol),
		name:        name,
		symbol:      symbol,
		owner:       deployer,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
	if initialSupply != nil && initialSupply.Sign() > 0 {
		t.totalSupply.Set(initialSupply)
		t.balances[deployer] = new(big.Int).Set(initialSupply)
	}
	return t
}

// deriveAddress hashes deployer|name|symbol with keccak-256 and keeps the
// trailing 20 bytes, Ethereum style.
func deriveAddress(deployer common.Address, name, symbol string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(deployer.Bytes())
	h.Write([]byte(name))
	h.Write([]byte(symbol))
	return common.BytesToAddress(h.Sum(nil)[12:])
}

func (t *AssetToken) Address() common.Address { return t.address }
func (t *AssetToken) Name() string            { return t.name }
func (t *AssetToken) Symbol() string          { return t.symbol }

func (t *AssetToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

func (t *AssetToken) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Mint creates amount new tokens for to. Only the deployer may mint.
func (t *AssetToken) Mint(caller, to common.Address, amount *big.Int) error {
	if caller != t.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSupply.Add(t.totalSupply, amount)
	t.credit(to, amount)
	return nil
}

// Approve grants spender the right to move amount of owner's tokens.
// Overwrites any previous allowance.
func (t *AssetToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

// Allowance reports what spender may still move on owner's behalf.
func (t *AssetToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner]; ok {
		if amt, ok := a[spender]; ok {
			return new(big.Int).Set(amt)
		}
	}
	return new(big.Int)
}

func (t *AssetToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *AssetToken) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowances[from][spender]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		have := "0"
		if allowance != nil {
			have = allowance.String()
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, have, amount.String())
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// move assumes the lock is held.
func (t *AssetToken) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	bal := t.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		have := "0"
		if bal != nil {
			have = bal.String()
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount.String())
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

// credit assumes the lock is held.
func (t *AssetToken) credit(to common.Address, amount *big.Int) {
	if b, ok := t.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[to] = new(big.Int).Set(amount)
}

var _ Ledger = (*AssetToken)(nil)

// Registry maps asset addresses to their token ledgers.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*AssetToken
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*AssetToken)}
}

// Register adds a token. Returns error if the address is already taken.
func (r *Registry) Register(t *AssetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[t.Address()]; exists {
		return fmt.Errorf("token %s already registered", t.Address().Hex())
	}
	r.tokens[t.Address()] = t
	return nil
}

// Lookup returns the ledger for an asset address.
func (r *Registry) Lookup(asset common.Address) (Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[asset]
	return t, ok
}

// Token returns the concrete token (for mint/approve in tooling and tests).
func (r *Registry) Token(asset common.Address) (*AssetToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[asset]
	return t, ok
}

// List returns all registered tokens.
func (r *Registry) List() []*AssetToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AssetToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}
