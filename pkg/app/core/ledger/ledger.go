// Package ledger tracks engine-custodied balances per (asset, owner).
// Deposits pull value in across the custody boundary through the external
// token ledger capability; withdrawals push it back out. Internal credits and
// debits (escrow, settlement) never touch the external ledger.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/token"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExternalTransfer  = errors.New("external transfer failed")
)

// Lookup resolves an asset address to its external token ledger.
type Lookup interface {
	Lookup(asset common.Address) (token.Ledger, bool)
}

// Totals carries cumulative custody flow for one asset, used by the
// conservation check.
type Totals struct {
	Deposited *big.Int `json:"deposited"`
	Withdrawn *big.Int `json:"withdrawn"`
}

// Ledger is the custody balance store. Not internally locked: the engine
// serializes every state-changing operation.
type Ledger struct {
	tokens  Lookup
	custody common.Address // address holding pulled funds on the external ledger

	balances map[common.Address]map[common.Address]*big.Int // asset -> owner -> amount
	totals   map[common.Address]*Totals                     // asset -> cumulative flow
}

func New(tokens Lookup, custody common.Address) *Ledger {
	return &Ledger{
		tokens:   tokens,
		custody:  custody,
		balances: make(map[common.Address]map[common.Address]*big.Int),
		totals:   make(map[common.Address]*Totals),
	}
}

// Custody returns the address the ledger custodies external funds under.
func (l *Ledger) Custody() common.Address { return l.custody }

// Deposit pulls amount of asset from owner's external account into custody
// and credits the internal balance. The pull is allowance-gated; on failure
// nothing changes.
func (l *Ledger) Deposit(asset, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	tok, ok := l.tokens.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrExternalTransfer, asset.Hex(), token.ErrUnknownToken)
	}
	if err := tok.TransferFrom(l.custody, owner, l.custody, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientAllowance) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrExternalTransfer, err)
	}

	l.Credit(asset, owner, amount)
	l.assetTotals(asset).Deposited.Add(l.assetTotals(asset).Deposited, amount)
	return nil
}

// Withdraw debits owner's internal balance and pushes amount back out on the
// external ledger. Debit and push commit together or not at all.
func (l *Ledger) Withdraw(asset, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("withdraw amount must be positive")
	}

	tok, ok := l.tokens.Lookup(asset)
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrExternalTransfer, asset.Hex(), token.ErrUnknownToken)
	}
	if err := l.Debit(asset, owner, amount); err != nil {
		return err
	}
	if err := tok.Transfer(l.custody, owner, amount); err != nil {
		// Undo the debit so the failed operation leaves no trace.
		l.Credit(asset, owner, amount)
		return fmt.Errorf("%w: %w", ErrExternalTransfer, err)
	}

	l.assetTotals(asset).Withdrawn.Add(l.assetTotals(asset).Withdrawn, amount)
	return nil
}

// BalanceOf reports owner's available balance. Never fails; unseen pairs
// are zero.
func (l *Ledger) BalanceOf(asset, owner common.Address) *big.Int {
	if owners, ok := l.balances[asset]; ok {
		if b, ok := owners[owner]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

// Credit adds amount to owner's available balance. Internal movement only.
func (l *Ledger) Credit(asset, owner common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	owners := l.balances[asset]
	if owners == nil {
		owners = make(map[common.Address]*big.Int)
		l.balances[asset] = owners
	}
	if b, ok := owners[owner]; ok {
		b.Add(b, amount)
		return
	}
	owners[owner] = new(big.Int).Set(amount)
}

// Debit removes amount from owner's available balance, failing without any
// change if the balance is short. Balances can never go negative.
func (l *Ledger) Debit(asset, owner common.Address, amount *big.Int) error {
	owners := l.balances[asset]
	var bal *big.Int
	if owners != nil {
		bal = owners[owner]
	}
	if bal == nil || bal.Cmp(amount) < 0 {
		have := "0"
		if bal != nil {
			have = bal.String()
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, have, amount.String())
	}
	bal.Sub(bal, amount)
	return nil
}

// AssetTotals returns cumulative deposited/withdrawn amounts for asset.
func (l *Ledger) AssetTotals(asset common.Address) Totals {
	t := l.assetTotals(asset)
	return Totals{
		Deposited: new(big.Int).Set(t.Deposited),
		Withdrawn: new(big.Int).Set(t.Withdrawn),
	}
}

func (l *Ledger) assetTotals(asset common.Address) *Totals {
	t, ok := l.totals[asset]
	if !ok {
		t = &Totals{Deposited: new(big.Int), Withdrawn: new(big.Int)}
		l.totals[asset] = t
	}
	return t
}

// BalancesForAsset returns a copy of every owner balance for asset.
func (l *Ledger) BalancesForAsset(asset common.Address) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int)
	for owner, b := range l.balances[asset] {
		out[owner] = new(big.Int).Set(b)
	}
	return out
}

// Assets returns every asset the ledger has seen, sorted for deterministic
// iteration (state hashing, persistence).
func (l *Ledger) Assets() []common.Address {
	seen := make(map[common.Address]struct{}, len(l.balances)+len(l.totals))
	for a := range l.balances {
		seen[a] = struct{}{}
	}
	for a := range l.totals {
		seen[a] = struct{}{}
	}
	out := make([]common.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Restore overwrites one balance entry. Used when reloading persisted state.
func (l *Ledger) Restore(asset, owner common.Address, amount *big.Int) {
	owners := l.balances[asset]
	if owners == nil {
		owners = make(map[common.Address]*big.Int)
		l.balances[asset] = owners
	}
	owners[owner] = new(big.Int).Set(amount)
}

// RestoreTotals overwrites the cumulative flow for one asset on reload.
func (l *Ledger) RestoreTotals(asset common.Address, deposited, withdrawn *big.Int) {
	l.totals[asset] = &Totals{
		Deposited: new(big.Int).Set(deposited),
		Withdrawn: new(big.Int).Set(withdrawn),
	}
}
