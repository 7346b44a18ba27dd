package dex

import (
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// StateHash computes a deterministic keccak-256 commitment over the whole
// engine state: every balance (assets and owners in sorted order), the
// cumulative custody totals, and every order in id order. Two engines that
// replayed the same operations produce the same hash.
func (e *Engine) StateHash() common.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	for _, asset := range e.ledger.Assets() {
		h.Write(asset.Bytes())

		balances := e.ledger.BalancesForAsset(asset)
		owners := make([]common.Address, 0, len(balances))
		for owner := range balances {
			owners = append(owners, owner)
		}
		sort.Slice(owners, func(i, j int) bool { return owners[i].Cmp(owners[j]) < 0 })
		for _, owner := range owners {
			h.Write(owner.Bytes())
			writeBig(h, balances[owner].Bytes())
		}

		totals := e.ledger.AssetTotals(asset)
		writeBig(h, totals.Deposited.Bytes())
		writeBig(h, totals.Withdrawn.Bytes())
	}

	for _, o := range e.book.All() {
		binary.BigEndian.PutUint64(buf[:], o.ID)
		h.Write(buf[:])
		h.Write(o.Trader.Bytes())
		if o.IsBuy {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		h.Write(o.BuyToken.Bytes())
		h.Write(o.SellToken.Bytes())
		writeBig(h, o.Amount.Bytes())
		writeBig(h, o.Price.Bytes())
		writeBig(h, o.Escrow.Bytes())
		h.Write([]byte{byte(o.Status)})
	}

	return common.BytesToHash(h.Sum(nil))
}

// writeBig length-prefixes variable-width big.Int bytes so adjacent fields
// cannot alias under concatenation.
func writeBig(h interface{ Write([]byte) (int, error) }, b []byte) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(b)))
	h.Write(n[:])
	h.Write(b)
}
