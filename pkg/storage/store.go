// Package storage persists engine state in Pebble and keeps the append-only
// event journal. Each committed operation writes one atomic batch; a node
// restart reloads the full ledger and book from the last committed batch.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// persistedTotals is the JSON shape under tot: keys.
type persistedTotals struct {
	Deposited *big.Int `json:"deposited"`
	Withdrawn *big.Int `json:"withdrawn"`
}

// Snapshot is the full persisted engine state.
type Snapshot struct {
	Balances map[common.Address]map[common.Address]*big.Int
	Totals   map[common.Address]TotalsEntry
	Orders   []*book.Order
	NextID   uint64
	TradeSeq uint64
}

type TotalsEntry struct {
	Deposited *big.Int
	Withdrawn *big.Int
}

// Load reads the whole snapshot. An empty database yields an empty snapshot.
func (s *Store) Load() (*Snapshot, error) {
	snap := &Snapshot{
		Balances: make(map[common.Address]map[common.Address]*big.Int),
		Totals:   make(map[common.Address]TotalsEntry),
	}

	if err := s.scan(prefixBalance, func(key, val []byte) error {
		asset, owner, err := balanceKeyFromBytes(key)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(string(val), 10)
		if !ok {
			return fmt.Errorf("malformed balance value for %q: %q", key, val)
		}
		owners := snap.Balances[asset]
		if owners == nil {
			owners = make(map[common.Address]*big.Int)
			snap.Balances[asset] = owners
		}
		owners[owner] = amount
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixTotals, func(key, val []byte) error {
		asset, err := totalsKeyFromBytes(key)
		if err != nil {
			return err
		}
		var t persistedTotals
		if err := json.Unmarshal(val, &t); err != nil {
			return fmt.Errorf("unmarshal totals for %q: %w", key, err)
		}
		snap.Totals[asset] = TotalsEntry{Deposited: t.Deposited, Withdrawn: t.Withdrawn}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixOrder, func(key, val []byte) error {
		var o book.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("unmarshal order for %q: %w", key, err)
		}
		snap.Orders = append(snap.Orders, &o)
		return nil
	}); err != nil {
		return nil, err
	}

	var err error
	if snap.NextID, err = s.counter(keyNextID); err != nil {
		return nil, err
	}
	if snap.TradeSeq, err = s.counter(keyTradeSeq); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) scan(prefix string, fn func(key, val []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) counter(key string) (uint64, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("malformed counter %s: %d bytes", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// TradesAfter returns up to limit persisted trades with seq > after, oldest
// first.
func (s *Store) TradesAfter(after uint64, limit int) ([]events.TradeExecuted, error) {
	var out []events.TradeExecuted
	err := s.scan(prefixTrade, func(key, val []byte) error {
		if limit > 0 && len(out) >= limit {
			return nil
		}
		var seq uint64
		if _, err := fmt.Sscanf(string(key), prefixTrade+"%d", &seq); err != nil {
			return fmt.Errorf("malformed trade key %q: %w", key, err)
		}
		if seq <= after {
			return nil
		}
		var ev events.TradeExecuted
		if err := json.Unmarshal(val, &ev); err != nil {
			return fmt.Errorf("unmarshal trade %d: %w", seq, err)
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// Batch accumulates the writes of one committed operation. Errors from
// marshalling are deferred to Commit so call sites stay linear.
type Batch struct {
	batch *pebble.Batch
	err   error
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) PutBalance(asset, owner common.Address, amount *big.Int) {
	if b.err != nil {
		return
	}
	b.err = b.batch.Set(balanceKey(asset, owner), []byte(amount.String()), nil)
}

func (b *Batch) PutTotals(asset common.Address, deposited, withdrawn *big.Int) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(persistedTotals{Deposited: deposited, Withdrawn: withdrawn})
	if err != nil {
		b.err = err
		return
	}
	b.err = b.batch.Set(totalsKey(asset), data, nil)
}

func (b *Batch) PutOrder(o *book.Order) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		b.err = err
		return
	}
	b.err = b.batch.Set(orderKey(o.ID), data, nil)
}

func (b *Batch) PutNextID(n uint64) {
	if b.err != nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	b.err = b.batch.Set([]byte(keyNextID), buf[:], nil)
}

func (b *Batch) PutTradeSeq(n uint64) {
	if b.err != nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	b.err = b.batch.Set([]byte(keyTradeSeq), buf[:], nil)
}

func (b *Batch) PutTrade(seq uint64, ev events.TradeExecuted) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.err = err
		return
	}
	b.err = b.batch.Set(tradeKey(seq), data, nil)
}

// Commit writes the batch atomically and synced.
func (b *Batch) Commit() error {
	if b.err != nil {
		b.batch.Close()
		return b.err
	}
	return b.batch.Commit(pebble.Sync)
}
