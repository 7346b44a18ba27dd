package storage

import (
	"fmt"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/book"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
)

var (
	tka   = common.HexToAddress("0x0100000000000000000000000000000000000000")
	tkb   = common.HexToAddress("0x0200000000000000000000000000000000000000")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// newTestStore opens a store under a per-test path and cleans it up.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(path)
	t.Cleanup(func() { os.RemoveAll(path) })

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmptySnapshot(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Balances) != 0 || len(snap.Orders) != 0 || snap.NextID != 0 || snap.TradeSeq != 0 {
		t.Errorf("empty db produced non-empty snapshot: %+v", snap)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	o := &book.Order{
		ID:        0,
		Trader:    alice,
		IsBuy:     true,
		BuyToken:  tka,
		SellToken: tkb,
		Amount:    wad(10),
		Price:     wad(2),
		Escrow:    wad(20),
		Status:    book.StatusPartiallyFilled,
	}

	b := s.NewBatch()
	b.PutBalance(tkb, alice, wad(80))
	b.PutBalance(tka, bob, wad(4))
	b.PutTotals(tkb, wad(100), wad(0))
	b.PutOrder(o)
	b.PutNextID(1)
	b.PutTrade(1, events.TradeExecuted{BuyOrderID: 0, SellOrderID: 3, Amount: wad(4), Price: wad(2)})
	b.PutTradeSeq(1)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := snap.Balances[tkb][alice]; got == nil || got.Cmp(wad(80)) != 0 {
		t.Errorf("alice tkb balance = %v, want %s", got, wad(80))
	}
	if got := snap.Balances[tka][bob]; got == nil || got.Cmp(wad(4)) != 0 {
		t.Errorf("bob tka balance = %v, want %s", got, wad(4))
	}
	if tot, ok := snap.Totals[tkb]; !ok || tot.Deposited.Cmp(wad(100)) != 0 {
		t.Errorf("tkb totals = %+v, want deposited %s", tot, wad(100))
	}
	if snap.NextID != 1 || snap.TradeSeq != 1 {
		t.Errorf("counters = %d/%d, want 1/1", snap.NextID, snap.TradeSeq)
	}

	if len(snap.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(snap.Orders))
	}
	got := snap.Orders[0]
	if got.ID != 0 || got.Trader != alice || !got.IsBuy ||
		got.Amount.Cmp(wad(10)) != 0 || got.Price.Cmp(wad(2)) != 0 ||
		got.Escrow.Cmp(wad(20)) != 0 || got.Status != book.StatusPartiallyFilled {
		t.Errorf("order round trip mismatch: %+v", got)
	}
}

func TestOverwriteKeepsLatest(t *testing.T) {
	s := newTestStore(t)

	for i := int64(1); i <= 3; i++ {
		b := s.NewBatch()
		b.PutBalance(tka, alice, wad(i*10))
		if err := b.Commit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := snap.Balances[tka][alice]; got == nil || got.Cmp(wad(30)) != 0 {
		t.Errorf("balance = %v, want %s", got, wad(30))
	}
}

func TestTradesAfter(t *testing.T) {
	s := newTestStore(t)

	for seq := uint64(1); seq <= 5; seq++ {
		b := s.NewBatch()
		b.PutTrade(seq, events.TradeExecuted{BuyOrderID: seq, SellOrderID: seq + 100, Amount: wad(1), Price: wad(2)})
		b.PutTradeSeq(seq)
		if err := b.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	trades, err := s.TradesAfter(2, 2)
	if err != nil {
		t.Fatalf("trades after: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].BuyOrderID != 3 || trades[1].BuyOrderID != 4 {
		t.Errorf("trade order ids = %d,%d, want 3,4", trades[0].BuyOrderID, trades[1].BuyOrderID)
	}
}
