package storage

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
//
//	bal:{asset}:{owner}   balance entry (decimal string value)
//	tot:{asset}           cumulative deposited/withdrawn (JSON)
//	ord:{id}              order (JSON); id zero-padded for id-ordered scans
//	trade:{seq}           executed trade (JSON), seq zero-padded
//	meta:nextid           order id counter (8-byte big-endian)
//	meta:tradeseq         trade sequence counter (8-byte big-endian)
const (
	prefixBalance = "bal:"
	prefixTotals  = "tot:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	keyNextID     = "meta:nextid"
	keyTradeSeq   = "meta:tradeseq"
)

func balanceKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), owner.Hex()))
}

// balanceKeyFromBytes is the inverse of balanceKey, used when scanning.
func balanceKeyFromBytes(key []byte) (asset, owner common.Address, err error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key: %q", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

func totalsKey(asset common.Address) []byte {
	return []byte(prefixTotals + asset.Hex())
}

func totalsKeyFromBytes(key []byte) (common.Address, error) {
	rest := strings.TrimPrefix(string(key), prefixTotals)
	if !common.IsHexAddress(rest) {
		return common.Address{}, fmt.Errorf("malformed totals key: %q", key)
	}
	return common.HexToAddress(rest), nil
}

// orderKey zero-pads the id to 20 digits so lexicographic iteration is id
// order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
