package ledger

import (
	"fmt"
	"strings"
)

// Entity ids are derived deterministically from chain addresses and event
// coordinates. Addresses are normalized to lower-case hex so the same
// address always derives the same id regardless of checksum casing.

// NormalizeAddress lower-cases a hex address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// AccountID derives an account id from a user address.
func AccountID(addr string) string {
	return NormalizeAddress(addr)
}

// PoolID derives a pool id from a market address.
func PoolID(addr string) string {
	return NormalizeAddress(addr)
}

// TokenID derives a token id from a token address.
func TokenID(addr string) string {
	return NormalizeAddress(addr)
}

// CounterKey derives the position-counter key for an (account, pool) pair.
func CounterKey(accountID, poolID string) string {
	return accountID + "-" + poolID
}

// PositionID combines a counter key with a sequence number. The sequence
// guarantees successive occupancies of the same slot never collide.
func PositionID(counterKey string, seq int32) string {
	return fmt.Sprintf("%s-%d", counterKey, seq)
}

// FundingRateID derives the id of one funding snapshot in a pool's history.
func FundingRateID(poolID string, index int64) string {
	return fmt.Sprintf("%s-%d", poolID, index)
}

// PositionSnapshotID keys an audit snapshot by (position, tx hash, tx
// index); repeated mutations within one transaction collapse onto the
// same snapshot, leaving the final state of that transaction.
func PositionSnapshotID(positionID, txHash string, txIndex int64) string {
	return fmt.Sprintf("%s%s%d", positionID, txHash, txIndex)
}

// CollateralFlowID keys a collateral-flow record by its emitting log.
func CollateralFlowID(txHash string, logIndex int64, kind string) string {
	return fmt.Sprintf("%s-%d-%s", txHash, logIndex, kind)
}
