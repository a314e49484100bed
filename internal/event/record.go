package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// RecordType discriminator for operation records
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeDeposit
	RecordTypeMint
	RecordTypeBurn
	RecordTypeRedeem
	RecordTypeLiquidation
)

// Record is one committed vault operation as appended to the operation log.
// Sequence is the global monotonic position assigned by the engine; the
// StateHash/PrevHash pair chains each record to the full ledger state after
// it applied.
type Record struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Unique record identity, stable across replays
	RecordID uuid.UUID

	// Record type discriminator
	Type RecordType

	// Account the operation applied to
	User uuid.UUID

	// Initiator; differs from User only for liquidations
	Caller uuid.UUID

	// Collateral asset context (empty for pure mint/burn)
	AssetID string

	// Native collateral amount moved (nil when not applicable)
	Amount *big.Int

	// Synthetic amount minted, burned, or covered (nil when not applicable)
	DebtCovered *big.Int

	// Total collateral seized including bonus (liquidations only)
	TotalSeized *big.Int

	// SHA-256 of ledger state AFTER applying this record
	StateHash [32]byte

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte

	// Commit timestamp
	Timestamp time.Time
}

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeDeposit:
		return "Deposit"
	case RecordTypeMint:
		return "Mint"
	case RecordTypeBurn:
		return "Burn"
	case RecordTypeRedeem:
		return "Redeem"
	case RecordTypeLiquidation:
		return "Liquidation"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject suffix used when publishing the record.
func (rt RecordType) Subject() string {
	switch rt {
	case RecordTypeDeposit:
		return "deposit"
	case RecordTypeMint:
		return "mint"
	case RecordTypeBurn:
		return "burn"
	case RecordTypeRedeem:
		return "redeem"
	case RecordTypeLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}
