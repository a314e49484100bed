package query

import (
	"time"

	"github.com/google/uuid"
)

// CollateralBalance is one asset's deposited balance within an account.
// Amounts are decimal strings: native units for Amount, 18-decimal value
// units for Value.
type CollateralBalance struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
	Value   string `json:"value"`
}

// AccountResponse is the full live view of one user's position.
type AccountResponse struct {
	UserID       uuid.UUID           `json:"user_id"`
	Collateral   []CollateralBalance `json:"collateral"`
	Debt         string              `json:"debt"`
	AccountValue string              `json:"account_value"`
	HealthFactor string              `json:"health_factor"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// AssetInfo describes one approved collateral asset and its current price
// (8-decimal scaled decimal string; empty when the oracle is unavailable).
type AssetInfo struct {
	AssetID  string `json:"asset_id"`
	Decimals uint8  `json:"decimals"`
	Price    string `json:"price,omitempty"`
}

// ConversionResponse is the result of a value/native conversion at the
// current oracle price.
type ConversionResponse struct {
	AssetID string `json:"asset_id"`
	Input   string `json:"input"`
	Output  string `json:"output"`
}

// OperationEntry is one row of the user's operation history.
type OperationEntry struct {
	Sequence    int64     `json:"sequence"`
	RecordID    string    `json:"record_id"`
	RecordType  string    `json:"record_type"`
	UserID      string    `json:"user_id"`
	CallerID    string    `json:"caller_id"`
	AssetID     *string   `json:"asset_id,omitempty"`
	Amount      *string   `json:"amount,omitempty"`
	DebtCovered *string   `json:"debt_covered,omitempty"`
	TotalSeized *string   `json:"total_seized,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// LiquidationEntry is one row of liquidation history.
type LiquidationEntry struct {
	Sequence     int64     `json:"sequence"`
	RecordID     string    `json:"record_id"`
	UserID       string    `json:"user_id"`
	LiquidatorID string    `json:"liquidator_id"`
	AssetID      string    `json:"asset_id"`
	DebtCovered  string    `json:"debt_covered"`
	TotalSeized  string    `json:"total_seized"`
	CommittedAt  time.Time `json:"committed_at"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
