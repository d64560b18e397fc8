package models

import "time"

// SettlementRecord is the audit row written when a match finalizes or is
// cancelled. It survives registry pruning — the match row may be archived
// away, the settlement never is (pending balances hang off it).
type SettlementRecord struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID      uint64  `gorm:"not null;uniqueIndex" json:"match_id"`
	Token        string  `gorm:"type:varchar(128);not null" json:"token"`
	Winner       string  `gorm:"type:varchar(128)" json:"winner,omitempty"` // empty for cancellations
	Losers       string  `gorm:"type:jsonb" json:"losers"`                  // JSON array of player addresses
	TotalPrize   int64   `gorm:"not null" json:"total_prize"`
	WinnerAmount int64   `gorm:"not null" json:"winner_amount"`
	FeeTotal     int64   `gorm:"not null" json:"fee_total"`
	FeeBreakdown string  `gorm:"type:jsonb" json:"fee_breakdown"` // [{recipient, share_bps, amount}]
	Cancelled    bool    `gorm:"not null;default:false" json:"cancelled"`

	// Result-recorder bookkeeping: nil until the scoreboard callback got
	// through; the worker retries every tick while it stays nil.
	RecordedAt *time.Time `gorm:"index" json:"recorded_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TransferKind classifies a journal entry in the escrow transfer log.
type TransferKind string

const (
	TransferDeposit       TransferKind = "deposit"
	TransferRefund        TransferKind = "refund"
	TransferWinnerPayout  TransferKind = "winner_payout"
	TransferFeeCredit     TransferKind = "fee_credit"     // pending balance increment, no funds moved yet
	TransferFeeWithdrawal TransferKind = "fee_withdrawal" // pending balance pulled out
)

// EscrowTransfer journals every asset movement through escrow custody,
// written in the same transaction as the movement itself.
type EscrowTransfer struct {
	ID           string       `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID      *uint64      `gorm:"index" json:"match_id,omitempty"` // nil for fee withdrawals
	Kind         TransferKind `gorm:"type:varchar(24);not null;index" json:"kind"`
	Token        string       `gorm:"type:varchar(128);not null" json:"token"`
	Counterparty string       `gorm:"type:varchar(128);not null;index" json:"counterparty"`
	Amount       int64        `gorm:"not null" json:"amount"`
	Reference    string       `gorm:"type:varchar(128)" json:"reference,omitempty"` // treasury tx ref / deposit ref
	CreatedAt    time.Time    `json:"created_at" gorm:"autoCreateTime"`
}
