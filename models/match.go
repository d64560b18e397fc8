package models

import (
	"time"

	"gorm.io/gorm"
)

// NativeToken is the sentinel token identifier for native-asset matches.
// Anything else is treated as a token contract address handled by the
// treasury service.
const NativeToken = "native"

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchStatusOpen      MatchStatus = "open"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusFinalized MatchStatus = "finalized"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match is the registry record for a staked match. IDs are auto-increment
// and never reused; a hard-deleted match (last player withdrew, or archived)
// leaves a permanent gap in the sequence.
type Match struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Token       string      `gorm:"type:varchar(128);not null;index" json:"token"`
	StakeAmount int64       `gorm:"not null" json:"stake_amount"` // per-player, atomic units, immutable
	MaxPlayers  int         `gorm:"not null" json:"max_players"`
	Status      MatchStatus `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	Winner      *string     `gorm:"type:varchar(128)" json:"winner,omitempty"` // set on finalize only
	CreatedBy   string      `gorm:"type:varchar(128);not null;index" json:"created_by"`

	// Relationships
	Players   []MatchPlayer   `json:"players,omitempty" gorm:"foreignKey:MatchID"`
	FeeShares []MatchFeeShare `json:"fee_shares,omitempty" gorm:"foreignKey:MatchID"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// MatchPlayer is the stake ledger: one row per (match, player) holding the
// amount that player has locked. Amount equals the match StakeAmount from
// deposit until settlement zeroes it or withdrawal deletes the row.
type MatchPlayer struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID       uint64    `gorm:"not null;uniqueIndex:idx_match_player" json:"match_id"`
	PlayerAddress string    `gorm:"type:varchar(128);not null;index;uniqueIndex:idx_match_player" json:"player_address"`
	Amount        int64     `gorm:"not null" json:"amount"`
	JoinOrder     int       `gorm:"not null" json:"join_order"` // 0 = creator
	DepositRef    string    `gorm:"type:varchar(128)" json:"deposit_ref,omitempty"`
	JoinedAt      time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// MatchFeeShare is the fee configuration snapshot taken at match creation.
// Finalize reads only these rows, so an admin fee change after creation never
// applies to an in-flight match.
type MatchFeeShare struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID   uint64 `gorm:"not null;index" json:"match_id"`
	Recipient string `gorm:"type:varchar(128);not null" json:"recipient"`
	ShareBps  int64  `gorm:"not null" json:"share_bps"`
	SortOrder int    `gorm:"not null;default:0" json:"sort_order"`
}

// Event types emitted on every transition, consumed by off-chain indexers
// and the SSE stream.
const (
	EventMatchCreated   = "MatchCreated"
	EventPlayerJoined   = "PlayerJoined"
	EventPlayerWithdrew = "PlayerWithdrew"
	EventMatchActivated = "MatchActivated"
	EventMatchFinalized = "MatchFinalized"
	EventMatchCancelled = "MatchCancelled"
	EventFeesConfigured = "FeesConfigured"
	EventFeesWithdrawn  = "FeesWithdrawn"
)

// MatchEvent is an append-only notification row written in the same
// transaction as the transition it describes.
type MatchEvent struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID   *uint64   `gorm:"index" json:"match_id,omitempty"` // nil for contract-level events (FeesConfigured)
	Type      string    `gorm:"type:varchar(32);not null;index" json:"type"`
	Payload   string    `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
