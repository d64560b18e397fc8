package models

import "time"

// BpsDenominator is the basis-point base: 10000 bps = 100%.
const BpsDenominator = 10000

// FeeRecipient is the contract-level fee configuration, owner-managed.
// It applies only to matches created after the last update — every match
// carries its own MatchFeeShare snapshot (see models/match.go).
type FeeRecipient struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Address   string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"`
	ShareBps  int64     `gorm:"not null" json:"share_bps"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// PendingBalance is the pull-based fee accumulator per (recipient, token).
// Only settlement increases it; only the recipient's own withdrawal zeroes
// it. Never negative.
type PendingBalance struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Recipient string    `gorm:"type:varchar(128);not null;index;uniqueIndex:idx_recipient_token" json:"recipient"`
	Token     string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_recipient_token" json:"token"`
	Amount    int64     `gorm:"not null;default:0" json:"amount"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// EngineSetting is a durable key/value for the owner-tunable engine knobs
// (currently only max_active_matches).
type EngineSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:varchar(256);not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// SettingMaxActiveMatches caps how many open+active matches may exist at
// once. "0" = uncapped.
const SettingMaxActiveMatches = "max_active_matches"
