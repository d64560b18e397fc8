package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"

	"match-escrow-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine guard errors. Handlers map these to HTTP statuses; tests assert on
// them directly.
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchNotOpen      = errors.New("match is not open")
	ErrMatchNotActive    = errors.New("match is not active")
	ErrMatchFull         = errors.New("match is full")
	ErrAlreadyJoined     = errors.New("player already joined this match")
	ErrNotAPlayer        = errors.New("caller is not a player in this match")
	ErrNotController     = errors.New("caller is not the match controller")
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrWinnerNotPlayer   = errors.New("declared winner is not a player in this match")
	ErrNotEnoughPlayers  = errors.New("match needs at least 2 players to activate")
	ErrCapacityReached   = errors.New("active match capacity reached")
	ErrInvalidStake      = errors.New("stake_amount must be > 0")
	ErrInvalidMaxPlayers = errors.New("max_players must be >= 2")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
)

// EscrowEngine owns the match registry, the stake ledger and the pending fee
// balances. Every state-changing call runs its guard-check-then-mutate
// sequence under a per-match mutex plus a SELECT ... FOR UPDATE transaction,
// so capacity races, join/withdraw races and double-finalize attempts cannot
// interleave. Create additionally holds createMu so the active-match-cap
// count and the insert are one atomic step.
type EscrowEngine struct {
	DB       *gorm.DB
	Treasury TreasuryClient

	// Authorized identities, checked as explicit caller parameters.
	ControllerAddress string
	OwnerAddress      string

	createMu sync.Mutex
	matchMu  sync.Map // matchID -> *sync.Mutex
}

func NewEscrowEngine(db *gorm.DB, treasury TreasuryClient, controller, owner string) *EscrowEngine {
	return &EscrowEngine{
		DB:                db,
		Treasury:          treasury,
		ControllerAddress: controller,
		OwnerAddress:      owner,
	}
}

func (e *EscrowEngine) lockMatch(matchID uint64) func() {
	mu, _ := e.matchMu.LoadOrStore(matchID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// forgetMatchLock drops a match's mutex once the match is terminal or gone.
// Any later transition attempt gets a fresh mutex but fails its status guard
// under the row lock, so the map only ever holds live matches.
func (e *EscrowEngine) forgetMatchLock(matchID uint64) {
	e.matchMu.Delete(matchID)
}

// refundRef derives the treasury idempotency key for returning a player's
// stake. Deterministic per (match, player): a retried cancel or withdraw
// re-sends the same key and the treasury dedupes the transfer.
func refundRef(matchID uint64, player string) string {
	return fmt.Sprintf("refund-%d-%s", matchID, player)
}

// ── Pure guard predicates ────────────────────────────────────────────────

func guardCreate(stakeAmount int64, maxPlayers int) error {
	if stakeAmount <= 0 {
		return ErrInvalidStake
	}
	if maxPlayers < 2 {
		return ErrInvalidMaxPlayers
	}
	return nil
}

func guardJoin(m *models.Match, caller string) error {
	if m.Status != models.MatchStatusOpen {
		return ErrMatchNotOpen
	}
	for _, p := range m.Players {
		if p.PlayerAddress == caller {
			return ErrAlreadyJoined
		}
	}
	if len(m.Players) >= m.MaxPlayers {
		return ErrMatchFull
	}
	return nil
}

func guardWithdraw(m *models.Match, caller string) (*models.MatchPlayer, error) {
	if m.Status != models.MatchStatusOpen {
		return nil, ErrMatchNotOpen
	}
	for i := range m.Players {
		if m.Players[i].PlayerAddress == caller {
			return &m.Players[i], nil
		}
	}
	return nil, ErrNotAPlayer
}

func (e *EscrowEngine) guardController(caller string) error {
	if caller != e.ControllerAddress {
		return ErrNotController
	}
	return nil
}

func (e *EscrowEngine) guardOwner(caller string) error {
	if caller != e.OwnerAddress {
		return ErrNotOwner
	}
	return nil
}

func guardActivate(m *models.Match) error {
	if m.Status != models.MatchStatusOpen {
		return ErrMatchNotOpen
	}
	if len(m.Players) < 2 {
		return ErrNotEnoughPlayers
	}
	return nil
}

func guardFinalize(m *models.Match, winner string) error {
	if m.Status != models.MatchStatusActive {
		return ErrMatchNotActive
	}
	for _, p := range m.Players {
		if p.PlayerAddress == winner {
			return nil
		}
	}
	return ErrWinnerNotPlayer
}

// totalPrize computes stakeAmount * playerCount with an explicit overflow
// guard; settlement math must never wrap.
func totalPrize(stakeAmount int64, playerCount int) (int64, error) {
	if playerCount == 0 {
		return 0, nil
	}
	if stakeAmount > math.MaxInt64/int64(playerCount) {
		return 0, fmt.Errorf("total prize overflows int64 (stake=%d, players=%d)", stakeAmount, playerCount)
	}
	return stakeAmount * int64(playerCount), nil
}

// ── Transitions ──────────────────────────────────────────────────────────

// CreateMatch allocates a registry entry with the caller auto-joined as the
// first player and their stake collected. The fee configuration in force
// right now is snapshotted onto the match.
func (e *EscrowEngine) CreateMatch(ctx context.Context, caller, token string, stakeAmount int64, maxPlayers int, depositRef string) (*models.Match, error) {
	if err := guardCreate(stakeAmount, maxPlayers); err != nil {
		return nil, err
	}
	if token == "" {
		token = models.NativeToken
	}

	// createMu makes the cap count + insert atomic across concurrent creates.
	e.createMu.Lock()
	defer e.createMu.Unlock()

	match := &models.Match{
		Token:       token,
		StakeAmount: stakeAmount,
		MaxPlayers:  maxPlayers,
		Status:      models.MatchStatusOpen,
		CreatedBy:   caller,
	}

	err := e.DB.Transaction(func(tx *gorm.DB) error {
		cap, err := e.maxActiveMatches(tx)
		if err != nil {
			return err
		}
		if cap > 0 {
			var active int64
			if err := tx.Model(&models.Match{}).
				Where("status IN ?", []models.MatchStatus{models.MatchStatusOpen, models.MatchStatusActive}).
				Count(&active).Error; err != nil {
				return err
			}
			if active >= cap {
				return ErrCapacityReached
			}
		}

		if err := tx.Omit("Players", "FeeShares").Create(match).Error; err != nil {
			return err
		}

		// Snapshot the current fee configuration onto the match.
		var recipients []models.FeeRecipient
		if err := tx.Order("sort_order ASC").Find(&recipients).Error; err != nil {
			return err
		}
		for i, r := range recipients {
			share := models.MatchFeeShare{
				ID:        uuid.NewString(),
				MatchID:   match.ID,
				Recipient: r.Address,
				ShareBps:  r.ShareBps,
				SortOrder: i,
			}
			if err := tx.Create(&share).Error; err != nil {
				return err
			}
			match.FeeShares = append(match.FeeShares, share)
		}

		creator := models.MatchPlayer{
			ID:            uuid.NewString(),
			MatchID:       match.ID,
			PlayerAddress: caller,
			Amount:        stakeAmount,
			JoinOrder:     0,
			DepositRef:    depositRef,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return err
		}
		match.Players = []models.MatchPlayer{creator}

		if err := e.emitEvent(tx, &match.ID, models.EventMatchCreated, eventPayload{
			"match_id":     match.ID,
			"creator":      caller,
			"token":        token,
			"stake_amount": stakeAmount,
			"max_players":  maxPlayers,
		}); err != nil {
			return err
		}

		// Custody last: a failed deposit rolls the whole creation back and
		// the registry never sees the match.
		txRef, err := e.Treasury.CollectDeposit(ctx, caller, token, stakeAmount, depositRef)
		if err != nil {
			return fmt.Errorf("stake deposit failed: %w", err)
		}
		return e.journal(tx, &match.ID, models.TransferDeposit, token, caller, stakeAmount, txRef)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🎮 Match #%d created by %s (stake=%d %s, max_players=%d)", match.ID, caller, stakeAmount, token, maxPlayers)
	return match, nil
}

// JoinMatch adds the caller to an open match and collects their stake. The
// capacity guard and the insert run under the match lock + row lock, so two
// joins can never both squeeze into the last slot.
func (e *EscrowEngine) JoinMatch(ctx context.Context, caller string, matchID uint64, depositRef string) (*models.Match, error) {
	unlock := e.lockMatch(matchID)
	defer unlock()

	var match models.Match
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		if err := e.loadMatchForUpdate(tx, matchID, &match); err != nil {
			return err
		}
		if err := guardJoin(&match, caller); err != nil {
			return err
		}

		player := models.MatchPlayer{
			ID:            uuid.NewString(),
			MatchID:       match.ID,
			PlayerAddress: caller,
			Amount:        match.StakeAmount,
			JoinOrder:     len(match.Players),
			DepositRef:    depositRef,
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}
		match.Players = append(match.Players, player)

		if err := e.emitEvent(tx, &match.ID, models.EventPlayerJoined, eventPayload{
			"match_id": match.ID,
			"player":   caller,
			"amount":   match.StakeAmount,
			"players":  len(match.Players),
		}); err != nil {
			return err
		}

		txRef, err := e.Treasury.CollectDeposit(ctx, caller, match.Token, match.StakeAmount, depositRef)
		if err != nil {
			return fmt.Errorf("stake deposit failed: %w", err)
		}
		return e.journal(tx, &match.ID, models.TransferDeposit, match.Token, caller, match.StakeAmount, txRef)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Player %s joined match #%d (%d/%d)", caller, matchID, len(match.Players), match.MaxPlayers)
	return &match, nil
}

// WithdrawFromMatch refunds the caller's stake and removes them from an open
// match. If the last player leaves, the match is deleted from the registry
// entirely and its active-index slot freed. Returns true when the match was
// removed.
func (e *EscrowEngine) WithdrawFromMatch(ctx context.Context, caller string, matchID uint64) (bool, error) {
	unlock := e.lockMatch(matchID)
	defer unlock()

	removed := false
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := e.loadMatchForUpdate(tx, matchID, &match); err != nil {
			return err
		}
		player, err := guardWithdraw(&match, caller)
		if err != nil {
			return err
		}

		refund := player.Amount
		if err := tx.Delete(&models.MatchPlayer{}, "id = ?", player.ID).Error; err != nil {
			return err
		}

		if len(match.Players) == 1 {
			// Last player out, the registry entry goes away with them.
			removed = true
			if err := tx.Delete(&models.MatchFeeShare{}, "match_id = ?", match.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Match{}, "id = ?", match.ID).Error; err != nil {
				return err
			}
		}

		if err := e.emitEvent(tx, &match.ID, models.EventPlayerWithdrew, eventPayload{
			"match_id":      match.ID,
			"player":        caller,
			"amount":        refund,
			"match_removed": removed,
		}); err != nil {
			return err
		}

		txRef, err := e.Treasury.Refund(ctx, caller, match.Token, refund, refundRef(match.ID, caller))
		if err != nil {
			return fmt.Errorf("stake refund failed: %w", err)
		}
		return e.journal(tx, &match.ID, models.TransferRefund, match.Token, caller, refund, txRef)
	})
	if err != nil {
		return false, err
	}

	if removed {
		e.forgetMatchLock(matchID)
		log.Printf("🗑️ Match #%d removed, last player %s withdrew", matchID, caller)
	} else {
		log.Printf("↩️ Player %s withdrew from match #%d", caller, matchID)
	}
	return removed, nil
}

// ActivateMatch flips an open match to active, locking further joins and
// withdrawals. Controller only; no funds move.
func (e *EscrowEngine) ActivateMatch(ctx context.Context, caller string, matchID uint64) (*models.Match, error) {
	if err := e.guardController(caller); err != nil {
		return nil, err
	}

	unlock := e.lockMatch(matchID)
	defer unlock()

	var match models.Match
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		if err := e.loadMatchForUpdate(tx, matchID, &match); err != nil {
			return err
		}
		if err := guardActivate(&match); err != nil {
			return err
		}
		if err := tx.Model(&models.Match{}).Where("id = ?", match.ID).
			Update("status", models.MatchStatusActive).Error; err != nil {
			return err
		}
		match.Status = models.MatchStatusActive
		return e.emitEvent(tx, &match.ID, models.EventMatchActivated, eventPayload{
			"match_id": match.ID,
			"players":  len(match.Players),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🚀 Match #%d activated with %d players", matchID, len(match.Players))
	return &match, nil
}

// ── Reads ────────────────────────────────────────────────────────────────

// GetMatch returns the full match record with players (join order) and the
// fee snapshot.
func (e *EscrowEngine) GetMatch(matchID uint64) (*models.Match, error) {
	var match models.Match
	err := e.DB.
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("join_order ASC")
		}).
		Preload("FeeShares", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// ActiveMatchIDs pages through open+active match ids in creation order.
func (e *EscrowEngine) ActiveMatchIDs(offset, limit int) ([]uint64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var ids []uint64
	err := e.DB.Model(&models.Match{}).
		Where("status IN ?", []models.MatchStatus{models.MatchStatusOpen, models.MatchStatusActive}).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// PendingFees reports the claimable fee balance for (recipient, token).
func (e *EscrowEngine) PendingFees(recipient, token string) (int64, error) {
	var bal models.PendingBalance
	err := e.DB.Where("recipient = ? AND token = ?", recipient, token).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

// ── Admin (owner-gated) ──────────────────────────────────────────────────

// SetFeeConfig atomically replaces the contract-level fee configuration.
// Applies to matches created afterwards only; in-flight matches keep their
// snapshot.
func (e *EscrowEngine) SetFeeConfig(caller string, shares []FeeShare) error {
	if err := e.guardOwner(caller); err != nil {
		return err
	}
	if err := ValidateFeeShares(shares); err != nil {
		return err
	}

	err := e.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.FeeRecipient{}).Error; err != nil {
			return err
		}
		for i, s := range shares {
			if err := tx.Create(&models.FeeRecipient{
				ID:        uuid.NewString(),
				Address:   s.Recipient,
				ShareBps:  s.ShareBps,
				SortOrder: i,
			}).Error; err != nil {
				return err
			}
		}
		return e.emitEvent(tx, nil, models.EventFeesConfigured, eventPayload{
			"shares": shares,
		})
	})
	if err != nil {
		return err
	}

	log.Printf("⚙️ Fee configuration replaced: %d recipient(s)", len(shares))
	return nil
}

// SetMaxActiveMatches updates the active-match cap (0 = uncapped).
func (e *EscrowEngine) SetMaxActiveMatches(caller string, cap int64) error {
	if err := e.guardOwner(caller); err != nil {
		return err
	}
	if cap < 0 {
		return fmt.Errorf("max_active_matches must be >= 0")
	}
	err := e.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.EngineSetting{
		Key:   models.SettingMaxActiveMatches,
		Value: strconv.FormatInt(cap, 10),
	}).Error
	if err != nil {
		return err
	}
	log.Printf("⚙️ max_active_matches set to %d", cap)
	return nil
}

// FeeConfig returns the current contract-level fee configuration.
func (e *EscrowEngine) FeeConfig() ([]FeeShare, error) {
	var recipients []models.FeeRecipient
	if err := e.DB.Order("sort_order ASC").Find(&recipients).Error; err != nil {
		return nil, err
	}
	shares := make([]FeeShare, 0, len(recipients))
	for _, r := range recipients {
		shares = append(shares, FeeShare{Recipient: r.Address, ShareBps: r.ShareBps})
	}
	return shares, nil
}

// ── Internals ────────────────────────────────────────────────────────────

func (e *EscrowEngine) loadMatchForUpdate(tx *gorm.DB, matchID uint64, match *models.Match) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMatchNotFound
	}
	if err != nil {
		return err
	}
	// Players/FeeShares loaded separately; FOR UPDATE doesn't mix with joins.
	if err := tx.Where("match_id = ?", matchID).Order("join_order ASC").Find(&match.Players).Error; err != nil {
		return err
	}
	return tx.Where("match_id = ?", matchID).Order("sort_order ASC").Find(&match.FeeShares).Error
}

func (e *EscrowEngine) maxActiveMatches(tx *gorm.DB) (int64, error) {
	var setting models.EngineSetting
	err := tx.First(&setting, "key = ?", models.SettingMaxActiveMatches).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil // uncapped by default
	}
	if err != nil {
		return 0, err
	}
	cap, err := strconv.ParseInt(setting.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s setting %q: %w", models.SettingMaxActiveMatches, setting.Value, err)
	}
	return cap, nil
}

type eventPayload map[string]interface{}

func (e *EscrowEngine) emitEvent(tx *gorm.DB, matchID *uint64, eventType string, payload eventPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return tx.Create(&models.MatchEvent{
		ID:      uuid.NewString(),
		MatchID: matchID,
		Type:    eventType,
		Payload: string(raw),
	}).Error
}

func (e *EscrowEngine) journal(tx *gorm.DB, matchID *uint64, kind models.TransferKind, token, counterparty string, amount int64, reference string) error {
	return tx.Create(&models.EscrowTransfer{
		ID:           uuid.NewString(),
		MatchID:      matchID,
		Kind:         kind,
		Token:        token,
		Counterparty: counterparty,
		Amount:       amount,
		Reference:    reference,
	}).Error
}
