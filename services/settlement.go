package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"match-escrow-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// feeBreakdownEntry is one line of a settlement's fee audit trail.
type feeBreakdownEntry struct {
	Recipient string `json:"recipient"`
	ShareBps  int64  `json:"share_bps"`
	Amount    int64  `json:"amount"`
}

// FinalizeMatch settles an active match: controller-only, exactly-once.
//
// Everything runs in one transaction in checks-effects-interactions order —
// guards, then ledger bookkeeping (stakes zeroed, fee balances credited,
// audit rows written, status flipped), then the winner payout as the very
// last step. A payout failure rolls the entire settlement back, so the match
// can never end up Finalized with stakes already gone. Fee recipients are
// never paid synchronously: their cut lands in pull-based pending balances,
// so a misbehaving recipient cannot block settlement.
//
// The scoreboard callback is deliberately NOT here — the result recorder
// worker picks the settlement up after commit, best-effort.
func (e *EscrowEngine) FinalizeMatch(ctx context.Context, caller string, matchID uint64, winner string) (*models.SettlementRecord, error) {
	if err := e.guardController(caller); err != nil {
		return nil, err
	}

	unlock := e.lockMatch(matchID)
	defer unlock()

	var record models.SettlementRecord
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := e.loadMatchForUpdate(tx, matchID, &match); err != nil {
			return err
		}
		if err := guardFinalize(&match, winner); err != nil {
			return err
		}

		prize, err := totalPrize(match.StakeAmount, len(match.Players))
		if err != nil {
			return err
		}

		shares := make([]FeeShare, len(match.FeeShares))
		for i, fs := range match.FeeShares {
			shares[i] = FeeShare{Recipient: fs.Recipient, ShareBps: fs.ShareBps}
		}
		amounts, winnerAmount, err := SplitPrize(prize, shares)
		if err != nil {
			return err
		}

		// The ledger's funds are distributed from here on.
		if err := tx.Model(&models.MatchPlayer{}).
			Where("match_id = ?", match.ID).
			Update("amount", 0).Error; err != nil {
			return err
		}

		breakdown := make([]feeBreakdownEntry, 0, len(shares))
		var feeTotal int64
		for i, s := range shares {
			if amounts[i] == 0 {
				breakdown = append(breakdown, feeBreakdownEntry{Recipient: s.Recipient, ShareBps: s.ShareBps})
				continue
			}
			if err := e.creditPendingBalance(tx, s.Recipient, match.Token, amounts[i]); err != nil {
				return err
			}
			if err := e.journal(tx, &match.ID, models.TransferFeeCredit, match.Token, s.Recipient, amounts[i], ""); err != nil {
				return err
			}
			feeTotal += amounts[i]
			breakdown = append(breakdown, feeBreakdownEntry{Recipient: s.Recipient, ShareBps: s.ShareBps, Amount: amounts[i]})
		}

		losers := make([]string, 0, len(match.Players)-1)
		for _, p := range match.Players {
			if p.PlayerAddress != winner {
				losers = append(losers, p.PlayerAddress)
			}
		}
		losersJSON, _ := json.Marshal(losers)
		breakdownJSON, _ := json.Marshal(breakdown)

		record = models.SettlementRecord{
			ID:           uuid.NewString(),
			MatchID:      match.ID,
			Token:        match.Token,
			Winner:       winner,
			Losers:       string(losersJSON),
			TotalPrize:   prize,
			WinnerAmount: winnerAmount,
			FeeTotal:     feeTotal,
			FeeBreakdown: string(breakdownJSON),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Match{}).Where("id = ?", match.ID).Updates(map[string]interface{}{
			"status": models.MatchStatusFinalized,
			"winner": winner,
		}).Error; err != nil {
			return err
		}

		if err := e.emitEvent(tx, &match.ID, models.EventMatchFinalized, eventPayload{
			"match_id":      match.ID,
			"winner":        winner,
			"total_prize":   prize,
			"winner_amount": winnerAmount,
			"fee_total":     feeTotal,
		}); err != nil {
			return err
		}

		// Interaction last: push the winner payout. Failure here rolls back
		// every effect above.
		txRef, err := e.Treasury.Payout(ctx, winner, match.Token, winnerAmount)
		if err != nil {
			return fmt.Errorf("winner payout failed: %w", err)
		}
		return e.journal(tx, &match.ID, models.TransferWinnerPayout, match.Token, winner, winnerAmount, txRef)
	})
	if err != nil {
		return nil, err
	}

	e.forgetMatchLock(matchID)
	log.Printf("🏆 Match #%d finalized — winner %s takes %d of %d (%d in fees)",
		matchID, winner, record.WinnerAmount, record.TotalPrize, record.FeeTotal)
	return &record, nil
}

// CancelMatch aborts an active match: controller-only, refunds every player
// in full, terminal Cancelled state. Pre-activation abandonment goes through
// WithdrawFromMatch instead.
func (e *EscrowEngine) CancelMatch(ctx context.Context, caller string, matchID uint64) error {
	if err := e.guardController(caller); err != nil {
		return err
	}

	unlock := e.lockMatch(matchID)
	defer unlock()

	err := e.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := e.loadMatchForUpdate(tx, matchID, &match); err != nil {
			return err
		}
		if match.Status != models.MatchStatusActive {
			return ErrMatchNotActive
		}

		refunded, err := totalPrize(match.StakeAmount, len(match.Players))
		if err != nil {
			return err
		}

		if err := tx.Model(&models.MatchPlayer{}).
			Where("match_id = ?", match.ID).
			Update("amount", 0).Error; err != nil {
			return err
		}

		players := make([]string, 0, len(match.Players))
		for _, p := range match.Players {
			players = append(players, p.PlayerAddress)
		}
		playersJSON, _ := json.Marshal(players)

		if err := tx.Create(&models.SettlementRecord{
			ID:         uuid.NewString(),
			MatchID:    match.ID,
			Token:      match.Token,
			Losers:     string(playersJSON),
			TotalPrize: refunded,
			Cancelled:  true,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Match{}).Where("id = ?", match.ID).
			Update("status", models.MatchStatusCancelled).Error; err != nil {
			return err
		}

		if err := e.emitEvent(tx, &match.ID, models.EventMatchCancelled, eventPayload{
			"match_id": match.ID,
			"refunded": refunded,
			"players":  players,
		}); err != nil {
			return err
		}

		// Refunds last, same discipline as the winner payout. Each carries a
		// deterministic (match, player) reference: if refund k+1 fails after
		// 1..k already went out, the rollback restores the ledger and the
		// retried cancel re-sends the same references, which the treasury
		// dedupes instead of paying anyone twice.
		for _, p := range match.Players {
			txRef, err := e.Treasury.Refund(ctx, p.PlayerAddress, match.Token, match.StakeAmount, refundRef(match.ID, p.PlayerAddress))
			if err != nil {
				return fmt.Errorf("refund to %s failed: %w", p.PlayerAddress, err)
			}
			if err := e.journal(tx, &match.ID, models.TransferRefund, match.Token, p.PlayerAddress, match.StakeAmount, txRef); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.forgetMatchLock(matchID)
	log.Printf("🛑 Match #%d cancelled — all stakes refunded", matchID)
	return nil
}

// WithdrawFees pulls the caller's accumulated fee balance for a token. A
// zero (or absent) balance is an explicit rejection, not a silent no-op, so
// callers notice broken integrations. Transfer failure rolls back and the
// balance stays intact for retry.
func (e *EscrowEngine) WithdrawFees(ctx context.Context, caller, token string) (int64, error) {
	var amount int64
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		var bal models.PendingBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("recipient = ? AND token = ?", caller, token).
			First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNothingToWithdraw
		}
		if err != nil {
			return err
		}
		if bal.Amount <= 0 {
			return ErrNothingToWithdraw
		}
		amount = bal.Amount

		if err := tx.Model(&models.PendingBalance{}).
			Where("id = ?", bal.ID).
			Update("amount", 0).Error; err != nil {
			return err
		}

		if err := e.emitEvent(tx, nil, models.EventFeesWithdrawn, eventPayload{
			"recipient": caller,
			"token":     token,
			"amount":    amount,
		}); err != nil {
			return err
		}

		txRef, err := e.Treasury.Payout(ctx, caller, token, amount)
		if err != nil {
			return fmt.Errorf("fee withdrawal transfer failed: %w", err)
		}
		return e.journal(tx, nil, models.TransferFeeWithdrawal, token, caller, amount, txRef)
	})
	if err != nil {
		return 0, err
	}

	log.Printf("💸 %s withdrew %d %s in accumulated fees", caller, amount, token)
	return amount, nil
}

// creditPendingBalance upserts (recipient, token) += amount in one statement.
func (e *EscrowEngine) creditPendingBalance(tx *gorm.DB, recipient, token string, amount int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "recipient"}, {Name: "token"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount":     gorm.Expr("pending_balances.amount + ?", amount),
			"updated_at": gorm.Expr("NOW()"),
		}),
	}).Create(&models.PendingBalance{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Token:     token,
		Amount:    amount,
	}).Error
}
