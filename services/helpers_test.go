/* helpers_test.go
 * Shared fakes and setup for the escrow engine tests.
 */

package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"match-escrow-system/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testController = "controller-addr"
	testOwner      = "owner-addr"
)

// fakeTransfer is one recorded call against the fake treasury.
type fakeTransfer struct {
	Counterparty string
	Token        string
	Amount       int64
	Ref          string
}

// fakeTreasury satisfies TreasuryClient in-memory. Error fields inject
// failures to exercise the rollback paths; RefundErrFor fails only the
// refund aimed at that address, so partial multi-refund failures can be
// simulated.
type fakeTreasury struct {
	mu       sync.Mutex
	seq      int
	Deposits []fakeTransfer
	Payouts  []fakeTransfer
	Refunds  []fakeTransfer

	DepositErr   error
	PayoutErr    error
	RefundErr    error
	RefundErrFor string
}

func (f *fakeTreasury) CollectDeposit(_ context.Context, payer, token string, amount int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DepositErr != nil {
		return "", f.DepositErr
	}
	f.Deposits = append(f.Deposits, fakeTransfer{Counterparty: payer, Token: token, Amount: amount})
	f.seq++
	return fmt.Sprintf("fake-tx-%d", f.seq), nil
}

func (f *fakeTreasury) DepositCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Deposits)
}

func (f *fakeTreasury) Payout(_ context.Context, to, token string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PayoutErr != nil {
		return "", f.PayoutErr
	}
	f.Payouts = append(f.Payouts, fakeTransfer{Counterparty: to, Token: token, Amount: amount})
	f.seq++
	return fmt.Sprintf("fake-tx-%d", f.seq), nil
}

func (f *fakeTreasury) Refund(_ context.Context, to, token string, amount int64, refundRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return "", f.RefundErr
	}
	if f.RefundErrFor != "" && to == f.RefundErrFor {
		return "", fmt.Errorf("refund to %s rejected", to)
	}
	f.Refunds = append(f.Refunds, fakeTransfer{Counterparty: to, Token: token, Amount: amount, Ref: refundRef})
	f.seq++
	return fmt.Sprintf("fake-tx-%d", f.seq), nil
}

// setupTestEngine connects to the database named by TEST_DATABASE_URL and
// returns a fresh engine over empty tables. Tests needing a database skip
// when the variable is unset, so the pure-logic suite still runs anywhere.
func setupTestEngine(t *testing.T) (*EscrowEngine, *fakeTreasury) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database-backed test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Match{},
		&models.MatchPlayer{},
		&models.MatchFeeShare{},
		&models.MatchEvent{},
		&models.FeeRecipient{},
		&models.PendingBalance{},
		&models.EngineSetting{},
		&models.SettlementRecord{},
		&models.EscrowTransfer{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	// Every test starts from empty tables.
	for _, table := range []string{
		"escrow_transfers", "settlement_records", "engine_settings",
		"pending_balances", "fee_recipients", "match_events",
		"match_fee_shares", "match_players", "matches",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("failed to clear table %s: %v", table, err)
		}
	}

	treasury := &fakeTreasury{}
	return NewEscrowEngine(db, treasury, testController, testOwner), treasury
}
