package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// TreasuryClient is the asset-movement boundary. Every call either fully
// succeeds or returns an error; the engine runs these inside the owning DB
// transaction so a failed transfer rolls the whole transition back.
//
// Deposits: native-asset deposits arrive with the triggering call and are
// verified against their payment reference; token deposits are pulled (the
// player must have pre-authorized the escrow account with the treasury).
type TreasuryClient interface {
	// CollectDeposit verifies (native) or pulls (token) exactly amount from
	// payer and returns the treasury transaction reference.
	CollectDeposit(ctx context.Context, payer, token string, amount int64, depositRef string) (string, error)
	// Payout pushes amount to the recipient (winner payouts).
	Payout(ctx context.Context, to, token string, amount int64) (string, error)
	// Refund returns a locked stake to its player (withdraw/cancel paths).
	// refundRef is a deterministic per-(match, player) idempotency key: a
	// cancel that fails partway re-sends the same references on retry, and
	// the treasury dedupes on them so no player is ever refunded twice.
	Refund(ctx context.Context, to, token string, amount int64, refundRef string) (string, error)
}

// HTTPTreasuryClient talks to the treasury service over its internal API,
// authenticated with the escrow service token.
type HTTPTreasuryClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewHTTPTreasuryClient() *HTTPTreasuryClient {
	baseURL := os.Getenv("TREASURY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("TREASURY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("ESCROW_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("ESCROW_SERVICE_TOKEN environment variable is required for treasury calls")
	}

	return &HTTPTreasuryClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type treasuryTransferRequest struct {
	Payer      string `json:"payer,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	Token      string `json:"token"`
	Amount     int64  `json:"amount"`
	DepositRef string `json:"deposit_ref,omitempty"`
	RefundRef  string `json:"refund_ref,omitempty"` // treasury dedupe key
}

type treasuryTransferResponse struct {
	TxRef string `json:"tx_ref"`
}

func (c *HTTPTreasuryClient) CollectDeposit(ctx context.Context, payer, token string, amount int64, depositRef string) (string, error) {
	return c.post(ctx, "/api/v1/internal/escrow/collect", treasuryTransferRequest{
		Payer:      payer,
		Token:      token,
		Amount:     amount,
		DepositRef: depositRef,
	})
}

func (c *HTTPTreasuryClient) Payout(ctx context.Context, to, token string, amount int64) (string, error) {
	return c.post(ctx, "/api/v1/internal/escrow/payout", treasuryTransferRequest{
		Recipient: to,
		Token:     token,
		Amount:    amount,
	})
}

func (c *HTTPTreasuryClient) Refund(ctx context.Context, to, token string, amount int64, refundRef string) (string, error) {
	return c.post(ctx, "/api/v1/internal/escrow/refund", treasuryTransferRequest{
		Recipient: to,
		Token:     token,
		Amount:    amount,
		RefundRef: refundRef,
	})
}

func (c *HTTPTreasuryClient) post(ctx context.Context, path string, body treasuryTransferRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode treasury request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create treasury request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("treasury call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("treasury returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out treasuryTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode treasury response: %w", err)
	}
	return out.TxRef, nil
}
