// workers/result_recorder_worker.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"match-escrow-system/models"
	"gorm.io/gorm"
)

// MatchResultPayload is the body POSTed to the scoreboard service for each
// settled match.
type MatchResultPayload struct {
	MatchID    uint64   `json:"match_id"`
	Winner     string   `json:"winner"`
	Losers     []string `json:"losers"`
	TotalPrize int64    `json:"total_prize"`
	Token      string   `json:"token"`
	SettledAt  string   `json:"settled_at"`
}

// ResultRecorderWorker pushes finalized match results to the external
// scoreboard service. Strictly best-effort: settlement is already committed
// by the time a record is picked up here, and a scoreboard outage only means
// the row stays unrecorded and is retried next tick. Cancelled matches are
// never reported.
type ResultRecorderWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8600"
	endpointPath string // e.g., "/api/v1/internal/match-results"
	serviceToken string
	httpClient   *http.Client
}

func NewResultRecorderWorker(db *gorm.DB, scoreboardBaseURL, endpointPath, escrowServiceToken string) *ResultRecorderWorker {
	return &ResultRecorderWorker{
		db:           db,
		interval:     30 * time.Second,
		baseURL:      scoreboardBaseURL,
		endpointPath: endpointPath,
		serviceToken: escrowServiceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ResultRecorderWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Result Recorder Worker (settlements → scoreboard)…")
	go w.run(ctx)
}

func (w *ResultRecorderWorker) run(ctx context.Context) {
	// Catch up on anything left unrecorded by a previous run.
	if err := w.recordBatch(ctx); err != nil {
		log.Printf("⚠️ Initial result-recording pass failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.recordBatch(ctx); err != nil {
				log.Printf("❌ Result-recording batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("Result recorder worker stopped.")
			return
		}
	}
}

func (w *ResultRecorderWorker) recordBatch(ctx context.Context) error {
	var pending []models.SettlementRecord
	err := w.db.
		Where("recorded_at IS NULL AND cancelled = false").
		Order("created_at ASC").
		Limit(50).
		Find(&pending).Error
	if err != nil {
		return fmt.Errorf("failed to query unrecorded settlements: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}
	log.Printf("📤 Recording %d match result(s) to scoreboard service…", len(pending))

	for _, rec := range pending {
		if err := w.recordOne(ctx, &rec); err != nil {
			// Logged and left for the next tick — settlement never depends
			// on the scoreboard being up.
			log.Printf("⚠️ Could not record result for match #%d: %v", rec.MatchID, err)
			continue
		}
		now := time.Now().UTC()
		if err := w.db.Model(&models.SettlementRecord{}).
			Where("id = ?", rec.ID).
			Update("recorded_at", now).Error; err != nil {
			log.Printf("❌ Failed to mark settlement %s recorded: %v", rec.ID, err)
			continue
		}
		log.Printf("✅ Recorded result for match #%d (winner %s)", rec.MatchID, rec.Winner)
	}
	return nil
}

func (w *ResultRecorderWorker) recordOne(ctx context.Context, rec *models.SettlementRecord) error {
	payload, err := json.Marshal(BuildResultPayload(rec))
	if err != nil {
		return fmt.Errorf("failed to encode result payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.baseURL+w.endpointPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create scoreboard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call scoreboard service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("scoreboard service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// BuildResultPayload maps a settlement audit row onto the scoreboard wire
// format. Losers were stored as a JSON array at settlement time.
func BuildResultPayload(rec *models.SettlementRecord) MatchResultPayload {
	var losers []string
	if err := json.Unmarshal([]byte(rec.Losers), &losers); err != nil {
		log.Printf("⚠️ Malformed losers list on settlement %s: %v", rec.ID, err)
		losers = nil
	}
	return MatchResultPayload{
		MatchID:    rec.MatchID,
		Winner:     rec.Winner,
		Losers:     losers,
		TotalPrize: rec.TotalPrize,
		Token:      rec.Token,
		SettledAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
