// services/scheduler.go
package services

import (
	"log"
	"os"
	"strconv"
	"time"

	"match-escrow-system/models"
	"match-escrow-system/utils"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// archivedMatch is the JSON document exported to R2 before a settled match
// is pruned from the registry.
type archivedMatch struct {
	Match      models.Match             `json:"match"`
	Settlement *models.SettlementRecord `json:"settlement,omitempty"`
	Transfers  []models.EscrowTransfer  `json:"transfers"`
	ArchivedAt time.Time                `json:"archived_at"`
}

// StartArchiveScheduler prunes settled matches out of the registry on a
// timer. Each finalized/cancelled match older than ARCHIVE_AFTER_DAYS is
// exported to R2 as settlements/<id>.json, then hard-deleted along with its
// player and fee-share rows. Settlement records, pending balances and the
// transfer journal are never pruned — payouts already emitted must stay
// auditable.
func (e *EscrowEngine) StartArchiveScheduler() {
	days := 30
	if raw := os.Getenv("ARCHIVE_AFTER_DAYS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		} else {
			log.Printf("[Archiver] Ignoring invalid ARCHIVE_AFTER_DAYS=%q, using %d", raw, days)
		}
	}

	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			cutoff := time.Now().AddDate(0, 0, -days)
			var matches []models.Match
			err := e.DB.
				Preload("Players").
				Preload("FeeShares").
				Where("status IN ? AND updated_at <= ?",
					[]models.MatchStatus{models.MatchStatusFinalized, models.MatchStatusCancelled}, cutoff).
				Limit(100).
				Find(&matches).Error
			if err != nil {
				log.Printf("[Archiver] DB error: %v", err)
				return
			}

			for _, m := range matches {
				if err := e.archiveMatch(&m); err != nil {
					log.Printf("[Archiver] Failed to archive match #%d: %v", m.ID, err)
				} else {
					log.Printf("✅ Archived and pruned match #%d", m.ID)
				}
			}
		}),
	)
}

func (e *EscrowEngine) archiveMatch(m *models.Match) error {
	doc := archivedMatch{
		Match:      *m,
		ArchivedAt: time.Now().UTC(),
	}

	var settlement models.SettlementRecord
	if err := e.DB.First(&settlement, "match_id = ?", m.ID).Error; err == nil {
		doc.Settlement = &settlement
	}
	if err := e.DB.Where("match_id = ?", m.ID).Order("created_at ASC").Find(&doc.Transfers).Error; err != nil {
		return err
	}

	// Upload first — the registry rows only go once the export is durable.
	key := "settlements/" + strconv.FormatUint(m.ID, 10) + ".json"
	if _, err := utils.UploadJSONToR2(doc, key); err != nil {
		return err
	}

	err := e.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.MatchPlayer{}, "match_id = ?", m.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.MatchFeeShare{}, "match_id = ?", m.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Match{}, "id = ?", m.ID).Error
	})
	if err != nil {
		return err
	}
	e.forgetMatchLock(m.ID)
	return nil
}
