package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"match-escrow-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// EventService streams match lifecycle events to off-chain indexers and UIs.
type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// StreamMatchEventsSSE streams MatchEvent rows as server-sent events.
// Optional ?match_id= narrows the stream to a single match.
//
// Delivery is best-effort: the poll cursor advances on created_at, and an
// event committed late by a long-open transaction (create/join hold theirs
// across the treasury call) can land behind the cursor and be skipped.
// Consumers needing a complete history read the match view; the stream is
// observability only.
func (s *EventService) StreamMatchEventsSSE(c *fiber.Ctx) error {
	var matchFilter *uint64
	if raw := c.Query("match_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "match_id must be a positive integer"})
		}
		matchFilter = &id
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastMaxCreatedAt time.Time

		// Initialize cursor at the newest existing event; the stream is
		// live-only from here.
		var latest models.MatchEvent
		q := s.DB.Order("created_at DESC")
		if matchFilter != nil {
			q = q.Where("match_id = ?", *matchFilter)
		}
		if err := q.First(&latest).Error; err == nil {
			lastMaxCreatedAt = latest.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error: %v", err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var events []models.MatchEvent

				q := s.DB.Where("created_at > ?", lastMaxCreatedAt).Order("created_at ASC")
				if matchFilter != nil {
					q = q.Where("match_id = ?", *matchFilter)
				}
				if err := q.Find(&events).Error; err != nil {
					log.Printf("SSE query error: %v", err)
					continue
				}

				if len(events) == 0 {
					continue
				}

				lastMaxCreatedAt = events[len(events)-1].CreatedAt

				for _, ev := range events {
					payload, _ := json.Marshal(ev)

					fmt.Fprintf(w,
						"event: %s\ndata: %s\n\n",
						ev.Type, payload,
					)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
