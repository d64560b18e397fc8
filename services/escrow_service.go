package services

import (
	"errors"
	"log"
	"strconv"

	"match-escrow-system/models"

	"github.com/gofiber/fiber/v2"
)

// EscrowService is the HTTP face of the escrow engine. Handlers only parse,
// delegate and map errors; every guard lives in the engine.
type EscrowService struct {
	Engine *EscrowEngine
}

func NewEscrowService(engine *EscrowEngine) *EscrowService {
	return &EscrowService{Engine: engine}
}

// callerAddress reads the caller identity placed by PlayerContextMiddleware.
func callerAddress(c *fiber.Ctx) string {
	addr, _ := c.Locals("player_address").(string)
	return addr
}

// engineErrorStatus maps engine guard errors onto HTTP statuses. Anything
// unrecognized is a 502: by this point guards have passed, so the failure
// is the DB or the treasury.
func engineErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrNotController), errors.Is(err, ErrNotOwner):
		return fiber.StatusForbidden
	case errors.Is(err, ErrMatchNotOpen), errors.Is(err, ErrMatchNotActive),
		errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrNothingToWithdraw):
		return fiber.StatusConflict
	case errors.Is(err, ErrMatchFull), errors.Is(err, ErrCapacityReached):
		return fiber.StatusForbidden
	case errors.Is(err, ErrInvalidStake), errors.Is(err, ErrInvalidMaxPlayers),
		errors.Is(err, ErrNotEnoughPlayers), errors.Is(err, ErrWinnerNotPlayer),
		errors.Is(err, ErrNotAPlayer),
		errors.Is(err, ErrShareOutOfRange), errors.Is(err, ErrTotalShareTooLarge),
		errors.Is(err, ErrDuplicateRecipient):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusBadGateway
	}
}

// CreateMatch opens a new match with the caller as first player.
func (s *EscrowService) CreateMatch(c *fiber.Ctx) error {
	type Req struct {
		Token       string `json:"token"`
		StakeAmount int64  `json:"stake_amount"`
		MaxPlayers  int    `json:"max_players"`
		DepositRef  string `json:"deposit_ref,omitempty"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	match, err := s.Engine.CreateMatch(c.Context(), callerAddress(c), req.Token, req.StakeAmount, req.MaxPlayers, req.DepositRef)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(match)
}

func (s *EscrowService) JoinMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	type Req struct {
		DepositRef string `json:"deposit_ref,omitempty"`
	}
	var req Req
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
	}

	match, err := s.Engine.JoinMatch(c.Context(), callerAddress(c), matchID, req.DepositRef)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(match)
}

func (s *EscrowService) WithdrawFromMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	removed, err := s.Engine.WithdrawFromMatch(c.Context(), callerAddress(c), matchID)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message":       "stake refunded",
		"match_removed": removed,
	})
}

func (s *EscrowService) ActivateMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	match, err := s.Engine.ActivateMatch(c.Context(), callerAddress(c), matchID)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(match)
}

func (s *EscrowService) FinalizeMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	type Req struct {
		Winner string `json:"winner"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Winner == "" {
		return c.Status(400).JSON(fiber.Map{"error": "winner is required"})
	}

	record, err := s.Engine.FinalizeMatch(c.Context(), callerAddress(c), matchID, req.Winner)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(record)
}

func (s *EscrowService) CancelMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.Engine.CancelMatch(c.Context(), callerAddress(c), matchID); err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "match cancelled, all stakes refunded"})
}

func (s *EscrowService) GetMatch(c *fiber.Ctx) error {
	matchID, err := parseMatchID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	match, err := s.Engine.GetMatch(matchID)
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "match not found"})
		}
		log.Printf("ERROR fetching match %d: %v", matchID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch match"})
	}

	escrowed := match.StakeAmount * int64(len(match.Players))
	if match.Status == models.MatchStatusFinalized || match.Status == models.MatchStatusCancelled {
		escrowed = 0
	}
	return c.JSON(fiber.Map{
		"match":          match,
		"total_escrowed": escrowed,
	})
}

func (s *EscrowService) GetActiveMatchIDs(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 100)

	ids, err := s.Engine.ActiveMatchIDs(offset, limit)
	if err != nil {
		log.Printf("ERROR listing active matches: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to list active matches"})
	}
	return c.JSON(fiber.Map{
		"ids":    ids,
		"offset": offset,
		"limit":  limit,
	})
}

func (s *EscrowService) WithdrawFees(c *fiber.Ctx) error {
	type Req struct {
		Token string `json:"token"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Token == "" {
		req.Token = models.NativeToken
	}

	amount, err := s.Engine.WithdrawFees(c.Context(), callerAddress(c), req.Token)
	if err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message": "fees withdrawn",
		"token":   req.Token,
		"amount":  amount,
	})
}

func (s *EscrowService) GetPendingFees(c *fiber.Ctx) error {
	recipient := c.Query("recipient")
	if recipient == "" {
		recipient = callerAddress(c)
	}
	token := c.Query("token", models.NativeToken)

	amount, err := s.Engine.PendingFees(recipient, token)
	if err != nil {
		log.Printf("ERROR fetching pending fees for %s/%s: %v", recipient, token, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch pending fees"})
	}
	return c.JSON(fiber.Map{
		"recipient": recipient,
		"token":     token,
		"amount":    amount,
	})
}

// ── Admin (owner-gated in the engine) ────────────────────────────────────

func (s *EscrowService) SetFeeConfig(c *fiber.Ctx) error {
	type Req struct {
		Shares []FeeShare `json:"shares"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if err := s.Engine.SetFeeConfig(callerAddress(c), req.Shares); err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message": "fee configuration updated",
		"shares":  req.Shares,
	})
}

func (s *EscrowService) GetFeeConfig(c *fiber.Ctx) error {
	shares, err := s.Engine.FeeConfig()
	if err != nil {
		log.Printf("ERROR fetching fee config: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch fee configuration"})
	}
	return c.JSON(fiber.Map{"shares": shares})
}

func (s *EscrowService) SetMaxActiveMatches(c *fiber.Ctx) error {
	type Req struct {
		MaxActiveMatches int64 `json:"max_active_matches"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if err := s.Engine.SetMaxActiveMatches(callerAddress(c), req.MaxActiveMatches); err != nil {
		return c.Status(engineErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message":            "capacity updated",
		"max_active_matches": req.MaxActiveMatches,
	})
}

func parseMatchID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, errors.New("match id must be a positive integer")
	}
	return id, nil
}
