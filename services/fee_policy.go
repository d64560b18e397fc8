package services

import (
	"errors"
	"fmt"
	"math/big"

	"match-escrow-system/models"
)

// FeeShare is one (recipient, basis points) pair of a fee configuration.
type FeeShare struct {
	Recipient string `json:"recipient"`
	ShareBps  int64  `json:"share_bps"`
}

var (
	ErrShareOutOfRange    = errors.New("share_bps must be between 1 and 10000")
	ErrTotalShareTooLarge = errors.New("total share exceeds 10000 bps")
	ErrDuplicateRecipient = errors.New("duplicate fee recipient")
)

// ValidateFeeShares checks a fee configuration: every share in (0, 10000],
// recipients unique and non-empty, total ≤ 10000 bps. An empty list is valid
// (no fees, winner takes everything).
func ValidateFeeShares(shares []FeeShare) error {
	seen := make(map[string]bool, len(shares))
	var total int64
	for _, s := range shares {
		if s.Recipient == "" {
			return fmt.Errorf("fee recipient address is required")
		}
		if s.ShareBps <= 0 || s.ShareBps > models.BpsDenominator {
			return ErrShareOutOfRange
		}
		if seen[s.Recipient] {
			return ErrDuplicateRecipient
		}
		seen[s.Recipient] = true
		total += s.ShareBps
		if total > models.BpsDenominator {
			return ErrTotalShareTooLarge
		}
	}
	return nil
}

// SplitPrize distributes totalPrize across the fee shares and the winner.
// Each recipient gets floor(totalPrize * bps / 10000); the winner gets the
// remainder, so rounding dust always lands on the winner and
// sum(amounts) + winnerAmount == totalPrize exactly.
//
// The per-share multiply goes through big.Int: totalPrize * 10000 can
// overflow int64 for large stakes, and settlement math must never wrap.
func SplitPrize(totalPrize int64, shares []FeeShare) (amounts []int64, winnerAmount int64, err error) {
	if totalPrize < 0 {
		return nil, 0, fmt.Errorf("total prize must be non-negative, got %d", totalPrize)
	}
	if err := ValidateFeeShares(shares); err != nil {
		return nil, 0, err
	}

	amounts = make([]int64, len(shares))
	var feeTotal int64
	denom := big.NewInt(models.BpsDenominator)
	for i, s := range shares {
		cut := new(big.Int).Mul(big.NewInt(totalPrize), big.NewInt(s.ShareBps))
		cut.Quo(cut, denom) // floor for non-negative operands
		amounts[i] = cut.Int64()
		feeTotal += amounts[i]
	}
	// total share ≤ 10000 guarantees feeTotal ≤ totalPrize
	winnerAmount = totalPrize - feeTotal
	return amounts, winnerAmount, nil
}
