/* fee_policy_test.go
 * Unit tests for the fee-distribution math in fee_policy.go
 */

package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitPrize_TenPercentFee covers the canonical 2-player / 10% case:
// total 200, fee recipient gets 20, winner gets 180.
func TestSplitPrize_TenPercentFee(t *testing.T) {
	shares := []FeeShare{{Recipient: "fee-recipient", ShareBps: 1000}}

	amounts, winnerAmount, err := SplitPrize(200, shares)

	require.NoError(t, err)
	assert.Equal(t, []int64{20}, amounts)
	assert.Equal(t, int64(180), winnerAmount)
}

// TestSplitPrize_NoFees — empty configuration means the winner takes 100%.
func TestSplitPrize_NoFees(t *testing.T) {
	amounts, winnerAmount, err := SplitPrize(200, nil)

	require.NoError(t, err)
	assert.Empty(t, amounts)
	assert.Equal(t, int64(200), winnerAmount)
}

// TestSplitPrize_ThreeWayDust — shares 3333/3333/3334 bps over 1000: each
// recipient floors to 333 and the single unit of rounding dust lands on the
// winner, never on a fee recipient.
func TestSplitPrize_ThreeWayDust(t *testing.T) {
	shares := []FeeShare{
		{Recipient: "a", ShareBps: 3333},
		{Recipient: "b", ShareBps: 3333},
		{Recipient: "c", ShareBps: 3334},
	}

	amounts, winnerAmount, err := SplitPrize(1000, shares)

	require.NoError(t, err)
	assert.Equal(t, []int64{333, 333, 333}, amounts)
	assert.Equal(t, int64(1), winnerAmount)
}

// TestSplitPrize_Conservation — over a grid of totals and configurations,
// sum(recipient amounts) + winner amount must equal the total exactly.
func TestSplitPrize_Conservation(t *testing.T) {
	configs := [][]FeeShare{
		nil,
		{{Recipient: "a", ShareBps: 1}},
		{{Recipient: "a", ShareBps: 250}, {Recipient: "b", ShareBps: 750}},
		{{Recipient: "a", ShareBps: 9999}},
		{{Recipient: "a", ShareBps: 10000}},
		{{Recipient: "a", ShareBps: 3333}, {Recipient: "b", ShareBps: 3333}, {Recipient: "c", ShareBps: 3334}},
	}
	totals := []int64{0, 1, 7, 99, 100, 10001, 123456789, math.MaxInt64}

	for _, total := range totals {
		for _, cfg := range configs {
			amounts, winnerAmount, err := SplitPrize(total, cfg)
			require.NoError(t, err, "total=%d cfg=%v", total, cfg)

			var sum int64
			for _, a := range amounts {
				assert.GreaterOrEqual(t, a, int64(0))
				sum += a
			}
			assert.Equal(t, total, sum+winnerAmount, "total=%d cfg=%v", total, cfg)
			assert.GreaterOrEqual(t, winnerAmount, int64(0))
		}
	}
}

// TestSplitPrize_LargeTotalNoOverflow — totalPrize near MaxInt64 must not
// wrap during the bps multiply.
func TestSplitPrize_LargeTotalNoOverflow(t *testing.T) {
	shares := []FeeShare{{Recipient: "a", ShareBps: 9999}}

	amounts, winnerAmount, err := SplitPrize(math.MaxInt64, shares)

	require.NoError(t, err)
	assert.Equal(t, 1, len(amounts)) // sanity
	assert.Greater(t, amounts[0], int64(0))
	assert.Greater(t, winnerAmount, int64(0))
	assert.Equal(t, int64(math.MaxInt64), amounts[0]+winnerAmount)
}

// TestSplitPrize_Determinism — identical inputs always produce identical
// outputs.
func TestSplitPrize_Determinism(t *testing.T) {
	shares := []FeeShare{
		{Recipient: "a", ShareBps: 123},
		{Recipient: "b", ShareBps: 4567},
	}

	first, firstWinner, err := SplitPrize(987654321, shares)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		amounts, winnerAmount, err := SplitPrize(987654321, shares)
		require.NoError(t, err)
		assert.Equal(t, first, amounts)
		assert.Equal(t, firstWinner, winnerAmount)
	}
}

func TestValidateFeeShares_Errors(t *testing.T) {
	tests := []struct {
		name    string
		shares  []FeeShare
		wantErr error
	}{
		{
			name:    "total share above 10000",
			shares:  []FeeShare{{Recipient: "a", ShareBps: 6000}, {Recipient: "b", ShareBps: 5000}},
			wantErr: ErrTotalShareTooLarge,
		},
		{
			name:    "duplicate recipient",
			shares:  []FeeShare{{Recipient: "a", ShareBps: 100}, {Recipient: "a", ShareBps: 100}},
			wantErr: ErrDuplicateRecipient,
		},
		{
			name:    "zero share",
			shares:  []FeeShare{{Recipient: "a", ShareBps: 0}},
			wantErr: ErrShareOutOfRange,
		},
		{
			name:    "negative share",
			shares:  []FeeShare{{Recipient: "a", ShareBps: -5}},
			wantErr: ErrShareOutOfRange,
		},
		{
			name:    "single share above 10000",
			shares:  []FeeShare{{Recipient: "a", ShareBps: 10001}},
			wantErr: ErrShareOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFeeShares(tt.shares)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateFeeShares_ExactlyFull(t *testing.T) {
	// 10000 bps total is legal: the winner then gets only the dust.
	err := ValidateFeeShares([]FeeShare{{Recipient: "a", ShareBps: 10000}})
	assert.NoError(t, err)
}

func TestSplitPrize_NegativeTotal(t *testing.T) {
	_, _, err := SplitPrize(-1, nil)
	assert.Error(t, err)
}
