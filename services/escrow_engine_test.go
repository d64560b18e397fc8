/* escrow_engine_test.go
 * Contains unit tests for the pure transition guards and prize math.
 * These run without any database.
 */

package services

import (
	"math"
	"testing"

	"match-escrow-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMatch(stake int64, maxPlayers int, players ...string) *models.Match {
	m := &models.Match{
		Token:       models.NativeToken,
		StakeAmount: stake,
		MaxPlayers:  maxPlayers,
		Status:      models.MatchStatusOpen,
	}
	for i, addr := range players {
		m.Players = append(m.Players, models.MatchPlayer{
			PlayerAddress: addr,
			Amount:        stake,
			JoinOrder:     i,
		})
	}
	return m
}

func TestGuardCreate(t *testing.T) {
	tests := []struct {
		name       string
		stake      int64
		maxPlayers int
		wantErr    error
	}{
		{"valid", 100, 2, nil},
		{"zero stake", 0, 2, ErrInvalidStake},
		{"negative stake", -5, 2, ErrInvalidStake},
		{"one player cap", 100, 1, ErrInvalidMaxPlayers},
		{"zero player cap", 100, 0, ErrInvalidMaxPlayers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guardCreate(tt.stake, tt.maxPlayers)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGuardJoin(t *testing.T) {
	t.Run("open match with room", func(t *testing.T) {
		m := openMatch(100, 3, "alice")
		assert.NoError(t, guardJoin(m, "bob"))
	})

	t.Run("already joined", func(t *testing.T) {
		m := openMatch(100, 3, "alice", "bob")
		assert.ErrorIs(t, guardJoin(m, "bob"), ErrAlreadyJoined)
	})

	t.Run("full match", func(t *testing.T) {
		m := openMatch(100, 2, "alice", "bob")
		assert.ErrorIs(t, guardJoin(m, "carol"), ErrMatchFull)
	})

	t.Run("active match", func(t *testing.T) {
		m := openMatch(100, 3, "alice")
		m.Status = models.MatchStatusActive
		assert.ErrorIs(t, guardJoin(m, "bob"), ErrMatchNotOpen)
	})

	t.Run("duplicate beats full", func(t *testing.T) {
		// A player already in a full match gets the duplicate error,
		// not the capacity error.
		m := openMatch(100, 2, "alice", "bob")
		assert.ErrorIs(t, guardJoin(m, "alice"), ErrAlreadyJoined)
	})
}

func TestGuardWithdraw(t *testing.T) {
	t.Run("joined player", func(t *testing.T) {
		m := openMatch(100, 3, "alice", "bob")
		p, err := guardWithdraw(m, "bob")
		require.NoError(t, err)
		assert.Equal(t, "bob", p.PlayerAddress)
		assert.Equal(t, int64(100), p.Amount)
	})

	t.Run("non-player", func(t *testing.T) {
		m := openMatch(100, 3, "alice")
		_, err := guardWithdraw(m, "mallory")
		assert.ErrorIs(t, err, ErrNotAPlayer)
	})

	t.Run("active match locks stakes", func(t *testing.T) {
		m := openMatch(100, 3, "alice", "bob")
		m.Status = models.MatchStatusActive
		_, err := guardWithdraw(m, "alice")
		assert.ErrorIs(t, err, ErrMatchNotOpen)
	})
}

func TestGuardActivate(t *testing.T) {
	t.Run("two players", func(t *testing.T) {
		m := openMatch(100, 4, "alice", "bob")
		assert.NoError(t, guardActivate(m))
	})

	t.Run("single player", func(t *testing.T) {
		m := openMatch(100, 4, "alice")
		assert.ErrorIs(t, guardActivate(m), ErrNotEnoughPlayers)
	})

	t.Run("already active", func(t *testing.T) {
		m := openMatch(100, 4, "alice", "bob")
		m.Status = models.MatchStatusActive
		assert.ErrorIs(t, guardActivate(m), ErrMatchNotOpen)
	})
}

func TestGuardFinalize(t *testing.T) {
	active := func(players ...string) *models.Match {
		m := openMatch(100, 4, players...)
		m.Status = models.MatchStatusActive
		return m
	}

	t.Run("winner is a player", func(t *testing.T) {
		assert.NoError(t, guardFinalize(active("alice", "bob"), "alice"))
	})

	t.Run("winner not a player", func(t *testing.T) {
		err := guardFinalize(active("alice", "bob"), "mallory")
		assert.ErrorIs(t, err, ErrWinnerNotPlayer)
	})

	t.Run("open match", func(t *testing.T) {
		m := openMatch(100, 4, "alice", "bob")
		assert.ErrorIs(t, guardFinalize(m, "alice"), ErrMatchNotActive)
	})

	t.Run("finalized match", func(t *testing.T) {
		m := active("alice", "bob")
		m.Status = models.MatchStatusFinalized
		assert.ErrorIs(t, guardFinalize(m, "alice"), ErrMatchNotActive)
	})
}

func TestTotalPrize(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		total, err := totalPrize(100, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(400), total)
	})

	t.Run("zero players", func(t *testing.T) {
		total, err := totalPrize(100, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})

	t.Run("max stake single pair", func(t *testing.T) {
		total, err := totalPrize(math.MaxInt64/2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-1), total)
	})

	t.Run("overflow rejected", func(t *testing.T) {
		_, err := totalPrize(math.MaxInt64/2+1, 2)
		assert.Error(t, err)
	})
}
