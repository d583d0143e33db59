package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "policyvault/pkg/domain"
	dErrors "policyvault/pkg/domain-errors"
)

var created = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(id.NewPolicyID(), id.NewVaultID(), "authority", "agent", 100, 60, created)
	require.NoError(t, err)
	return p
}

func TestNewPolicy(t *testing.T) {
	t.Run("starts at version 1 with zeroed counters on the creation day", func(t *testing.T) {
		p := newTestPolicy(t)
		assert.Equal(t, uint64(1), p.Version)
		assert.Zero(t, p.SpentToday)
		assert.Zero(t, p.NextSequence)
		assert.Zero(t, p.LastSpendTime)
		assert.Equal(t, DayOf(created), p.DayIndex)
	})

	t.Run("rejects empty authority", func(t *testing.T) {
		_, err := NewPolicy(id.NewPolicyID(), id.NewVaultID(), "", "", 100, 60, created)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestCanSubmitSpend(t *testing.T) {
	p := newTestPolicy(t)
	assert.True(t, p.CanSubmitSpend("authority"))
	assert.True(t, p.CanSubmitSpend("agent"))
	assert.False(t, p.CanSubmitSpend("stranger"))
	assert.False(t, p.CanSubmitSpend(""))

	p.Agent = ""
	assert.False(t, p.CanSubmitSpend("agent"), "cleared agent loses spend rights")
	assert.False(t, p.CanSubmitSpend(""), "empty caller never matches an unset agent")
}

func TestApplyParams(t *testing.T) {
	t.Run("replaces parameters and bumps version without touching counters", func(t *testing.T) {
		p := newTestPolicy(t)
		p.SpentToday = 90
		day := p.DayIndex

		err := p.ApplyParams(PolicyParams{DailyBudget: 50, CooldownSeconds: 10}, created.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, uint64(50), p.DailyBudget)
		assert.Equal(t, uint32(10), p.CooldownSeconds)
		assert.True(t, p.Agent.IsZero(), "agent is always replaced")
		assert.Equal(t, uint64(2), p.Version)
		assert.Equal(t, uint64(90), p.SpentToday, "mid-window reduction keeps accumulated spend")
		assert.Equal(t, day, p.DayIndex)
	})

	t.Run("optional fields keep their value when omitted", func(t *testing.T) {
		p := newTestPolicy(t)
		paused := true
		recipientCap := uint64(25)
		recipient := id.Identity("r1")
		enabled := true
		require.NoError(t, p.ApplyParams(PolicyParams{
			DailyBudget:          100,
			Paused:               &paused,
			AllowlistEnabled:     &enabled,
			AllowedRecipient:     &recipient,
			PerRecipientDailyCap: &recipientCap,
		}, created))

		require.NoError(t, p.ApplyParams(PolicyParams{DailyBudget: 200}, created))
		assert.True(t, p.Paused)
		assert.True(t, p.AllowlistEnabled)
		assert.Equal(t, recipient, p.AllowedRecipient)
		assert.Equal(t, recipientCap, p.PerRecipientDailyCap)
		assert.Equal(t, uint64(3), p.Version)
	})

	t.Run("allowlist without recipient is rejected and leaves policy unchanged", func(t *testing.T) {
		p := newTestPolicy(t)
		enabled := true
		err := p.ApplyParams(PolicyParams{DailyBudget: 1, AllowlistEnabled: &enabled}, created)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, uint64(1), p.Version)
		assert.Equal(t, uint64(100), p.DailyBudget)
	})
}

func TestRollDay(t *testing.T) {
	t.Run("same day keeps counter", func(t *testing.T) {
		p := newTestPolicy(t)
		p.SpentToday = 40
		rolled, regressed := p.RollDay(p.DayIndex)
		assert.False(t, rolled)
		assert.False(t, regressed)
		assert.Equal(t, uint64(40), p.SpentToday)
	})

	t.Run("next day resets counter", func(t *testing.T) {
		p := newTestPolicy(t)
		p.SpentToday = 40
		rolled, regressed := p.RollDay(p.DayIndex + 1)
		assert.True(t, rolled)
		assert.False(t, regressed)
		assert.Zero(t, p.SpentToday)
	})

	t.Run("earlier day resets and flags regression", func(t *testing.T) {
		r := NewRecipientSpend(id.NewPolicyID(), "r1", 100)
		r.SpentToday = 5
		rolled, regressed := r.RollDay(99)
		assert.True(t, rolled)
		assert.True(t, regressed)
		assert.Zero(t, r.SpentToday)
		assert.Equal(t, int64(99), r.DayIndex)
	})
}
