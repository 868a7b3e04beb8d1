package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDaysRemaining(t *testing.T) {
	deadline := date(2025, time.March, 10)

	t.Run("three days before", func(t *testing.T) {
		assert.Equal(t, 3, DaysRemaining(deadline, deadline.AddDate(0, 0, -3)))
	})

	t.Run("same instant", func(t *testing.T) {
		assert.Equal(t, 0, DaysRemaining(deadline, deadline))
	})

	t.Run("partial days round up", func(t *testing.T) {
		now := deadline.Add(-25 * time.Hour)
		assert.Equal(t, 2, DaysRemaining(deadline, now))
	})

	t.Run("past deadline is negative", func(t *testing.T) {
		assert.Equal(t, -1, DaysRemaining(deadline, deadline.AddDate(0, 0, 1)))
		assert.Equal(t, -5, DaysRemaining(deadline, deadline.AddDate(0, 0, 5)))
	})
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		days int
		want Tier
	}{
		{-1, TierOverdue},
		{-30, TierOverdue},
		{0, TierCritical},
		{3, TierCritical},
		{6, TierCritical},
		{7, TierWarning},
		{30, TierWarning},
		{31, TierNormal},
		{180, TierNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.days), "days=%d", tt.days)
	}
}

func TestRenewalDeadline(t *testing.T) {
	start := date(2025, time.January, 1)
	renewal := RenewalDeadline(start)
	assert.Equal(t, date(2025, time.June, 30), renewal)

	t.Run("170 days in is a warning", func(t *testing.T) {
		now := date(2025, time.June, 20)
		days := DaysRemaining(renewal, now)
		assert.Equal(t, 10, days)
		assert.Equal(t, TierWarning, TierFor(days))
	})

	t.Run("185 days in is overdue", func(t *testing.T) {
		now := date(2025, time.July, 5)
		assert.Equal(t, TierOverdue, TierFor(DaysRemaining(renewal, now)))
	})
}
