// Package deadline computes days-remaining and urgency tiers for support
// plan deadlines. Everything here is pure and safe for concurrent use.
package deadline

import "time"

// Tier classifies how close a deadline is.
type Tier string

const (
	TierOverdue  Tier = "overdue"
	TierCritical Tier = "critical"
	TierWarning  Tier = "warning"
	TierNormal   Tier = "normal"
)

// RenewalPeriodDays is the fixed length of a plan cycle before renewal.
const RenewalPeriodDays = 180

// DaysRemaining returns the number of whole days until deadline,
// rounding partial days up. Past deadlines yield negative values.
func DaysRemaining(deadline, now time.Time) int {
	diff := deadline.Sub(now)
	days := diff / (24 * time.Hour)
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return int(days)
}

// TierFor maps a days-remaining value onto an urgency tier.
func TierFor(daysRemaining int) Tier {
	switch {
	case daysRemaining < 0:
		return TierOverdue
	case daysRemaining < 7:
		return TierCritical
	case daysRemaining <= 30:
		return TierWarning
	default:
		return TierNormal
	}
}

// RenewalDeadline returns the date a cycle must be renewed by.
func RenewalDeadline(planCycleStartDate time.Time) time.Time {
	return planCycleStartDate.AddDate(0, 0, RenewalPeriodDays)
}
