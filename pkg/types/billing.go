package types

import "time"

// BillingCycle is how often a tracked subscription charges.
type BillingCycle string

const (
	BillingCycleWeekly     BillingCycle = "weekly"
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleQuarterly  BillingCycle = "quarterly"
	BillingCycleSemiAnnual BillingCycle = "semi_annual"
	BillingCycleAnnual     BillingCycle = "annual"
)

var BillingCycles = []BillingCycle{
	BillingCycleWeekly,
	BillingCycleMonthly,
	BillingCycleQuarterly,
	BillingCycleSemiAnnual,
	BillingCycleAnnual,
}

func (c BillingCycle) Valid() bool {
	for _, v := range BillingCycles {
		if v == c {
			return true
		}
	}
	return false
}

func (c BillingCycle) months() int {
	switch c {
	case BillingCycleMonthly:
		return 1
	case BillingCycleQuarterly:
		return 3
	case BillingCycleSemiAnnual:
		return 6
	case BillingCycleAnnual:
		return 12
	}
	return 0
}

// Advance moves t forward by n cycles. Month based cycles clamp to the last
// day of the target month, so Jan 31 + 1 month is Feb 28/29.
func (c BillingCycle) Advance(t time.Time, n int) time.Time {
	if c == BillingCycleWeekly {
		return t.AddDate(0, 0, 7*n)
	}
	return addMonthsClamped(t, c.months()*n)
}

// NextAfter returns the first cycle boundary strictly after ref, starting
// from anchor. If anchor is already after ref it is returned unchanged.
func (c BillingCycle) NextAfter(anchor, ref time.Time) time.Time {
	if !c.Valid() {
		return anchor
	}
	next := anchor
	for n := 1; !next.After(ref); n++ {
		next = c.Advance(anchor, n)
	}
	return next
}

// MonthlyAmount spreads amount over one month of this cycle, rounding down.
func (c BillingCycle) MonthlyAmount(amount int64) int64 {
	if c == BillingCycleWeekly {
		return amount * 52 / 12
	}
	if m := c.months(); m > 0 {
		return amount / int64(m)
	}
	return 0
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// SubscriptionStatus is the lifecycle state of a tracked subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusPaused, SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// BillingTransactionKind tells how a payment of a tracked subscription was recorded.
type BillingTransactionKind string

const (
	BillingTransactionKindManual BillingTransactionKind = "manual"
	BillingTransactionKindAuto   BillingTransactionKind = "auto"
)
