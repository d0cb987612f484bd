package billing

import "time"

// defaultPeriod applies to plan codes outside the catalog. It is a fixed
// duration, not a calendar month.
const defaultPeriod = 30 * 24 * time.Hour

// PeriodEnd returns the end of the billing period that starts at start for the
// given plan code. Catalog plans advance by calendar months; a start day that
// does not exist in the target month is clamped to that month's last day.
func PeriodEnd(planCode string, start time.Time) time.Time {
	p, ok := LookupPlan(planCode)
	if !ok || p.Months <= 0 {
		return start.Add(defaultPeriod)
	}
	return addMonthsClamped(start, p.Months)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	target := time.Date(y, m+time.Month(months), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
