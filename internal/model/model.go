// Package model holds the pairing scope types shared by storage, membership and
// the pass coordinator.
package model

import "time"

// Channel is a pairing scope on the messaging platform.
type Channel struct {
	ID           string
	TeamID       string
	EnterpriseID string // empty for non-grid workspaces
	Active       bool

	// LastSentOn is the day the last batch was produced. Zero means never paired.
	LastSentOn time.Time

	// Circle is the rotation-maintained member order. It is bookkeeping only and
	// does not feed pair generation.
	Circle []string

	CreatedAt time.Time
}

// EligibleForPairing reports whether the channel is active and was never paired
// or last paired at least recurrence ago.
func (c Channel) EligibleForPairing(today time.Time, recurrence time.Duration) bool {
	if !c.Active {
		return false
	}
	if c.LastSentOn.IsZero() {
		return true
	}
	return !c.LastSentOn.After(Day(today).Add(-recurrence))
}

// Member is a cached channel participant.
type Member struct {
	ChannelID string
	TeamID    string
	ID        string
	OptedIn   bool
}

// Day truncates t to midnight UTC. Dates in this system have day granularity.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayIn is the calendar date of t in loc, as midnight UTC. A nil loc means
// UTC.
func DayIn(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayString formats a day as YYYY-MM-DD ("" for zero).
func DayString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Day(t).Format(time.DateOnly)
}

// ParseDay parses YYYY-MM-DD; an empty string yields the zero time.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
