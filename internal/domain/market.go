package domain

import "time"

// Side names one leg of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other leg of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// MarketSnapshot is an immutable per-scan view of one binary market.
// Price and time fields are pointers because the upstream API routinely
// omits them; a missing value must never read as zero.
type MarketSnapshot struct {
	ConditionID  string
	Question     string
	Slug         string
	YesPrice     *float64 // in [0,1]
	NoPrice      *float64 // in [0,1]
	LiquidityUSD float64
	Volume24h    float64
	YesTokenID   string
	NoTokenID    string
	NegRisk      bool
	EndTime      *time.Time
	FetchedAt    time.Time
}

// HoursToResolution returns hours until EndTime relative to now,
// or false when the market carries no end time.
func (m MarketSnapshot) HoursToResolution(now time.Time) (float64, bool) {
	if m.EndTime == nil {
		return 0, false
	}
	return m.EndTime.Sub(now).Hours(), true
}

// EventOutcome is one market inside a neg-risk event.
type EventOutcome struct {
	ConditionID  string
	Question     string
	YesPrice     *float64
	YesTokenID   string
	LiquidityUSD float64
}

// Event groups the outcomes of one mutually-exclusive-and-exhaustive
// neg-risk event. Outcomes keep the order the API returned them in.
type Event struct {
	ID       string
	Title    string
	Slug     string
	NegRisk  bool
	Outcomes []EventOutcome
}
