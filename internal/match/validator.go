package match

import (
	"time"

	"github.com/quicktap/arena/internal/domain"
)

// Verdict is the outcome of validating a round submission
type Verdict int

const (
	// Accept records the score.
	Accept Verdict = iota
	// Drop ignores the submission without telling the client.
	Drop
	// Reject terminates the connection.
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Drop:
		return "drop"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Rejection texts sent to the offending client before it is disconnected
const (
	ReasonImpossibleReaction = "CHEAT DETECTED: Impossible reaction time"
	ReasonExcessiveLag       = "Connection too unstable or manipulation detected"
)

// Decision explains a Verdict
type Decision struct {
	Verdict    Verdict
	Reason     string
	ImpliedLag time.Duration
	// Suspicious is set for accepted scores whose implied lag exceeds the warning threshold
	Suspicious bool
}

// ValidatorRules are the integrity thresholds
type ValidatorRules struct {
	RateLimitWindow time.Duration
	MinReactionTime time.Duration
	SuspiciousLag   time.Duration
	MaxLag          time.Duration
}

// DefaultValidatorRules returns the production thresholds
func DefaultValidatorRules() ValidatorRules {
	return ValidatorRules{
		RateLimitWindow: 200 * time.Millisecond,
		MinReactionTime: 100 * time.Millisecond,
		SuspiciousLag:   400 * time.Millisecond,
		MaxLag:          800 * time.Millisecond,
	}
}

// Validator checks claimed reaction times against server-observed timing
type Validator struct {
	rules ValidatorRules
}

// NewValidator creates a validator
func NewValidator(rules ValidatorRules) *Validator {
	return &Validator{rules: rules}
}

// Validate applies rate limiting, the human floor and the lag window, first failure wins.
// It never mutates the room or player.
func (v *Validator) Validate(room *domain.Room, player *domain.Player, scoreMs int, now time.Time) Decision {
	if !player.LastActionTime.IsZero() && now.Sub(player.LastActionTime) < v.rules.RateLimitWindow {
		return Decision{Verdict: Drop, Reason: "rate limited"}
	}

	claimed := time.Duration(scoreMs) * time.Millisecond
	if claimed < v.rules.MinReactionTime {
		return Decision{Verdict: Reject, Reason: ReasonImpossibleReaction}
	}

	if room.StartTime == nil {
		return Decision{Verdict: Accept}
	}

	// A claim longer than the elapsed round is honest lag and never rejected.
	lag := now.Sub(*room.StartTime) - claimed
	d := Decision{Verdict: Accept, ImpliedLag: lag}
	switch {
	case lag > v.rules.MaxLag:
		d.Verdict = Reject
		d.Reason = ReasonExcessiveLag
	case lag > v.rules.SuspiciousLag:
		d.Suspicious = true
	}
	return d
}
