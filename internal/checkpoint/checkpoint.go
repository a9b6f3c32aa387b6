// Package checkpoint holds the presence-verification state machine of an attempt.
// All timers are evaluated lazily against stored timestamps; nothing here runs in
// the background.
package checkpoint

import (
	"math/rand/v2"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Policy configures intervals and escalation thresholds.
type Policy struct {
	IntervalMin   time.Duration
	IntervalMax   time.Duration
	CooldownAfter int
	Cooldown      time.Duration
	LockAfter     int
	Lockout       time.Duration
	WarningWindow time.Duration
}

// DefaultPolicy is a 4-5 minute randomized interval, 30s cooldown after 3 strikes
// and a 5 minute lockout after 6.
func DefaultPolicy() Policy {
	return Policy{
		IntervalMin:   240 * time.Second,
		IntervalMax:   300 * time.Second,
		CooldownAfter: 3,
		Cooldown:      30 * time.Second,
		LockAfter:     6,
		Lockout:       5 * time.Minute,
		WarningWindow: 30 * time.Second,
	}
}

// Flags are derived from an attempt at read time and never stored.
type Flags struct {
	Due          bool `json:"due"`
	Warning      bool `json:"warning"`
	InCooldown   bool `json:"inCooldown"`
	IsLocked     bool `json:"isLocked"`
	Blocked      bool `json:"blocked"`
	SecondsToDue int  `json:"secondsToDue"`
}

// Machine applies a Policy. The interval source is swappable for tests.
type Machine struct {
	policy   Policy
	interval func() time.Duration
}

func New(policy Policy) *Machine {
	m := &Machine{policy: policy}
	m.interval = m.randomInterval
	return m
}

// NewWithInterval pins the next-checkpoint interval (tests).
func NewWithInterval(policy Policy, interval func() time.Duration) *Machine {
	return &Machine{policy: policy, interval: interval}
}

func (m *Machine) randomInterval() time.Duration {
	span := m.policy.IntervalMax - m.policy.IntervalMin
	if span <= 0 {
		return m.policy.IntervalMin
	}
	secs := int64(span / time.Second)
	return m.policy.IntervalMin + time.Duration(rand.Int64N(secs+1))*time.Second
}

// Flags computes the runtime view of a.
func (m *Machine) Flags(a domain.Attempt, now time.Time) Flags {
	f := Flags{}
	if a.Status == domain.AttemptSubmitted {
		return f
	}
	f.Due = !now.Before(a.NextDueAt)
	f.Warning = !f.Due && !now.Before(a.NextDueAt.Add(-m.policy.WarningWindow))
	f.InCooldown = a.CooldownUntil != nil && now.Before(*a.CooldownUntil)
	f.IsLocked = a.Status == domain.AttemptLocked || (a.LockedUntil != nil && now.Before(*a.LockedUntil))
	f.Blocked = f.Due || f.IsLocked
	if !f.Due {
		f.SecondsToDue = int(a.NextDueAt.Sub(now).Round(time.Second) / time.Second)
	}
	return f
}

// Gate rejects a verify before any token comparison. Neither rejection is a strike.
func (m *Machine) Gate(a domain.Attempt, now time.Time) error {
	if a.LockedUntil != nil && now.Before(*a.LockedUntil) {
		return domain.ErrAttemptLocked
	}
	if a.CooldownUntil != nil && now.Before(*a.CooldownUntil) {
		return domain.ErrCooldown
	}
	return nil
}

// Schedule sets the next checkpoint and clears every penalty. Used on join and on a
// successful verify; a locked attempt returns to active.
func (m *Machine) Schedule(a *domain.Attempt, now time.Time) {
	a.NextDueAt = now.Add(m.interval())
	a.FailedCount = 0
	a.CooldownUntil = nil
	a.LockedUntil = nil
	if a.Status == domain.AttemptLocked {
		a.Status = domain.AttemptActive
	}
}

// Verified records a successful verify and returns the log event.
func (m *Machine) Verified(a *domain.Attempt, now time.Time) string {
	m.Schedule(a, now)
	t := now
	a.LastVerifiedAt = &t
	return domain.EventVerifyOK
}

// Fail records a wrong token and returns the log event.
func (m *Machine) Fail(a *domain.Attempt, now time.Time) string {
	a.FailedCount++
	event := domain.EventVerifyFail
	if a.FailedCount >= m.policy.CooldownAfter {
		until := now.Add(m.policy.Cooldown)
		a.CooldownUntil = &until
	}
	if a.FailedCount >= m.policy.LockAfter {
		until := now.Add(m.policy.Lockout)
		a.LockedUntil = &until
		a.Status = domain.AttemptLocked
		event = domain.EventLocked
	}
	return event
}
