package smartcharging

import (
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

const week = 7 * 24 * time.Hour

// Resolve computes the effective limit for q from profiles alone. It reads
// nothing else, so the same inputs always give the same answer.
func Resolve(profiles []domain.ChargingProfile, q domain.LimitQuery) domain.Limit {
	var (
		best       *domain.ChargingProfile
		bestOffset time.Duration
	)
	for i := range profiles {
		p := &profiles[i]
		if !applies(p, q) {
			continue
		}
		offset, ok := scheduleOffset(p, q)
		if !ok {
			continue
		}
		if best == nil || outranks(p, best) {
			best = p
			bestOffset = offset
		}
	}
	if best == nil {
		return domain.Limit{}
	}

	period := best.Periods[0]
	for _, candidate := range best.Periods[1:] {
		if candidate.StartOffset > bestOffset {
			break
		}
		period = candidate
	}
	return domain.Limit{
		Found:        true,
		Value:        period.Limit,
		Unit:         best.RateUnit,
		ProfileID:    best.ID,
		NumberPhases: period.NumberPhases,
	}
}

// applies checks scope and validity window.
func applies(p *domain.ChargingProfile, q domain.LimitQuery) bool {
	if p.ChargePointID != q.ChargePointID {
		return false
	}
	switch p.Scope() {
	case domain.ProfileScopeTransaction:
		if q.TransactionID == "" || p.TransactionID != q.TransactionID {
			return false
		}
		if p.ConnectorID != 0 && p.ConnectorID != q.ConnectorID {
			return false
		}
	case domain.ProfileScopeConnector:
		if p.ConnectorID != q.ConnectorID {
			return false
		}
	}
	if p.ValidFrom != nil && q.At.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && !q.At.Before(*p.ValidTo) {
		return false
	}
	return true
}

// scheduleOffset is how far q.At lies into the profile's schedule. It is false
// when the schedule has not started yet or its duration has run out.
func scheduleOffset(p *domain.ChargingProfile, q domain.LimitQuery) (time.Duration, bool) {
	var start time.Time
	switch p.Kind {
	case domain.ProfileKindAbsolute:
		start = *p.StartSchedule
	case domain.ProfileKindRecurring:
		start = recurringStart(p, q.At)
	case domain.ProfileKindRelative:
		if q.TransactionStart.IsZero() {
			return 0, false
		}
		start = q.TransactionStart
	}

	offset := q.At.Sub(start)
	if offset < 0 {
		return 0, false
	}
	if p.Duration != nil && offset >= *p.Duration {
		return 0, false
	}
	return offset, true
}

// recurringStart is the latest occurrence of the schedule start not after at.
func recurringStart(p *domain.ChargingProfile, at time.Time) time.Time {
	anchor := *p.StartSchedule
	if at.Before(anchor) {
		return anchor
	}
	period := 24 * time.Hour
	if p.Recurrency == domain.RecurrencyWeekly {
		period = week
	}
	cycles := at.Sub(anchor) / period
	return anchor.Add(cycles * period)
}

// outranks orders candidates: higher stack level, then more specific scope,
// then the lower profile ID.
func outranks(a, b *domain.ChargingProfile) bool {
	if a.StackLevel != b.StackLevel {
		return a.StackLevel > b.StackLevel
	}
	if a.Scope() != b.Scope() {
		return a.Scope() > b.Scope()
	}
	return a.ID < b.ID
}
