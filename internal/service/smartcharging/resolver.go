package smartcharging

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// profileSet is an immutable snapshot of one device's profiles.
type profileSet []domain.ChargingProfile

// Resolver keeps the installed charging profiles and computes effective limits.
// Writers copy the affected device's slice and swap the pointer, so readers
// always see a complete snapshot without taking a lock.
type Resolver struct {
	mu      sync.Mutex // serialises writers
	devices sync.Map   // chargePointID -> *atomic.Pointer[profileSet]
	log     *zap.Logger
}

func NewResolver(log *zap.Logger) *Resolver {
	return &Resolver{log: log}
}

var _ ports.SmartChargingService = (*Resolver)(nil)

func (r *Resolver) slot(chargePointID string) *atomic.Pointer[profileSet] {
	v, _ := r.devices.LoadOrStore(chargePointID, new(atomic.Pointer[profileSet]))
	return v.(*atomic.Pointer[profileSet])
}

func (r *Resolver) snapshot(chargePointID string) profileSet {
	v, ok := r.devices.Load(chargePointID)
	if !ok {
		return nil
	}
	if p := v.(*atomic.Pointer[profileSet]).Load(); p != nil {
		return *p
	}
	return nil
}

// Install adds a profile, atomically replacing the device's profile with the
// same ID. It returns the replaced profile, if any.
func (r *Resolver) Install(profile domain.ChargingProfile) (*domain.ChargingProfile, error) {
	if err := Validate(&profile); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *domain.ChargingProfile
	ptr := r.slot(profile.ChargePointID)
	var cur profileSet
	if p := ptr.Load(); p != nil {
		cur = *p
	}

	next := make(profileSet, 0, len(cur)+1)
	for i := range cur {
		existing := cur[i]
		if existing.ID == profile.ID {
			old := existing
			replaced = &old
			continue
		}
		if collides(&existing, &profile) {
			return nil, fmt.Errorf("%w: profile %d already occupies stack level %d for %s on connector %d",
				domain.ErrStateConflict, existing.ID, existing.StackLevel, existing.Purpose, existing.ConnectorID)
		}
		next = append(next, existing)
	}
	next = append(next, cloneProfile(profile))
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	ptr.Store(&next)

	r.log.Debug("charging profile installed",
		zap.String("charge_point_id", profile.ChargePointID),
		zap.Int("profile_id", profile.ID),
		zap.Int("stack_level", profile.StackLevel),
		zap.String("purpose", string(profile.Purpose)),
		zap.Bool("replaced", replaced != nil),
	)
	return replaced, nil
}

// Restore puts back a profile removed or replaced by a failed install. A nil
// previous simply removes the profile with the given ID.
func (r *Resolver) Restore(chargePointID string, profileID int, previous *domain.ChargingProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ptr := r.slot(chargePointID)
	var cur profileSet
	if p := ptr.Load(); p != nil {
		cur = *p
	}

	next := make(profileSet, 0, len(cur)+1)
	for i := range cur {
		if cur[i].ID == profileID {
			continue
		}
		if previous != nil && cur[i].ID == previous.ID {
			continue
		}
		next = append(next, cur[i])
	}
	if previous != nil {
		for i := range next {
			if collides(&next[i], previous) {
				r.log.Error("failed to restore charging profile",
					zap.String("charge_point_id", chargePointID),
					zap.Int("profile_id", previous.ID),
					zap.Int("blocking_profile_id", next[i].ID),
				)
				previous = nil
				break
			}
		}
	}
	if previous != nil {
		next = append(next, cloneProfile(*previous))
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	}
	ptr.Store(&next)
}

// Clear removes every profile the selector matches and returns them.
func (r *Resolver) Clear(selector domain.ProfileSelector) []domain.ChargingProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.ChargingProfile
	r.devices.Range(func(key, value any) bool {
		if selector.ChargePointID != "" && key.(string) != selector.ChargePointID {
			return true
		}
		ptr := value.(*atomic.Pointer[profileSet])
		cur := ptr.Load()
		if cur == nil {
			return true
		}
		next := make(profileSet, 0, len(*cur))
		for i := range *cur {
			if selector.Matches(&(*cur)[i]) {
				removed = append(removed, (*cur)[i])
				continue
			}
			next = append(next, (*cur)[i])
		}
		if len(next) != len(*cur) {
			ptr.Store(&next)
		}
		return true
	})
	return removed
}

// Profiles lists a device's installed profiles ordered by ID.
func (r *Resolver) Profiles(chargePointID string) []domain.ChargingProfile {
	set := r.snapshot(chargePointID)
	out := make([]domain.ChargingProfile, len(set))
	copy(out, set)
	return out
}

// EffectiveLimit resolves the limit against the current snapshot.
func (r *Resolver) EffectiveLimit(q domain.LimitQuery) domain.Limit {
	return Resolve(r.snapshot(q.ChargePointID), q)
}

// Validate rejects profiles the resolver could not evaluate unambiguously.
func Validate(p *domain.ChargingProfile) error {
	if p.ChargePointID == "" {
		return fmt.Errorf("%w: charge point id is required", domain.ErrProtocolFormat)
	}
	if p.ConnectorID < 0 {
		return fmt.Errorf("%w: connector id must not be negative", domain.ErrProtocolFormat)
	}
	if p.StackLevel < 0 {
		return fmt.Errorf("%w: stack level must not be negative", domain.ErrProtocolFormat)
	}
	if len(p.Periods) == 0 {
		return fmt.Errorf("%w: schedule has no periods", domain.ErrProtocolFormat)
	}
	if p.Periods[0].StartOffset != 0 {
		return fmt.Errorf("%w: first period must start at offset 0", domain.ErrProtocolFormat)
	}
	for i, period := range p.Periods {
		if period.Limit < 0 {
			return fmt.Errorf("%w: period %d has a negative limit", domain.ErrProtocolFormat, i)
		}
		if i > 0 && period.StartOffset <= p.Periods[i-1].StartOffset {
			return fmt.Errorf("%w: period offsets must be strictly increasing", domain.ErrProtocolFormat)
		}
	}
	if p.ValidFrom != nil && p.ValidTo != nil && !p.ValidFrom.Before(*p.ValidTo) {
		return fmt.Errorf("%w: validity window is empty", domain.ErrProtocolFormat)
	}
	if p.Duration != nil && *p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", domain.ErrProtocolFormat)
	}

	switch p.Kind {
	case domain.ProfileKindAbsolute:
		if p.StartSchedule == nil {
			return fmt.Errorf("%w: absolute profile needs a start schedule", domain.ErrProtocolFormat)
		}
	case domain.ProfileKindRecurring:
		if p.Recurrency != domain.RecurrencyDaily && p.Recurrency != domain.RecurrencyWeekly {
			return fmt.Errorf("%w: recurring profile needs a Daily or Weekly recurrency", domain.ErrProtocolFormat)
		}
		if p.StartSchedule == nil {
			return fmt.Errorf("%w: recurring profile needs a start schedule", domain.ErrProtocolFormat)
		}
	case domain.ProfileKindRelative:
	default:
		return fmt.Errorf("%w: unknown profile kind %q", domain.ErrProtocolFormat, p.Kind)
	}

	switch p.Purpose {
	case domain.PurposeTx:
		if p.TransactionID == "" {
			return fmt.Errorf("%w: TxProfile needs a transaction id", domain.ErrProtocolFormat)
		}
	case domain.PurposeChargingStationMax, domain.PurposeChargingStationExternal:
		if p.ConnectorID != 0 {
			return fmt.Errorf("%w: %s applies to the whole device", domain.ErrProtocolFormat, p.Purpose)
		}
		if p.TransactionID != "" {
			return fmt.Errorf("%w: %s cannot target a transaction", domain.ErrProtocolFormat, p.Purpose)
		}
	case domain.PurposeTxDefault:
		if p.TransactionID != "" {
			return fmt.Errorf("%w: TxDefaultProfile cannot target a transaction", domain.ErrProtocolFormat)
		}
	default:
		return fmt.Errorf("%w: unknown purpose %q", domain.ErrProtocolFormat, p.Purpose)
	}

	switch p.RateUnit {
	case domain.RateUnitAmps, domain.RateUnitWatts:
	default:
		return fmt.Errorf("%w: unknown rate unit %q", domain.ErrProtocolFormat, p.RateUnit)
	}
	return nil
}

// collides reports whether two different profiles would compete ambiguously.
func collides(a, b *domain.ChargingProfile) bool {
	return a.ID != b.ID &&
		a.ChargePointID == b.ChargePointID &&
		a.ConnectorID == b.ConnectorID &&
		a.TransactionID == b.TransactionID &&
		a.Purpose == b.Purpose &&
		a.StackLevel == b.StackLevel
}

func cloneProfile(p domain.ChargingProfile) domain.ChargingProfile {
	p.Periods = append([]domain.SchedulePeriod(nil), p.Periods...)
	return p
}
