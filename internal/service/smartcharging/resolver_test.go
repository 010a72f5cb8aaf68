package smartcharging

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

var day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func dur(d time.Duration) *time.Duration { return &d }
func at(t time.Time) *time.Time          { return &t }

func deviceWide16A() domain.ChargingProfile {
	return domain.ChargingProfile{
		ID:            1,
		ChargePointID: "CP-1",
		Purpose:       domain.PurposeTxDefault,
		StackLevel:    1,
		Kind:          domain.ProfileKindRecurring,
		Recurrency:    domain.RecurrencyDaily,
		StartSchedule: at(day0),
		RateUnit:      domain.RateUnitAmps,
		Periods:       []domain.SchedulePeriod{{StartOffset: 0, Limit: 16}},
	}
}

func tx10AFor30Minutes() domain.ChargingProfile {
	return domain.ChargingProfile{
		ID:            2,
		ChargePointID: "CP-1",
		ConnectorID:   1,
		TransactionID: "tx-1",
		Purpose:       domain.PurposeTx,
		StackLevel:    1,
		Kind:          domain.ProfileKindRelative,
		Duration:      dur(30 * time.Minute),
		RateUnit:      domain.RateUnitAmps,
		Periods:       []domain.SchedulePeriod{{StartOffset: 0, Limit: 10}},
	}
}

func query(minutes int) domain.LimitQuery {
	start := day0.Add(9 * time.Hour)
	return domain.LimitQuery{
		ChargePointID:    "CP-1",
		ConnectorID:      1,
		TransactionID:    "tx-1",
		TransactionStart: start,
		At:               start.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestEffectiveLimit_TransactionScopeWinsThenExpires(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)
	_, err = r.Install(tx10AFor30Minutes())
	require.NoError(t, err)

	atTen := r.EffectiveLimit(query(10))
	require.True(t, atTen.Found)
	assert.Equal(t, 10.0, atTen.Value)
	assert.Equal(t, 2, atTen.ProfileID)

	atForty := r.EffectiveLimit(query(40))
	require.True(t, atForty.Found)
	assert.Equal(t, 16.0, atForty.Value)
	assert.Equal(t, 1, atForty.ProfileID)
}

func TestEffectiveLimit_NoProfile(t *testing.T) {
	r := NewResolver(zap.NewNop())
	assert.Equal(t, domain.Limit{}, r.EffectiveLimit(query(0)))
}

func TestEffectiveLimit_HigherStackLevelWins(t *testing.T) {
	r := NewResolver(zap.NewNop())
	base := deviceWide16A()
	_, err := r.Install(base)
	require.NoError(t, err)

	override := deviceWide16A()
	override.ID = 3
	override.StackLevel = 5
	override.Periods = []domain.SchedulePeriod{{StartOffset: 0, Limit: 6}}
	_, err = r.Install(override)
	require.NoError(t, err)

	limit := r.EffectiveLimit(query(10))
	assert.Equal(t, 6.0, limit.Value)
}

func TestEffectiveLimit_PicksPeriodByOffset(t *testing.T) {
	r := NewResolver(zap.NewNop())
	p := domain.ChargingProfile{
		ID:            7,
		ChargePointID: "CP-1",
		ConnectorID:   1,
		Purpose:       domain.PurposeTxDefault,
		Kind:          domain.ProfileKindAbsolute,
		StartSchedule: at(day0),
		RateUnit:      domain.RateUnitWatts,
		Periods: []domain.SchedulePeriod{
			{StartOffset: 0, Limit: 11000},
			{StartOffset: time.Hour, Limit: 7400},
			{StartOffset: 2 * time.Hour, Limit: 3700},
		},
	}
	_, err := r.Install(p)
	require.NoError(t, err)

	q := domain.LimitQuery{ChargePointID: "CP-1", ConnectorID: 1}
	for _, tc := range []struct {
		offset time.Duration
		want   float64
	}{
		{0, 11000},
		{59 * time.Minute, 11000},
		{time.Hour, 7400},
		{5 * time.Hour, 3700},
	} {
		q.At = day0.Add(tc.offset)
		limit := r.EffectiveLimit(q)
		assert.Equal(t, tc.want, limit.Value, "offset %s", tc.offset)
		assert.Equal(t, domain.RateUnitWatts, limit.Unit)
	}

	q.At = day0.Add(-time.Minute)
	assert.False(t, r.EffectiveLimit(q).Found, "absolute schedule must not apply before its start")
}

func TestEffectiveLimit_DailyRecurrence(t *testing.T) {
	r := NewResolver(zap.NewNop())
	p := deviceWide16A()
	p.Periods = []domain.SchedulePeriod{
		{StartOffset: 0, Limit: 32},
		{StartOffset: 18 * time.Hour, Limit: 8},
	}
	_, err := r.Install(p)
	require.NoError(t, err)

	q := domain.LimitQuery{ChargePointID: "CP-1", ConnectorID: 2}
	q.At = day0.AddDate(0, 0, 3).Add(19 * time.Hour)
	assert.Equal(t, 8.0, r.EffectiveLimit(q).Value)
	q.At = day0.AddDate(0, 0, 4).Add(time.Hour)
	assert.Equal(t, 32.0, r.EffectiveLimit(q).Value)
}

func TestRecurringStart(t *testing.T) {
	sundayNight := day0.AddDate(0, 0, 6).Add(22 * time.Hour)
	tests := []struct {
		name       string
		recurrency domain.RecurrencyKind
		anchor     time.Time
		at         time.Time
		want       time.Time
	}{
		{"before anchor", domain.RecurrencyDaily, day0, day0.Add(-time.Hour), day0},
		{"daily same day", domain.RecurrencyDaily, day0, day0.Add(9 * time.Hour), day0},
		{"daily later day", domain.RecurrencyDaily, day0, day0.AddDate(0, 0, 3).Add(time.Hour), day0.AddDate(0, 0, 3)},
		{"weekly late in first week", domain.RecurrencyWeekly, day0, day0.AddDate(0, 0, 6).Add(23 * time.Hour), day0},
		{"weekly following week uses that week's anchor", domain.RecurrencyWeekly, day0, day0.AddDate(0, 0, 9).Add(3 * time.Hour), day0.AddDate(0, 0, 7)},
		{"weekly window crosses week boundary", domain.RecurrencyWeekly, sundayNight, day0.AddDate(0, 0, 14).Add(time.Hour), sundayNight.AddDate(0, 0, 7)},
		{"weekly exactly on boundary", domain.RecurrencyWeekly, sundayNight, sundayNight.AddDate(0, 0, 14), sundayNight.AddDate(0, 0, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := deviceWide16A()
			p.Recurrency = tt.recurrency
			p.StartSchedule = at(tt.anchor)
			assert.Equal(t, tt.want, recurringStart(&p, tt.at))
		})
	}
}

func TestEffectiveLimit_WeeklyRecurrenceAcrossWeekBoundary(t *testing.T) {
	r := NewResolver(zap.NewNop())
	p := deviceWide16A()
	p.Recurrency = domain.RecurrencyWeekly
	p.StartSchedule = at(day0.AddDate(0, 0, 6).Add(22 * time.Hour))
	p.Periods = []domain.SchedulePeriod{
		{StartOffset: 0, Limit: 11},
		{StartOffset: 4 * time.Hour, Limit: 22},
	}
	_, err := r.Install(p)
	require.NoError(t, err)

	q := domain.LimitQuery{ChargePointID: "CP-1", ConnectorID: 1}
	q.At = day0.AddDate(0, 0, 14).Add(time.Hour)
	assert.Equal(t, 11.0, r.EffectiveLimit(q).Value)
	q.At = day0.AddDate(0, 0, 14).Add(3 * time.Hour)
	assert.Equal(t, 22.0, r.EffectiveLimit(q).Value)
}

func TestEffectiveLimit_ValidityWindow(t *testing.T) {
	r := NewResolver(zap.NewNop())
	p := deviceWide16A()
	p.ValidFrom = at(day0.Add(8 * time.Hour))
	p.ValidTo = at(day0.Add(9*time.Hour + 20*time.Minute))
	_, err := r.Install(p)
	require.NoError(t, err)

	assert.True(t, r.EffectiveLimit(query(10)).Found)
	assert.False(t, r.EffectiveLimit(query(20)).Found, "ValidTo is exclusive")
}

func TestInstallThenClear_RestoresPriorResult(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)
	before := r.EffectiveLimit(query(10))

	_, err = r.Install(tx10AFor30Minutes())
	require.NoError(t, err)
	require.NotEqual(t, before, r.EffectiveLimit(query(10)))

	id := 2
	removed := r.Clear(domain.ProfileSelector{ID: &id})
	require.Len(t, removed, 1)
	assert.Equal(t, before, r.EffectiveLimit(query(10)))
}

func TestInstall_SameIDReplaces(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)

	updated := deviceWide16A()
	updated.Periods = []domain.SchedulePeriod{{StartOffset: 0, Limit: 20}}
	replaced, err := r.Install(updated)
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Equal(t, 16.0, replaced.Periods[0].Limit)

	assert.Len(t, r.Profiles("CP-1"), 1)
	assert.Equal(t, 20.0, r.EffectiveLimit(query(0)).Value)
}

func TestInstall_CollisionRejected(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)

	clash := deviceWide16A()
	clash.ID = 9
	_, err = r.Install(clash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
	assert.Len(t, r.Profiles("CP-1"), 1)
}

func TestInstall_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.ChargingProfile)
	}{
		{"no periods", func(p *domain.ChargingProfile) { p.Periods = nil }},
		{"first offset not zero", func(p *domain.ChargingProfile) { p.Periods[0].StartOffset = time.Minute }},
		{"negative limit", func(p *domain.ChargingProfile) { p.Periods[0].Limit = -1 }},
		{"offsets not increasing", func(p *domain.ChargingProfile) {
			p.Periods = append(p.Periods, domain.SchedulePeriod{StartOffset: 0, Limit: 5})
		}},
		{"empty validity window", func(p *domain.ChargingProfile) {
			p.ValidFrom = at(day0)
			p.ValidTo = at(day0)
		}},
		{"recurring without recurrency", func(p *domain.ChargingProfile) { p.Recurrency = domain.RecurrencyNone }},
		{"tx profile without transaction", func(p *domain.ChargingProfile) { p.Purpose = domain.PurposeTx }},
		{"station max on a connector", func(p *domain.ChargingProfile) {
			p.Purpose = domain.PurposeChargingStationMax
			p.ConnectorID = 1
		}},
		{"unknown unit", func(p *domain.ChargingProfile) { p.RateUnit = "kW" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(zap.NewNop())
			p := deviceWide16A()
			tt.mutate(&p)
			_, err := r.Install(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrProtocolFormat))
			assert.Empty(t, r.Profiles("CP-1"))
		})
	}
}

func TestClear_BySelector(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)
	_, err = r.Install(tx10AFor30Minutes())
	require.NoError(t, err)

	other := deviceWide16A()
	other.ChargePointID = "CP-2"
	other.ID = 11
	_, err = r.Install(other)
	require.NoError(t, err)

	removed := r.Clear(domain.ProfileSelector{Purpose: domain.PurposeTxDefault, ChargePointID: "CP-1"})
	require.Len(t, removed, 1)
	assert.Equal(t, 1, removed[0].ID)
	assert.Len(t, r.Profiles("CP-1"), 1)
	assert.Len(t, r.Profiles("CP-2"), 1)
}

func TestRestore_RollsBackReplacement(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)

	updated := deviceWide16A()
	updated.Periods = []domain.SchedulePeriod{{StartOffset: 0, Limit: 20}}
	previous, err := r.Install(updated)
	require.NoError(t, err)

	r.Restore("CP-1", updated.ID, previous)
	assert.Equal(t, 16.0, r.EffectiveLimit(query(0)).Value)

	r.Restore("CP-1", tx10AFor30Minutes().ID, nil)
	assert.Len(t, r.Profiles("CP-1"), 1)
}

func TestRestore_ReadersNeverSeeTheProfileMissing(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)

	updated := deviceWide16A()
	updated.Periods = []domain.SchedulePeriod{{StartOffset: 0, Limit: 20}}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			previous, err := r.Install(updated)
			if err != nil {
				break
			}
			r.Restore("CP-1", updated.ID, previous)
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			limit := r.EffectiveLimit(query(0))
			assert.Equal(t, 16.0, limit.Value)
			return
		default:
			limit := r.EffectiveLimit(query(0))
			if !limit.Found {
				t.Fatal("profile 1 vanished while being restored")
			}
			if limit.Value != 16 && limit.Value != 20 {
				t.Fatalf("unexpected limit %v", limit.Value)
			}
		}
	}
}

func TestRestore_SkipsPreviousWhenItsSlotWasTaken(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)
	previous := deviceWide16A()
	id := previous.ID
	r.Clear(domain.ProfileSelector{ID: &id, ChargePointID: "CP-1"})

	squatter := deviceWide16A()
	squatter.ID = 7
	_, err = r.Install(squatter)
	require.NoError(t, err)

	r.Restore("CP-1", 99, &previous)
	profiles := r.Profiles("CP-1")
	require.Len(t, profiles, 1)
	assert.Equal(t, 7, profiles[0].ID)
}

func TestEffectiveLimit_ConcurrentReadersSeeCompleteProfiles(t *testing.T) {
	r := NewResolver(zap.NewNop())
	_, err := r.Install(deviceWide16A())
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = r.Install(tx10AFor30Minutes())
			id := 2
			r.Clear(domain.ProfileSelector{ID: &id})
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
			v := r.EffectiveLimit(query(10)).Value
			if v != 10 && v != 16 {
				t.Fatalf("unexpected limit %v", v)
			}
		}
	}
}
