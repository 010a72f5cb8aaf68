package v201

import (
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// toWireProfile renders a resolver profile as SetChargingProfile expects it.
// txID is the transaction id the device knows.
func toWireProfile(p domain.ChargingProfile, txID string) ChargingProfile {
	schedule := ChargingSchedule{
		Id:               p.ID,
		ChargingRateUnit: string(p.RateUnit),
	}
	if p.StartSchedule != nil {
		schedule.StartSchedule = timeString(*p.StartSchedule)
	}
	if p.Duration != nil {
		secs := int(*p.Duration / time.Second)
		schedule.Duration = &secs
	}
	for _, period := range p.Periods {
		schedule.ChargingSchedulePeriod = append(schedule.ChargingSchedulePeriod, ChargingSchedulePeriod{
			StartPeriod:  int(period.StartOffset / time.Second),
			Limit:        period.Limit,
			NumberPhases: period.NumberPhases,
		})
	}

	out := ChargingProfile{
		Id:                     p.ID,
		StackLevel:             p.StackLevel,
		ChargingProfilePurpose: string(p.Purpose),
		ChargingProfileKind:    string(p.Kind),
		RecurrencyKind:         string(p.Recurrency),
		TransactionId:          txID,
		ChargingSchedule:       []ChargingSchedule{schedule},
	}
	if p.ValidFrom != nil {
		out.ValidFrom = timeString(*p.ValidFrom)
	}
	if p.ValidTo != nil {
		out.ValidTo = timeString(*p.ValidTo)
	}
	return out
}

func timeString(t time.Time) *string {
	s := FormatTime(t)
	return &s
}
