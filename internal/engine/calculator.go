package engine

import (
	"context"
	"time"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/danutirta/meterflow/internal/tariff"
	"github.com/shopspring/decimal"
)

// Row is one metric result produced by a calculator for a (meter, day).
//
// IsAggregate marks pre-summed total rows that the aggregator must exclude
// from the cost roll-up. IsComponent marks peak/off-peak component rows that
// the aggregator must exclude from the consumption roll-up.
type Row struct {
	MetricName      string
	CurrentReading  decimal.Decimal
	PreviousReading decimal.Decimal
	Consumption     decimal.Decimal
	Cost            decimal.Decimal
	RemainingStock  *decimal.Decimal
	WBPValue        *decimal.Decimal
	LWBPValue       *decimal.Decimal
	IsAggregate     bool
	IsComponent     bool
}

// CalcInput is everything a calculator needs for one (meter, day) unit.
// Current is never nil; Previous is nil when the meter has no earlier
// session. Rates is the scheme resolved for the meter's tariff group at Day.
type CalcInput struct {
	Store    storage.Storage
	Meter    *storage.Meter
	Day      time.Time
	Current  *storage.ReadingSession
	Previous *storage.ReadingSession
	Rates    *tariff.Resolved
}

// Calculator turns a day's readings into metric rows plus alert intents.
// Intents are decisions only; the caller dispatches them after the summary
// write succeeds.
type Calculator interface {
	Calculate(ctx context.Context, in CalcInput) ([]Row, []alerting.Intent, error)
}

// ForMeter selects the calculator for a meter's energy kind and category.
// The set is closed; an unknown energy kind is a configuration error.
func ForMeter(m *storage.Meter) (Calculator, error) {
	switch m.EnergyType.Name {
	case storage.EnergyElectricity:
		if m.Category.Name == storage.CategoryOffice {
			return officeElectricityCalculator{}, nil
		}
		return terminalElectricityCalculator{}, nil
	case storage.EnergyWater:
		return waterCalculator{}, nil
	case storage.EnergyFuel:
		return fuelCalculator{}, nil
	default:
		return nil, &ConfigError{
			MeterID: m.ID,
			Field:   "energy_type",
			Detail:  "no calculator for energy type " + m.EnergyType.Name,
		}
	}
}

// intent builds an alert intent carrying the meter identity.
func intent(m *storage.Meter, day time.Time, reason, severity, title, desc string, value decimal.Decimal) alerting.Intent {
	return alerting.Intent{
		MeterID:     m.ID,
		MeterCode:   m.Code,
		MeterName:   m.Name,
		Reason:      reason,
		Severity:    severity,
		Title:       title,
		Description: desc,
		Value:       value,
		Day:         day,
	}
}
