package engine

import (
	"context"
	"fmt"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/shopspring/decimal"
)

// Metric row names. The Indonesian labels are the contract with existing
// dashboards and reports; they are not translated.
const (
	MetricWBP   = "Pemakaian WBP"
	MetricLWBP  = "Pemakaian LWBP"
	MetricTotal = "Total Pemakaian"
)

// officeFaktorKali converts office checkpoint deltas to kWh. Office meters
// are read through current transformers with a fixed 120x ratio.
var officeFaktorKali = decimal.NewFromInt(120)

// terminalElectricityCalculator handles meters read as two cumulative
// counters, one per tariff window (WBP and LWBP).
type terminalElectricityCalculator struct{}

func (terminalElectricityCalculator) Calculate(ctx context.Context, in CalcInput) ([]Row, []alerting.Intent, error) {
	wbpType, err := in.Store.GetReadingTypeByName(ctx, storage.ReadingWBP)
	if err != nil {
		return nil, nil, &ConfigError{MeterID: in.Meter.ID, Field: "reading_types", Detail: "WBP reading type not registered"}
	}
	lwbpType, err := in.Store.GetReadingTypeByName(ctx, storage.ReadingLWBP)
	if err != nil {
		return nil, nil, &ConfigError{MeterID: in.Meter.ID, Field: "reading_types", Detail: "LWBP reading type not registered"}
	}

	wbpRow, err := counterRow(in, MetricWBP, wbpType.ID, in.Rates.FaktorKali)
	if err != nil {
		return nil, nil, err
	}
	lwbpRow, err := counterRow(in, MetricLWBP, lwbpType.ID, in.Rates.FaktorKali)
	if err != nil {
		return nil, nil, err
	}

	rows := []Row{*wbpRow, *lwbpRow, totalRow(wbpRow, lwbpRow)}
	return rows, nil, nil
}

// counterRow produces one priced component row from a cumulative counter
// reading type.
func counterRow(in CalcInput, metric string, readingTypeID uint, faktorKali decimal.Decimal) (*Row, error) {
	current := in.Current.DetailValue(readingTypeID)
	if current == nil {
		return nil, &UpstreamError{MeterID: in.Meter.ID, What: fmt.Sprintf("session %d has no %s reading", in.Current.ID, metric)}
	}
	previous := in.Previous.DetailValue(readingTypeID)

	delta, err := SafeConsumption(in.Meter.ID, metric, *current, previous, in.Meter.RolloverLimit)
	if err != nil {
		return nil, err
	}

	rate, ok := in.Rates.RateFor(readingTypeID)
	if !ok {
		return nil, &UpstreamError{MeterID: in.Meter.ID, What: fmt.Sprintf("scheme %d has no rate for %s", in.Rates.Scheme.ID, metric)}
	}

	consumption := delta.Mul(faktorKali)
	row := &Row{
		MetricName:     metric,
		CurrentReading: *current,
		Consumption:    consumption,
		Cost:           consumption.Mul(rate),
		IsComponent:    true,
	}
	if previous != nil {
		row.PreviousReading = *previous
	}
	return row, nil
}

// totalRow builds the pre-summed aggregate row. It carries the component
// values for display but is excluded from the cost roll-up.
func totalRow(wbp, lwbp *Row) Row {
	wbpCons := wbp.Consumption
	lwbpCons := lwbp.Consumption
	return Row{
		MetricName:  MetricTotal,
		Consumption: wbpCons.Add(lwbpCons),
		Cost:        wbp.Cost.Add(lwbp.Cost),
		WBPValue:    &wbpCons,
		LWBPValue:   &lwbpCons,
		IsAggregate: true,
	}
}

// officeElectricityCalculator handles meters read as three intra-day
// checkpoints. The off-peak window runs morning to evening, the peak window
// evening to night, and yesterday's night checkpoint anchors today's
// morning.
type officeElectricityCalculator struct{}

// checkpoint is one named intra-day reading, nil when not captured.
type checkpoint struct {
	name  string
	value *decimal.Decimal
}

func (officeElectricityCalculator) Calculate(ctx context.Context, in CalcInput) ([]Row, []alerting.Intent, error) {
	names := []string{storage.ReadingStandPagi, storage.ReadingStandSore, storage.ReadingStandMalam}
	types := make([]*storage.ReadingType, len(names))
	for i, name := range names {
		rt, err := in.Store.GetReadingTypeByName(ctx, name)
		if err != nil {
			return nil, nil, &ConfigError{MeterID: in.Meter.ID, Field: "reading_types", Detail: name + " reading type not registered"}
		}
		types[i] = rt
	}
	nightType := types[2]

	chain := []checkpoint{
		{"yesterday " + storage.ReadingStandMalam, in.Previous.DetailValue(nightType.ID)},
		{storage.ReadingStandPagi, in.Current.DetailValue(types[0].ID)},
		{storage.ReadingStandSore, in.Current.DetailValue(types[1].ID)},
		{storage.ReadingStandMalam, in.Current.DetailValue(types[2].ID)},
	}
	if err := checkMonotonic(in.Meter.ID, chain); err != nil {
		return nil, nil, err
	}

	morning, evening, night := chain[1].value, chain[2].value, chain[3].value

	// A window with a missing endpoint contributes nothing.
	lwbpDelta := windowDelta(morning, evening)
	wbpDelta := windowDelta(evening, night)

	wbpRate, ok := in.Rates.RateForName(storage.ReadingWBP)
	if !ok {
		return nil, nil, &UpstreamError{MeterID: in.Meter.ID, What: fmt.Sprintf("scheme %d has no WBP rate", in.Rates.Scheme.ID)}
	}
	lwbpRate, ok := in.Rates.RateForName(storage.ReadingLWBP)
	if !ok {
		return nil, nil, &UpstreamError{MeterID: in.Meter.ID, What: fmt.Sprintf("scheme %d has no LWBP rate", in.Rates.Scheme.ID)}
	}

	wbpCons := wbpDelta.Mul(officeFaktorKali)
	lwbpCons := lwbpDelta.Mul(officeFaktorKali)

	wbpRow := Row{
		MetricName:      MetricWBP,
		CurrentReading:  orZero(night),
		PreviousReading: orZero(evening),
		Consumption:     wbpCons,
		Cost:            wbpCons.Mul(wbpRate),
		IsComponent:     true,
	}
	lwbpRow := Row{
		MetricName:      MetricLWBP,
		CurrentReading:  orZero(evening),
		PreviousReading: orZero(morning),
		Consumption:     lwbpCons,
		Cost:            lwbpCons.Mul(lwbpRate),
		IsComponent:     true,
	}

	rows := []Row{wbpRow, lwbpRow, totalRow(&wbpRow, &lwbpRow)}
	return rows, nil, nil
}

// checkMonotonic enforces non-decreasing values over the present checkpoints
// in chain order, naming the first failing pair.
func checkMonotonic(meterID uint, chain []checkpoint) error {
	var last *checkpoint
	for i := range chain {
		cp := chain[i]
		if cp.value == nil {
			continue
		}
		if last != nil && cp.value.LessThan(*last.value) {
			return &ConsumptionError{
				MeterID:  meterID,
				Metric:   cp.name,
				Previous: *last.value,
				Current:  *cp.value,
				Detail:   fmt.Sprintf("%s is below %s", cp.name, last.name),
			}
		}
		last = &chain[i]
	}
	return nil
}

func windowDelta(from, to *decimal.Decimal) decimal.Decimal {
	if from == nil || to == nil {
		return decimal.Zero
	}
	return to.Sub(*from)
}

func orZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
