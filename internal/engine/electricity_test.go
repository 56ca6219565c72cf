package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danutirta/meterflow/internal/storage"
	"github.com/danutirta/meterflow/internal/tariff"
)

var elecDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func terminalMeter() *storage.Meter {
	return &storage.Meter{
		ID:            1,
		Code:          "EL-T-01",
		Name:          "Terminal feeder",
		Status:        storage.MeterActive,
		EnergyTypeID:  1,
		EnergyType:    storage.EnergyType{ID: 1, Name: storage.EnergyElectricity},
		Category:      storage.MeterCategory{ID: 2, Name: storage.CategoryTerminal},
		RolloverLimit: decp(100000),
	}
}

func elecStore(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	mem := storage.NewMemoryStorage()
	mem.PutReadingType(storage.ReadingType{ID: 1, Name: storage.ReadingWBP, EnergyTypeID: 1})
	mem.PutReadingType(storage.ReadingType{ID: 2, Name: storage.ReadingLWBP, EnergyTypeID: 1})
	mem.PutReadingType(storage.ReadingType{ID: 3, Name: storage.ReadingStandPagi, EnergyTypeID: 1})
	mem.PutReadingType(storage.ReadingType{ID: 4, Name: storage.ReadingStandSore, EnergyTypeID: 1})
	mem.PutReadingType(storage.ReadingType{ID: 5, Name: storage.ReadingStandMalam, EnergyTypeID: 1})
	return mem
}

func elecRates() *tariff.Resolved {
	wbp := storage.ReadingType{ID: 1, Name: storage.ReadingWBP}
	lwbp := storage.ReadingType{ID: 2, Name: storage.ReadingLWBP}
	return tariff.Resolve(&storage.PriceScheme{
		ID: 1,
		Rates: []storage.PriceRate{
			{ReadingTypeID: 1, ReadingType: wbp, Value: dec(1500)},
			{ReadingTypeID: 2, ReadingType: lwbp, Value: dec(1000)},
		},
	}, storage.TariffGroup{ID: 1})
}

func session(id uint, day time.Time, values map[uint]float64) *storage.ReadingSession {
	sess := &storage.ReadingSession{ID: id, ReadingDate: day}
	for rt, v := range values {
		sess.Details = append(sess.Details, storage.ReadingDetail{ReadingTypeID: rt, Value: dec(v)})
	}
	return sess
}

func TestTerminalElectricityRows(t *testing.T) {
	in := CalcInput{
		Store:    elecStore(t),
		Meter:    terminalMeter(),
		Day:      elecDay,
		Current:  session(1, elecDay, map[uint]float64{1: 520, 2: 1260}),
		Previous: session(2, elecDay.AddDate(0, 0, -1), map[uint]float64{1: 500, 2: 1200}),
		Rates:    elecRates(),
	}
	rows, intents, err := terminalElectricityCalculator{}.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(intents) != 0 {
		t.Errorf("unexpected intents: %v", intents)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	wbp, lwbp, total := rows[0], rows[1], rows[2]
	if !wbp.Consumption.Equal(dec(20)) || !wbp.Cost.Equal(dec(30000)) {
		t.Errorf("WBP row = %s/%s, want 20/30000", wbp.Consumption, wbp.Cost)
	}
	if !lwbp.Consumption.Equal(dec(60)) || !lwbp.Cost.Equal(dec(60000)) {
		t.Errorf("LWBP row = %s/%s, want 60/60000", lwbp.Consumption, lwbp.Cost)
	}
	if total.MetricName != MetricTotal || !total.IsAggregate {
		t.Fatalf("third row should be the aggregate, got %+v", total)
	}
	if !total.Consumption.Equal(dec(80)) || !total.Cost.Equal(dec(90000)) {
		t.Errorf("total row = %s/%s, want 80/90000", total.Consumption, total.Cost)
	}
	if total.WBPValue == nil || !total.WBPValue.Equal(dec(20)) {
		t.Errorf("total WBP tag = %v, want 20", total.WBPValue)
	}

	totalConsumption, totalCost := Aggregate(rows)
	if !totalCost.Equal(dec(90000)) {
		t.Errorf("total_cost = %s, want 90000 (components counted once)", totalCost)
	}
	if !totalConsumption.Equal(dec(80)) {
		t.Errorf("total_consumption = %s, want 80 (aggregate row only)", totalConsumption)
	}
}

func TestTerminalElectricityRollover(t *testing.T) {
	in := CalcInput{
		Store:    elecStore(t),
		Meter:    terminalMeter(),
		Day:      elecDay,
		Current:  session(1, elecDay, map[uint]float64{1: 30, 2: 1260}),
		Previous: session(2, elecDay.AddDate(0, 0, -1), map[uint]float64{1: 99950, 2: 1200}),
		Rates:    elecRates(),
	}
	rows, _, err := terminalElectricityCalculator{}.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// (100000-99950)+30 = 80
	if !rows[0].Consumption.Equal(dec(80)) {
		t.Errorf("WBP rollover consumption = %s, want 80", rows[0].Consumption)
	}
}

func officeMeter() *storage.Meter {
	m := terminalMeter()
	m.ID = 2
	m.Code = "EL-O-01"
	m.Name = "Office panel"
	m.Category = storage.MeterCategory{ID: 1, Name: storage.CategoryOffice}
	return m
}

func TestOfficeElectricityDeltas(t *testing.T) {
	in := CalcInput{
		Store:   elecStore(t),
		Meter:   officeMeter(),
		Day:     elecDay,
		Current: session(1, elecDay, map[uint]float64{3: 100, 4: 104, 5: 107}),
		// Yesterday closed at 100.
		Previous: session(2, elecDay.AddDate(0, 0, -1), map[uint]float64{3: 90, 4: 95, 5: 100}),
		Rates:    elecRates(),
	}
	rows, _, err := officeElectricityCalculator{}.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// LWBP = (104-100)*120 = 480, WBP = (107-104)*120 = 360
	if !rows[0].Consumption.Equal(dec(360)) {
		t.Errorf("WBP consumption = %s, want 360", rows[0].Consumption)
	}
	if !rows[1].Consumption.Equal(dec(480)) {
		t.Errorf("LWBP consumption = %s, want 480", rows[1].Consumption)
	}
	if !rows[2].Consumption.Equal(dec(840)) {
		t.Errorf("total consumption = %s, want 840", rows[2].Consumption)
	}
	if !rows[0].Cost.Equal(dec(540000)) || !rows[1].Cost.Equal(dec(480000)) {
		t.Errorf("costs = %s/%s, want 540000/480000", rows[0].Cost, rows[1].Cost)
	}
}

func TestOfficeElectricityMonotonicityViolation(t *testing.T) {
	in := CalcInput{
		Store:   elecStore(t),
		Meter:   officeMeter(),
		Day:     elecDay,
		Current: session(1, elecDay, map[uint]float64{3: 100, 4: 98, 5: 107}),
		Rates:   elecRates(),
	}
	_, _, err := officeElectricityCalculator{}.Calculate(context.Background(), in)
	if !errors.Is(err, ErrInvalidConsumption) {
		t.Fatalf("expected ErrInvalidConsumption, got %v", err)
	}
	var ce *ConsumptionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConsumptionError, got %T", err)
	}
	if !ce.Current.Equal(dec(98)) || !ce.Previous.Equal(dec(100)) {
		t.Errorf("error should name the failing pair, got %+v", ce)
	}
}

func TestOfficeElectricityDayBoundaryViolation(t *testing.T) {
	in := CalcInput{
		Store:   elecStore(t),
		Meter:   officeMeter(),
		Day:     elecDay,
		Current: session(1, elecDay, map[uint]float64{3: 95, 4: 104, 5: 107}),
		// Yesterday closed at 100, above today's morning reading.
		Previous: session(2, elecDay.AddDate(0, 0, -1), map[uint]float64{5: 100}),
		Rates:    elecRates(),
	}
	_, _, err := officeElectricityCalculator{}.Calculate(context.Background(), in)
	if !errors.Is(err, ErrInvalidConsumption) {
		t.Fatalf("expected ErrInvalidConsumption, got %v", err)
	}
}

func TestOfficeElectricityMissingCheckpoint(t *testing.T) {
	in := CalcInput{
		Store: elecStore(t),
		Meter: officeMeter(),
		Day:   elecDay,
		// No evening checkpoint: both windows lose an endpoint.
		Current: session(1, elecDay, map[uint]float64{3: 100, 5: 107}),
		Rates:   elecRates(),
	}
	rows, _, err := officeElectricityCalculator{}.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("missing checkpoint should not fail while order holds: %v", err)
	}
	if !rows[0].Consumption.IsZero() || !rows[1].Consumption.IsZero() {
		t.Errorf("windows with a missing endpoint must contribute 0, got %s/%s",
			rows[0].Consumption, rows[1].Consumption)
	}
}

func TestForMeterDispatch(t *testing.T) {
	if _, err := ForMeter(officeMeter()); err != nil {
		t.Errorf("office meter: %v", err)
	}
	if _, err := ForMeter(fuelMeter()); err != nil {
		t.Errorf("fuel meter: %v", err)
	}
	bad := terminalMeter()
	bad.EnergyType = storage.EnergyType{ID: 9, Name: "Steam"}
	if _, err := ForMeter(bad); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("unknown energy type should be a configuration error, got %v", err)
	}
}
