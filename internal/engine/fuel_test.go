package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/danutirta/meterflow/internal/tariff"
)

var fuelDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func fuelMeter() *storage.Meter {
	return &storage.Meter{
		ID:               3,
		Code:             "FUEL-01",
		Name:             "Genset tank",
		Status:           storage.MeterActive,
		EnergyTypeID:     3,
		EnergyType:       storage.EnergyType{ID: 3, Name: storage.EnergyFuel},
		Category:         storage.MeterCategory{ID: 2, Name: storage.CategoryTerminal},
		TankHeightCm:     decp(200),
		TankVolumeLiters: decp(2000),
	}
}

func fuelInput(t *testing.T, current float64, previous *float64) CalcInput {
	t.Helper()
	mem := storage.NewMemoryStorage()
	rt := storage.ReadingType{ID: 9, Name: "Tinggi Solar", EnergyTypeID: 3}
	mem.PutReadingType(rt)

	in := CalcInput{
		Store: mem,
		Meter: fuelMeter(),
		Day:   fuelDay,
		Current: &storage.ReadingSession{
			ID: 1, MeterID: 3, ReadingDate: fuelDay,
			Details: []storage.ReadingDetail{{ReadingTypeID: 9, Value: dec(current)}},
		},
		Rates: tariff.Resolve(&storage.PriceScheme{
			ID:    5,
			Rates: []storage.PriceRate{{ReadingTypeID: 9, ReadingType: rt, Value: dec(15000)}},
		}, storage.TariffGroup{ID: 3}),
	}
	if previous != nil {
		in.Previous = &storage.ReadingSession{
			ID: 2, MeterID: 3, ReadingDate: fuelDay.AddDate(0, 0, -1),
			Details: []storage.ReadingDetail{{ReadingTypeID: 9, Value: dec(*previous)}},
		}
	}
	return in
}

func reasons(intents []alerting.Intent) []string {
	out := make([]string, len(intents))
	for i, in := range intents {
		out[i] = in.Reason
	}
	return out
}

func TestFuelConsumptionAndStock(t *testing.T) {
	prev := 160.0
	rows, intents, err := fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 150, &prev))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	// (160-150) cm * (2000/200) l/cm = 100 liters
	if !r.Consumption.Equal(dec(100)) {
		t.Errorf("consumption = %s, want 100", r.Consumption)
	}
	if !r.Cost.Equal(dec(1500000)) {
		t.Errorf("cost = %s, want 1500000", r.Cost)
	}
	if r.RemainingStock == nil || !r.RemainingStock.Equal(dec(1500)) {
		t.Errorf("remaining stock = %v, want 1500", r.RemainingStock)
	}
	if len(intents) != 0 {
		t.Errorf("unexpected intents %v", reasons(intents))
	}
}

func TestFuelLowFuelCrossing(t *testing.T) {
	prev := 25.0
	rows, intents, err := fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 18, &prev))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].Consumption.Equal(dec(70)) {
		t.Errorf("consumption = %s, want 70", rows[0].Consumption)
	}
	if len(intents) != 1 || intents[0].Reason != alerting.ReasonLowFuel {
		t.Fatalf("expected low_fuel intent, got %v", reasons(intents))
	}

	// Already below the threshold yesterday: no repeat alert.
	prev = 18.0
	_, intents, err = fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 15, &prev))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(intents) != 0 {
		t.Errorf("expected no repeat intent, got %v", reasons(intents))
	}
}

func TestFuelRefillToCapacity(t *testing.T) {
	prev := 40.0
	rows, intents, err := fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 200, &prev))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].Consumption.IsZero() {
		t.Errorf("refill day consumption = %s, want 0", rows[0].Consumption)
	}
	got := reasons(intents)
	if len(got) != 2 || got[0] != alerting.ReasonLowFuelResolved || got[1] != alerting.ReasonFullRefill {
		t.Errorf("intents = %v, want [low_fuel_resolved full_refill]", got)
	}
}

func TestFuelFirstReadingAtCapacity(t *testing.T) {
	rows, intents, err := fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 200, nil))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].Consumption.IsZero() {
		t.Errorf("day-one consumption = %s, want 0", rows[0].Consumption)
	}
	if got := reasons(intents); len(got) != 1 || got[0] != alerting.ReasonFullRefill {
		t.Errorf("intents = %v, want [full_refill]", got)
	}
}

func TestFuelDayOneBaselineRow(t *testing.T) {
	rows, intents, err := fuelCalculator{}.Calculate(context.Background(), fuelInput(t, 120, nil))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected baseline row, got %d rows", len(rows))
	}
	if !rows[0].Consumption.IsZero() || !rows[0].CurrentReading.Equal(dec(120)) {
		t.Errorf("baseline row = %+v", rows[0])
	}
	if rows[0].RemainingStock == nil || !rows[0].RemainingStock.Equal(dec(1200)) {
		t.Errorf("remaining stock = %v, want 1200", rows[0].RemainingStock)
	}
	if len(intents) != 0 {
		t.Errorf("unexpected intents %v", reasons(intents))
	}
}

func TestFuelWithoutTankGeometry(t *testing.T) {
	in := fuelInput(t, 100, nil)
	in.Meter.TankHeightCm = nil
	_, _, err := fuelCalculator{}.Calculate(context.Background(), in)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}
