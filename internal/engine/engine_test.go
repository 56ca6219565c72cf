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

var waterDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func waterFixture(t *testing.T) (*storage.MemoryStorage, *Engine, *alerting.CollectSink) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	rt := storage.ReadingType{ID: 6, Name: "Meteran Air", EnergyTypeID: 2}
	mem.PutReadingType(rt)
	mem.PutMeter(storage.Meter{
		ID:            10,
		Code:          "WTR-01",
		Name:          "Main water line",
		Status:        storage.MeterActive,
		EnergyTypeID:  2,
		EnergyType:    storage.EnergyType{ID: 2, Name: storage.EnergyWater},
		Category:      storage.MeterCategory{ID: 2, Name: storage.CategoryTerminal},
		TariffGroupID: 4,
		TariffGroup:   storage.TariffGroup{ID: 4, Code: "WTR"},
	})
	mem.PutPriceScheme(storage.PriceScheme{
		ID: 4, TariffGroupID: 4, IsActive: true,
		EffectiveDate: waterDay.AddDate(-1, 0, 0),
		Rates:         []storage.PriceRate{{ReadingTypeID: 6, ReadingType: rt, Value: dec(1000)}},
	})
	mem.PutSession(storage.ReadingSession{
		MeterID: 10, ReadingDate: waterDay.AddDate(0, 0, -1),
		Details: []storage.ReadingDetail{{ReadingTypeID: 6, Value: dec(1100)}},
	})
	mem.PutSession(storage.ReadingSession{
		MeterID: 10, ReadingDate: waterDay,
		Details: []storage.ReadingDetail{{ReadingTypeID: 6, Value: dec(1200)}},
	})

	sink := &alerting.CollectSink{}
	eng := New(mem, tariff.NewResolver(mem), sink)
	return mem, eng, sink
}

func TestRecomputeWaterDay(t *testing.T) {
	_, eng, sink := waterFixture(t)

	sum, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay)
	if err != nil {
		t.Fatalf("RecomputeMeterDay: %v", err)
	}
	if !sum.TotalConsumption.Equal(dec(100)) {
		t.Errorf("total_consumption = %s, want 100", sum.TotalConsumption)
	}
	if !sum.TotalCost.Equal(dec(100000)) {
		t.Errorf("total_cost = %s, want 100000", sum.TotalCost)
	}
	if len(sum.Details) != 1 {
		t.Fatalf("expected 1 detail row, got %d", len(sum.Details))
	}
	d := sum.Details[0]
	if d.MetricName != "Pemakaian Harian (Water)" {
		t.Errorf("metric name = %q", d.MetricName)
	}
	if !d.CurrentReading.Equal(dec(1200)) || !d.PreviousReading.Equal(dec(1100)) {
		t.Errorf("readings = %s/%s, want 1200/1100", d.CurrentReading, d.PreviousReading)
	}
	if len(sink.Intents) != 0 {
		t.Errorf("unexpected intents: %v", sink.Intents)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	_, eng, _ := waterFixture(t)
	ctx := context.Background()

	first, err := eng.RecomputeMeterDay(ctx, 10, waterDay)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := eng.RecomputeMeterDay(ctx, 10, waterDay)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("summary row must be upserted, not duplicated: %d vs %d", first.ID, second.ID)
	}
	if !first.TotalConsumption.Equal(second.TotalConsumption) || !first.TotalCost.Equal(second.TotalCost) {
		t.Errorf("totals drifted between runs")
	}
	if len(first.Details) != len(second.Details) {
		t.Fatalf("detail count drifted: %d vs %d", len(first.Details), len(second.Details))
	}
	for i := range first.Details {
		a, b := first.Details[i], second.Details[i]
		if a.MetricName != b.MetricName || !a.Consumption.Equal(b.Consumption) ||
			!a.Cost.Equal(b.Cost) || !a.CurrentReading.Equal(b.CurrentReading) {
			t.Errorf("detail %d drifted: %+v vs %+v", i, a, b)
		}
	}
}

func TestRecomputeInactiveMeterSkipped(t *testing.T) {
	mem, eng, _ := waterFixture(t)
	m, _ := mem.GetMeter(context.Background(), 10)
	m.Status = storage.MeterMaintenance
	mem.PutMeter(*m)

	sum, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay)
	if err != nil {
		t.Fatalf("RecomputeMeterDay: %v", err)
	}
	if sum != nil {
		t.Errorf("inactive meter should produce no summary")
	}
}

func TestRecomputeMissingSession(t *testing.T) {
	_, eng, _ := waterFixture(t)
	_, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay.AddDate(0, 0, 5))
	if !errors.Is(err, ErrMissingUpstreamData) {
		t.Fatalf("expected ErrMissingUpstreamData, got %v", err)
	}
}

func TestRecomputeNoRateScheme(t *testing.T) {
	mem, eng, _ := waterFixture(t)
	mem.PutSession(storage.ReadingSession{
		MeterID: 10, ReadingDate: waterDay.AddDate(-2, 0, 0),
		Details: []storage.ReadingDetail{{ReadingTypeID: 6, Value: dec(900)}},
	})
	_, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay.AddDate(-2, 0, 0))
	if !errors.Is(err, ErrMissingUpstreamData) {
		t.Fatalf("expected ErrMissingUpstreamData before the first scheme, got %v", err)
	}
	if _, err := mem.GetDailySummary(context.Background(), 10, waterDay.AddDate(-2, 0, 0)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed recomputation must not leave a partial summary")
	}
}

func TestRecomputeRolloverCeiling(t *testing.T) {
	mem, eng, _ := waterFixture(t)
	m, _ := mem.GetMeter(context.Background(), 10)
	m.RolloverLimit = decp(1000)
	mem.PutMeter(*m)

	_, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay)
	if !errors.Is(err, ErrInvalidConsumption) {
		t.Fatalf("reading above the rollover limit should fail, got %v", err)
	}
}

func TestRecomputeTargetExceeded(t *testing.T) {
	mem, eng, sink := waterFixture(t)
	mem.PutTarget(storage.EfficiencyTarget{
		ID: 1, MeterID: 10, TargetValue: dec(50),
		PeriodStart: waterDay.AddDate(0, -1, 0),
		PeriodEnd:   waterDay.AddDate(0, 1, 0),
	})

	if _, err := eng.RecomputeMeterDay(context.Background(), 10, waterDay); err != nil {
		t.Fatalf("RecomputeMeterDay: %v", err)
	}
	if len(sink.Intents) != 1 || sink.Intents[0].Reason != alerting.ReasonTargetExceeded {
		t.Fatalf("expected target_exceeded intent, got %v", sink.Intents)
	}
	if !sink.Intents[0].Value.Equal(dec(100)) {
		t.Errorf("intent should carry the day's consumption, got %s", sink.Intents[0].Value)
	}
}
