package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestReplaceCalcSummaryUpserts(t *testing.T) {
	mem := NewMemoryStorage()
	ctx := context.Background()

	err := mem.ReplaceCalcSummary(ctx, 1, testDay, dec(100), dec(100000), []SummaryDetail{
		{MetricName: "Pemakaian Harian (Water)", Consumption: dec(100), Cost: dec(100000)},
	})
	if err != nil {
		t.Fatalf("ReplaceCalcSummary: %v", err)
	}

	// Second write replaces, never appends.
	err = mem.ReplaceCalcSummary(ctx, 1, testDay, dec(120), dec(120000), []SummaryDetail{
		{MetricName: "Pemakaian Harian (Water)", Consumption: dec(120), Cost: dec(120000)},
	})
	if err != nil {
		t.Fatalf("second ReplaceCalcSummary: %v", err)
	}

	sum, err := mem.GetDailySummary(ctx, 1, testDay)
	if err != nil {
		t.Fatalf("GetDailySummary: %v", err)
	}
	if !sum.TotalConsumption.Equal(dec(120)) || !sum.TotalCost.Equal(dec(120000)) {
		t.Errorf("totals = %s/%s, want 120/120000", sum.TotalConsumption, sum.TotalCost)
	}
	if len(sum.Details) != 1 {
		t.Fatalf("expected 1 detail after replace, got %d", len(sum.Details))
	}
	if sum.Details[0].Source != SourceCalc {
		t.Errorf("detail source = %q, want %q", sum.Details[0].Source, SourceCalc)
	}
}

func TestCalcAndFormulaDetailsIndependent(t *testing.T) {
	mem := NewMemoryStorage()
	ctx := context.Background()

	if err := mem.ReplaceCalcSummary(ctx, 1, testDay, dec(100), dec(100000), []SummaryDetail{
		{MetricName: "Pemakaian Harian (Water)", Consumption: dec(100)},
	}); err != nil {
		t.Fatalf("ReplaceCalcSummary: %v", err)
	}
	if err := mem.ReplaceFormulaSummary(ctx, 1, testDay, dec(42), 7, []SummaryDetail{
		{MetricName: "Alokasi Harian", Consumption: dec(42)},
	}); err != nil {
		t.Fatalf("ReplaceFormulaSummary: %v", err)
	}

	sum, err := mem.GetDailySummary(ctx, 1, testDay)
	if err != nil {
		t.Fatalf("GetDailySummary: %v", err)
	}
	// Both writes land on the same header row.
	if !sum.TotalConsumption.Equal(dec(100)) || !sum.TotalUsage.Equal(dec(42)) {
		t.Errorf("header = consumption %s usage %s, want 100/42", sum.TotalConsumption, sum.TotalUsage)
	}
	if sum.UsedTemplateID == nil || *sum.UsedTemplateID != 7 {
		t.Errorf("used_template_id = %v, want 7", sum.UsedTemplateID)
	}
	if len(sum.Details) != 2 {
		t.Fatalf("expected calc + formula rows, got %d", len(sum.Details))
	}

	// Replacing formula rows must not disturb calc rows.
	if err := mem.ReplaceFormulaSummary(ctx, 1, testDay, dec(50), 7, []SummaryDetail{
		{MetricName: "Alokasi Harian", Consumption: dec(50)},
	}); err != nil {
		t.Fatalf("second ReplaceFormulaSummary: %v", err)
	}
	sum, _ = mem.GetDailySummary(ctx, 1, testDay)
	var calcRows, formulaRows int
	for _, d := range sum.Details {
		switch d.Source {
		case SourceCalc:
			calcRows++
		case SourceFormula:
			formulaRows++
		}
	}
	if calcRows != 1 || formulaRows != 1 {
		t.Errorf("rows after formula replace = %d calc / %d formula, want 1/1", calcRows, formulaRows)
	}
	if !sum.TotalConsumption.Equal(dec(100)) {
		t.Errorf("calc totals must survive a formula replace, got %s", sum.TotalConsumption)
	}
}

func TestResolveAlertsMarksOnlyMatching(t *testing.T) {
	mem := NewMemoryStorage()
	ctx := context.Background()

	for _, a := range []Alert{
		{ID: "a1", MeterID: 1, Reason: "low_fuel", Status: AlertNew},
		{ID: "a2", MeterID: 1, Reason: "target_exceeded", Status: AlertNew},
		{ID: "a3", MeterID: 2, Reason: "low_fuel", Status: AlertNew},
	} {
		if err := mem.CreateAlert(ctx, a); err != nil {
			t.Fatalf("CreateAlert: %v", err)
		}
	}

	n, err := mem.ResolveAlerts(ctx, 1, "low_fuel")
	if err != nil {
		t.Fatalf("ResolveAlerts: %v", err)
	}
	if n != 1 {
		t.Errorf("resolved %d alerts, want 1", n)
	}
	for _, a := range mem.Alerts() {
		want := AlertNew
		if a.ID == "a1" {
			want = AlertHandled
		}
		if a.Status != want {
			t.Errorf("alert %s status = %s, want %s", a.ID, a.Status, want)
		}
	}
}

func TestGetLatestSessionBefore(t *testing.T) {
	mem := NewMemoryStorage()
	ctx := context.Background()

	for _, offset := range []int{-5, -2, 0} {
		mem.PutSession(ReadingSession{MeterID: 1, ReadingDate: testDay.AddDate(0, 0, offset)})
	}

	sess, err := mem.GetLatestSessionBefore(ctx, 1, testDay)
	if err != nil {
		t.Fatalf("GetLatestSessionBefore: %v", err)
	}
	if !sess.ReadingDate.Equal(testDay.AddDate(0, 0, -2)) {
		t.Errorf("latest before = %s, want day-2", sess.ReadingDate)
	}

	if _, err := mem.GetLatestSessionBefore(ctx, 1, testDay.AddDate(0, 0, -5)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before the first session, got %v", err)
	}
}
