package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/danutirta/meterflow/internal/alerting"
	"github.com/danutirta/meterflow/internal/metrics"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/danutirta/meterflow/internal/tariff"
	"github.com/shopspring/decimal"
)

// DerivedEvaluator recomputes virtual meters. Implemented by the formula
// package; wired in after construction so the two packages stay decoupled.
type DerivedEvaluator interface {
	// EvaluateMeterDay recomputes one virtual meter for a day.
	EvaluateMeterDay(ctx context.Context, meterID uint, day time.Time) error
	// PropagateFrom refreshes every virtual meter whose definition references
	// the source meter, each exactly once.
	PropagateFrom(ctx context.Context, sourceMeterID uint, day time.Time) error
}

// Engine is the recomputation entry point. One Engine is shared by the HTTP
// layer and the batch worker; all state lives in storage.
type Engine struct {
	store    storage.Storage
	resolver *tariff.Resolver
	sink     alerting.Sink
	derived  DerivedEvaluator
}

func New(store storage.Storage, resolver *tariff.Resolver, sink alerting.Sink) *Engine {
	if sink == nil {
		sink = alerting.NopSink{}
	}
	return &Engine{store: store, resolver: resolver, sink: sink}
}

// SetDerivedEvaluator wires the formula engine in. Optional; without it
// virtual meters are skipped and no propagation happens.
func (e *Engine) SetDerivedEvaluator(d DerivedEvaluator) { e.derived = d }

// RecomputeMeterDay recomputes the daily summary for one (meter, day).
// Idempotent: unchanged upstream data produces an identical summary. After a
// successful write it dispatches alert intents and refreshes virtual meters
// that reference this meter.
func (e *Engine) RecomputeMeterDay(ctx context.Context, meterID uint, day time.Time) (*storage.DailySummary, error) {
	day = storage.Day(day)
	started := time.Now()

	m, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &UpstreamError{MeterID: meterID, What: "meter not found"}
		}
		return nil, err
	}

	energy := m.EnergyType.Name
	sum, err := e.recompute(ctx, m, day)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RecomputationsTotal.WithLabelValues(energy, result).Inc()
	metrics.RecomputeDurationSeconds.WithLabelValues(energy).Observe(time.Since(started).Seconds())
	return sum, err
}

func (e *Engine) recompute(ctx context.Context, m *storage.Meter, day time.Time) (*storage.DailySummary, error) {
	if m.Status != storage.MeterActive {
		log.Printf("engine: meter %s is %s, skipping recomputation", m.Code, m.Status)
		return nil, nil
	}

	// Virtual meters have no counter of their own.
	if m.CalculationTemplateID != nil {
		if e.derived == nil {
			return nil, &ConfigError{MeterID: m.ID, Field: "calculation_template", Detail: "no derived evaluator configured"}
		}
		if err := e.derived.EvaluateMeterDay(ctx, m.ID, day); err != nil {
			return nil, err
		}
		return e.store.GetDailySummary(ctx, m.ID, day)
	}

	current, err := e.store.GetSession(ctx, m.ID, day)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &UpstreamError{MeterID: m.ID, What: "no reading session for " + day.Format("2006-01-02")}
		}
		return nil, err
	}
	previous, err := e.previousSession(ctx, m, day)
	if err != nil {
		return nil, err
	}

	if err := e.validateSession(ctx, m, current); err != nil {
		return nil, err
	}

	rates, err := e.resolver.Active(ctx, m.TariffGroup, day)
	if err != nil {
		if errors.Is(err, tariff.ErrNoScheme) {
			return nil, &UpstreamError{MeterID: m.ID, What: err.Error()}
		}
		return nil, err
	}

	calc, err := ForMeter(m)
	if err != nil {
		return nil, err
	}
	rows, intents, err := calc.Calculate(ctx, CalcInput{
		Store:    e.store,
		Meter:    m,
		Day:      day,
		Current:  current,
		Previous: previous,
		Rates:    rates,
	})
	if err != nil {
		return nil, err
	}

	totalConsumption, totalCost := Aggregate(rows)
	if err := e.store.ReplaceCalcSummary(ctx, m.ID, day, totalConsumption, totalCost, toDetails(rows)); err != nil {
		return nil, fmt.Errorf("write summary for meter %d on %s: %w", m.ID, day.Format("2006-01-02"), err)
	}

	intents = append(intents, e.checkTarget(ctx, m, day, totalConsumption)...)
	e.sink.Dispatch(ctx, intents)

	if e.derived != nil {
		if err := e.derived.PropagateFrom(ctx, m.ID, day); err != nil {
			log.Printf("engine: propagate from meter %d on %s: %v", m.ID, day.Format("2006-01-02"), err)
		}
	}

	return e.store.GetDailySummary(ctx, m.ID, day)
}

// previousSession fetches the baseline session. Office electricity anchors
// on yesterday's night checkpoint, so only the literal previous day counts;
// counter and dipstick meters tolerate reading gaps and use the most recent
// earlier session.
func (e *Engine) previousSession(ctx context.Context, m *storage.Meter, day time.Time) (*storage.ReadingSession, error) {
	var (
		sess *storage.ReadingSession
		err  error
	)
	if m.EnergyType.Name == storage.EnergyElectricity && m.Category.Name == storage.CategoryOffice {
		sess, err = e.store.GetSession(ctx, m.ID, day.AddDate(0, 0, -1))
	} else {
		sess, err = e.store.GetLatestSessionBefore(ctx, m.ID, day)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// validateSession rejects physically impossible readings before any
// calculation runs. Fuel heights cannot exceed the tank; counter values
// cannot exceed the rollover ceiling.
func (e *Engine) validateSession(ctx context.Context, m *storage.Meter, sess *storage.ReadingSession) error {
	var ceiling *decimal.Decimal
	var what string
	switch {
	case m.EnergyType.Name == storage.EnergyFuel && m.TankHeightCm != nil:
		ceiling, what = m.TankHeightCm, "tank height"
	case m.RolloverLimit != nil && m.RolloverLimit.IsPositive():
		ceiling, what = m.RolloverLimit, "rollover limit"
	default:
		return nil
	}
	for _, d := range sess.Details {
		if d.Value.GreaterThan(*ceiling) {
			return &ConsumptionError{
				MeterID:  m.ID,
				Metric:   fmt.Sprintf("reading type %d", d.ReadingTypeID),
				Previous: *ceiling,
				Current:  d.Value,
				Detail:   "reading exceeds " + what,
			}
		}
	}
	return nil
}

// checkTarget compares the day's consumption against the meter's active
// efficiency target. A lookup failure only costs the alert, never the
// recomputation.
func (e *Engine) checkTarget(ctx context.Context, m *storage.Meter, day time.Time, totalConsumption decimal.Decimal) []alerting.Intent {
	target, err := e.store.GetActiveTarget(ctx, m.ID, day)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("engine: load efficiency target for meter %d: %v", m.ID, err)
		}
		return nil
	}
	if totalConsumption.LessThanOrEqual(target.TargetValue) {
		return nil
	}
	return []alerting.Intent{intent(m, day, alerting.ReasonTargetExceeded, "warning",
		fmt.Sprintf("Efficiency target exceeded on %s", m.Name),
		fmt.Sprintf("Daily consumption %s is above the target of %s.", totalConsumption, target.TargetValue),
		totalConsumption)}
}

// EvaluateDerivedMeter recomputes a virtual meter's formulas for a day and
// returns the resulting summary.
func (e *Engine) EvaluateDerivedMeter(ctx context.Context, meterID uint, day time.Time) (*storage.DailySummary, error) {
	if e.derived == nil {
		return nil, &ConfigError{MeterID: meterID, Field: "calculation_template", Detail: "no derived evaluator configured"}
	}
	day = storage.Day(day)
	if err := e.derived.EvaluateMeterDay(ctx, meterID, day); err != nil {
		return nil, err
	}
	return e.store.GetDailySummary(ctx, meterID, day)
}
