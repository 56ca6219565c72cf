package formula

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/casbin/govaluate"
	"github.com/danutirta/meterflow/internal/engine"
	"github.com/danutirta/meterflow/internal/metrics"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/shopspring/decimal"
)

// Dictionary key shapes. Spec fields are keyed M{meterId}_SPEC_{FIELD};
// reading details are keyed M{meterId}_RT{readingTypeId}_{H|Prev}, H being
// the target day and Prev the day before.
const (
	suffixToday    = "H"
	suffixPrevious = "Prev"
)

// Engine evaluates derived-metric formulas for virtual meters. It implements
// the recompute engine's DerivedEvaluator.
type Engine struct {
	store storage.Storage

	mu      sync.Mutex
	meterMu map[uint]*sync.Mutex
}

func New(store storage.Storage) *Engine {
	return &Engine{store: store, meterMu: make(map[uint]*sync.Mutex)}
}

// lockFor returns the per-meter mutex serializing writes to one virtual
// meter's summary across concurrent propagations.
func (e *Engine) lockFor(meterID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.meterMu[meterID]
	if !ok {
		m = &sync.Mutex{}
		e.meterMu[meterID] = m
	}
	return m
}

// EvaluateMeterDay recomputes all formulas of one virtual meter for a day
// and replaces its formula-sourced summary rows.
func (e *Engine) EvaluateMeterDay(ctx context.Context, meterID uint, day time.Time) error {
	mu := e.lockFor(meterID)
	mu.Lock()
	defer mu.Unlock()

	day = storage.Day(day)
	m, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &engine.UpstreamError{MeterID: meterID, What: "meter not found"}
		}
		return err
	}
	if m.CalculationTemplateID == nil || m.CalculationTemplate == nil {
		return &engine.ConfigError{MeterID: meterID, Field: "calculation_template", Detail: "meter has no derived-metric definition"}
	}

	dict, err := e.buildDictionary(ctx, m, day)
	if err != nil {
		return err
	}

	totalUsage := decimal.Zero
	var details []storage.SummaryDetail
	for i := range m.CalculationTemplate.Definitions {
		def := &m.CalculationTemplate.Definitions[i]
		value, err := evaluate(def, dict)
		if err != nil {
			// Non-fatal: sibling formulas still compute.
			metrics.FormulaEvaluationsTotal.WithLabelValues("error").Inc()
			log.Printf("formula: meter %s definition %q: %v", m.Code, def.Name, err)
			continue
		}
		metrics.FormulaEvaluationsTotal.WithLabelValues("success").Inc()
		dv := decimal.NewFromFloat(value)
		if def.IsMain {
			totalUsage = totalUsage.Add(dv)
		}
		details = append(details, storage.SummaryDetail{
			Source:      storage.SourceFormula,
			MetricName:  def.Name,
			Consumption: dv,
		})
	}

	if err := e.store.ReplaceFormulaSummary(ctx, m.ID, day, totalUsage, *m.CalculationTemplateID, details); err != nil {
		return fmt.Errorf("write formula summary for meter %d on %s: %w", m.ID, day.Format("2006-01-02"), err)
	}
	return nil
}

// PropagateFrom recomputes every other virtual meter whose definition
// references the source meter, each exactly once. Individual failures are
// logged; propagation continues with the remaining dependents.
func (e *Engine) PropagateFrom(ctx context.Context, sourceMeterID uint, day time.Time) error {
	dependents, err := e.store.ListTemplatedMeters(ctx)
	if err != nil {
		return err
	}
	for i := range dependents {
		dep := &dependents[i]
		if dep.ID == sourceMeterID || dep.CalculationTemplate == nil {
			continue
		}
		referenced := false
		for j := range dep.CalculationTemplate.Definitions {
			if dep.CalculationTemplate.Definitions[j].References(sourceMeterID) {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		if err := e.EvaluateMeterDay(ctx, dep.ID, day); err != nil {
			log.Printf("formula: propagate %d -> %d on %s: %v", sourceMeterID, dep.ID, day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// buildDictionary collects the readings and spec fields of every meter
// referenced by the template's variables, the target included.
func (e *Engine) buildDictionary(ctx context.Context, m *storage.Meter, day time.Time) (map[string]float64, error) {
	ids := map[uint]bool{m.ID: true}
	for i := range m.CalculationTemplate.Definitions {
		items, err := m.CalculationTemplate.Definitions[i].Items()
		if err != nil {
			log.Printf("formula: meter %s: %v", m.Code, err)
			continue
		}
		for _, v := range items.Variables {
			if v.MeterID != nil {
				ids[*v.MeterID] = true
			}
		}
	}

	dict := make(map[string]float64)
	meterIDs := make([]uint, 0, len(ids))
	for id := range ids {
		meterIDs = append(meterIDs, id)
		ref, err := e.store.GetMeter(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // referenced meter gone, its variables default
			}
			return nil, err
		}
		dict[fmt.Sprintf("M%d_SPEC_MULTIPLIER", id)] = ref.Multiplier.InexactFloat64()
		dict[fmt.Sprintf("M%d_SPEC_INITIAL_READING", id)] = ref.InitialReading.InexactFloat64()
	}

	sessions, err := e.store.ListSessionsInRange(ctx, meterIDs, day.AddDate(0, 0, -1), day)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sess := &sessions[i]
		suffix := suffixToday
		if sess.ReadingDate.Before(day) {
			suffix = suffixPrevious
		}
		for _, d := range sess.Details {
			key := fmt.Sprintf("M%d_RT%d_%s", sess.MeterID, d.ReadingTypeID, suffix)
			dict[key] = d.Value.InexactFloat64()
		}
	}
	return dict, nil
}

// evaluate runs one formula definition against the dictionary in an
// isolated variable scope.
func evaluate(def *storage.FormulaDefinition, dict map[string]float64) (float64, error) {
	items, err := def.Items()
	if err != nil {
		return 0, err
	}

	scope := make(map[string]interface{}, len(items.Variables))
	for _, v := range items.Variables {
		scope[v.Label] = resolveVariable(v, dict)
	}

	expr, err := govaluate.NewEvaluableExpression(items.Formula)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", items.Formula, err)
	}
	out, err := expr.Evaluate(scope)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", items.Formula, err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("evaluate %q: non-numeric result %v", items.Formula, out)
	}
	return f, nil
}

// resolveVariable maps one variable binding to its dictionary value. A
// missing multiplier defaults to 1, anything else missing to 0.
func resolveVariable(v storage.FormulaVariable, dict map[string]float64) float64 {
	switch v.Type {
	case storage.VarConstant:
		if v.Value != nil {
			return *v.Value
		}
		return 0

	case storage.VarSpec:
		if v.MeterID == nil {
			return 0
		}
		key := fmt.Sprintf("M%d_SPEC_%s", *v.MeterID, strings.ToUpper(v.SpecField))
		if val, ok := dict[key]; ok {
			return val
		}
		if strings.EqualFold(v.SpecField, "multiplier") {
			return 1
		}
		return 0

	case storage.VarReading:
		if v.MeterID == nil || v.ReadingTypeID == nil {
			return 0
		}
		suffix := suffixToday
		if v.TimeShift < 0 {
			suffix = suffixPrevious
		}
		key := fmt.Sprintf("M%d_RT%d_%s", *v.MeterID, *v.ReadingTypeID, suffix)
		return dict[key]

	default:
		return 0
	}
}
