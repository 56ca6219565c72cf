package engine

import (
	"context"
	"fmt"

	"github.com/danutirta/meterflow/internal/alerting"
)

// waterCalculator handles single-counter water meters.
type waterCalculator struct{}

func (waterCalculator) Calculate(ctx context.Context, in CalcInput) ([]Row, []alerting.Intent, error) {
	rt, err := in.Store.GetPrimaryReadingType(ctx, in.Meter.EnergyTypeID)
	if err != nil {
		return nil, nil, &ConfigError{MeterID: in.Meter.ID, Field: "reading_types", Detail: "no reading type registered for water"}
	}

	metric := fmt.Sprintf("Pemakaian Harian (%s)", in.Meter.EnergyType.Name)
	row, err := counterRow(in, metric, rt.ID, in.Rates.FaktorKali)
	if err != nil {
		return nil, nil, err
	}
	row.IsComponent = false
	return []Row{*row}, nil, nil
}
