package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel error kinds. Callers branch with errors.Is; the concrete types
// below carry the offending values for logs and API payloads.
var (
	// ErrInvalidConfiguration marks a meter whose stored configuration makes
	// recomputation impossible (missing tank geometry, no tariff scheme, an
	// unknown energy type).
	ErrInvalidConfiguration = errors.New("invalid meter configuration")

	// ErrInvalidConsumption marks readings that contradict each other, such
	// as a counter that moved backwards without a plausible rollover.
	ErrInvalidConsumption = errors.New("invalid consumption")

	// ErrMissingUpstreamData marks a recomputation that cannot proceed
	// because a required reading session or detail is absent.
	ErrMissingUpstreamData = errors.New("missing upstream data")
)

// ConfigError reports what part of a meter's configuration is unusable.
type ConfigError struct {
	MeterID uint
	Field   string
	Detail  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("meter %d: %s: %s", e.MeterID, e.Field, e.Detail)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// ConsumptionError reports a pair of readings that cannot be reconciled.
type ConsumptionError struct {
	MeterID  uint
	Metric   string
	Previous decimal.Decimal
	Current  decimal.Decimal
	Detail   string
}

func (e *ConsumptionError) Error() string {
	return fmt.Sprintf("meter %d metric %q: %s (previous=%s current=%s)",
		e.MeterID, e.Metric, e.Detail, e.Previous, e.Current)
}

func (e *ConsumptionError) Unwrap() error { return ErrInvalidConsumption }

// UpstreamError reports which input was missing.
type UpstreamError struct {
	MeterID uint
	What    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("meter %d: %s", e.MeterID, e.What)
}

func (e *UpstreamError) Unwrap() error { return ErrMissingUpstreamData }
