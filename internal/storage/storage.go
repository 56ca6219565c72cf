package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("storage: not found")

// Storage abstracts persistence for meters, readings, tariffs, summaries and
// alerts. All date parameters are normalized with Day before querying.
type Storage interface {
	// Meters and configuration
	GetMeter(ctx context.Context, id uint) (*Meter, error)
	GetMeterByCode(ctx context.Context, code string) (*Meter, error)
	ListMeters(ctx context.Context) ([]Meter, error)
	// ListTemplatedMeters returns meters that have a calculation template,
	// with the template and its definitions loaded.
	ListTemplatedMeters(ctx context.Context) ([]Meter, error)
	GetReadingTypeByName(ctx context.Context, name string) (*ReadingType, error)
	// GetPrimaryReadingType returns the first reading type registered for an
	// energy type (the single metric of water and fuel meters).
	GetPrimaryReadingType(ctx context.Context, energyTypeID uint) (*ReadingType, error)

	// Reading sessions
	GetSession(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error)
	GetLatestSessionBefore(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error)
	ListSessionsInRange(ctx context.Context, meterIDs []uint, from, to time.Time) ([]ReadingSession, error)
	ListSessionDays(ctx context.Context, meterID uint, from, to time.Time) ([]time.Time, error)

	// Tariffs
	// GetActivePriceScheme returns the most recent active scheme with
	// effective_date <= asOf for the tariff group, rates and taxes loaded.
	GetActivePriceScheme(ctx context.Context, tariffGroupID uint, asOf time.Time) (*PriceScheme, error)

	// Daily summaries
	GetDailySummary(ctx context.Context, meterID uint, day time.Time) (*DailySummary, error)
	// ReplaceCalcSummary upserts the summary header's consumption/cost totals
	// and swaps all calculator-sourced detail rows in one transaction.
	ReplaceCalcSummary(ctx context.Context, meterID uint, day time.Time, totalConsumption, totalCost decimal.Decimal, details []SummaryDetail) error
	// ReplaceFormulaSummary upserts the summary header's total usage and used
	// template id and swaps all formula-sourced detail rows in one transaction.
	ReplaceFormulaSummary(ctx context.Context, meterID uint, day time.Time, totalUsage decimal.Decimal, templateID uint, details []SummaryDetail) error

	// Alerts and notifications
	CreateAlert(ctx context.Context, a Alert) error
	// ResolveAlerts marks all NEW alerts with the given reason as HANDLED and
	// returns how many rows changed.
	ResolveAlerts(ctx context.Context, meterID uint, reason string) (int64, error)
	CreateNotification(ctx context.Context, n Notification) error
	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	SaveEmailConfig(ctx context.Context, cfg EmailConfig) error

	// Efficiency targets
	GetActiveTarget(ctx context.Context, meterID uint, day time.Time) (*EfficiencyTarget, error)

	// Worker bookkeeping
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	UpdateScheduledJob(ctx context.Context, name string, runAt time.Time, dur time.Duration, success bool, errMsg string) error
	// AcquireRunLock takes a cross-instance run lock (Postgres advisory lock).
	// Backends without cross-instance semantics always grant it.
	AcquireRunLock(ctx context.Context, key int64) (bool, error)
	ReleaseRunLock(ctx context.Context, key int64) error

	// Close releases any resources (no-op for in-memory).
	Close() error
}
