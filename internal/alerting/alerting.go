package alerting

import (
	"context"
	"log"
	"time"

	"github.com/danutirta/meterflow/internal/metrics"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Alert reason codes. Reasons are stable machine-checkable strings; titles
// and descriptions are free text for operators.
const (
	ReasonLowFuel         = "low_fuel"
	ReasonLowFuelResolved = "low_fuel_resolved"
	ReasonFullRefill      = "full_refill"
	ReasonTargetExceeded  = "target_exceeded"
)

// Intent is an alert condition detected during recomputation. Calculators
// and the recompute engine return intents; the sink decides how each reason
// materializes (alert row, notification, webhook, email).
type Intent struct {
	MeterID     uint
	MeterCode   string
	MeterName   string
	Reason      string
	Severity    string
	Title       string
	Description string
	Value       decimal.Decimal
	Day         time.Time
}

// Sink receives alert intents after a summary has been written. Dispatch
// must never fail the recomputation: delivery problems are logged and
// swallowed.
type Sink interface {
	Dispatch(ctx context.Context, intents []Intent)
}

// Mailer sends an operator email for an intent. The notification service
// implements this; a nil mailer disables email delivery.
type Mailer interface {
	SendAlertEmail(ctx context.Context, intent Intent) error
}

// StoreSink persists intents as alert and notification rows, forwards them
// to the configured webhook, and emails operators on full refills.
type StoreSink struct {
	store   storage.Storage
	webhook *Webhook
	mailer  Mailer
}

func NewStoreSink(store storage.Storage, webhook *Webhook, mailer Mailer) *StoreSink {
	return &StoreSink{store: store, webhook: webhook, mailer: mailer}
}

func (s *StoreSink) Dispatch(ctx context.Context, intents []Intent) {
	for _, intent := range intents {
		metrics.AlertIntentsTotal.WithLabelValues(intent.Reason).Inc()
		s.dispatchOne(ctx, intent)
	}
}

func (s *StoreSink) dispatchOne(ctx context.Context, intent Intent) {
	switch intent.Reason {
	case ReasonLowFuelResolved:
		n, err := s.store.ResolveAlerts(ctx, intent.MeterID, ReasonLowFuel)
		if err != nil {
			log.Printf("alerting: resolve low_fuel alerts for meter %d: %v", intent.MeterID, err)
			return
		}
		if n > 0 {
			log.Printf("alerting: resolved %d low_fuel alert(s) for meter %s", n, intent.MeterCode)
		}
		return

	case ReasonFullRefill:
		note := storage.Notification{
			ID:        uuid.NewString(),
			MeterID:   intent.MeterID,
			Category:  intent.Reason,
			Title:     intent.Title,
			Message:   intent.Description,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateNotification(ctx, note); err != nil {
			log.Printf("alerting: create notification for meter %d: %v", intent.MeterID, err)
		}
		if s.mailer != nil {
			if err := s.mailer.SendAlertEmail(ctx, intent); err != nil {
				log.Printf("alerting: send refill email for meter %s: %v", intent.MeterCode, err)
			}
		}
		return
	}

	alert := storage.Alert{
		ID:          uuid.NewString(),
		MeterID:     intent.MeterID,
		Reason:      intent.Reason,
		Severity:    intent.Severity,
		Title:       intent.Title,
		Description: intent.Description,
		Status:      storage.AlertNew,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		log.Printf("alerting: create %s alert for meter %d: %v", intent.Reason, intent.MeterID, err)
	}

	if s.webhook != nil {
		if err := s.webhook.Send(ctx, intent); err != nil {
			log.Printf("alerting: webhook delivery for meter %s: %v", intent.MeterCode, err)
		}
	}
}

// NopSink discards all intents. Used by tests and dry runs.
type NopSink struct{}

func (NopSink) Dispatch(ctx context.Context, intents []Intent) {}

// CollectSink records intents in memory. Test helper.
type CollectSink struct {
	Intents []Intent
}

func (c *CollectSink) Dispatch(ctx context.Context, intents []Intent) {
	c.Intents = append(c.Intents, intents...)
}
