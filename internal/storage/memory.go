package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStorage is an in-memory Storage used by tests and zero-dependency dev
// runs. All methods copy on the way in and out so callers cannot alias
// internal state.
type MemoryStorage struct {
	mu sync.Mutex

	meters        map[uint]Meter
	readingTypes  map[uint]ReadingType
	schemes       []PriceScheme
	sessions      []ReadingSession
	summaries     map[uint]*DailySummary
	details       map[uint][]SummaryDetail
	alerts        []Alert
	notifications []Notification
	targets       []EfficiencyTarget
	emailConfig   *EmailConfig
	settings      map[string]string
	jobs          map[string]ScheduledJob

	nextSummaryID uint
	nextDetailID  uint
	nextSessionID uint
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		meters:        make(map[uint]Meter),
		readingTypes:  make(map[uint]ReadingType),
		summaries:     make(map[uint]*DailySummary),
		details:       make(map[uint][]SummaryDetail),
		settings:      make(map[string]string),
		jobs:          make(map[string]ScheduledJob),
		nextSummaryID: 1,
		nextDetailID:  1,
		nextSessionID: 1,
	}
}

// Seed helpers. Tests populate the store directly through these.

func (s *MemoryStorage) PutMeter(m Meter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meters[m.ID] = m
}

func (s *MemoryStorage) PutReadingType(rt ReadingType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readingTypes[rt.ID] = rt
}

func (s *MemoryStorage) PutPriceScheme(ps PriceScheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps.EffectiveDate = Day(ps.EffectiveDate)
	s.schemes = append(s.schemes, ps)
}

func (s *MemoryStorage) PutSession(sess ReadingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == 0 {
		sess.ID = s.nextSessionID
		s.nextSessionID++
	}
	sess.ReadingDate = Day(sess.ReadingDate)
	s.sessions = append(s.sessions, sess)
}

func (s *MemoryStorage) PutTarget(t EfficiencyTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.PeriodStart = Day(t.PeriodStart)
	t.PeriodEnd = Day(t.PeriodEnd)
	s.targets = append(s.targets, t)
}

// Alerts returns a snapshot of all alert rows.
func (s *MemoryStorage) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Notifications returns a snapshot of all notification rows.
func (s *MemoryStorage) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Meters

func (s *MemoryStorage) GetMeter(ctx context.Context, id uint) (*Meter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStorage) GetMeterByCode(ctx context.Context, code string) (*Meter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meters {
		if m.Code == code {
			m := m
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListMeters(ctx context.Context) ([]Meter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Meter, 0, len(s.meters))
	for _, m := range s.meters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) ListTemplatedMeters(ctx context.Context) ([]Meter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Meter
	for _, m := range s.meters {
		if m.CalculationTemplateID != nil && m.CalculationTemplate != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) GetReadingTypeByName(ctx context.Context, name string) (*ReadingType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.readingTypes {
		if rt.Name == name {
			rt := rt
			return &rt, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetPrimaryReadingType(ctx context.Context, energyTypeID uint) (*ReadingType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *ReadingType
	for id := range s.readingTypes {
		rt := s.readingTypes[id]
		if rt.EnergyTypeID != energyTypeID {
			continue
		}
		if best == nil || rt.ID < best.ID {
			best = &rt
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

// Reading sessions

func (s *MemoryStorage) GetSession(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = Day(day)
	for i := range s.sessions {
		if s.sessions[i].MeterID == meterID && s.sessions[i].ReadingDate.Equal(day) {
			sess := s.sessions[i]
			return &sess, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetLatestSessionBefore(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = Day(day)
	var best *ReadingSession
	for i := range s.sessions {
		sess := s.sessions[i]
		if sess.MeterID != meterID || !sess.ReadingDate.Before(day) {
			continue
		}
		if best == nil || sess.ReadingDate.After(best.ReadingDate) {
			best = &sess
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *MemoryStorage) ListSessionsInRange(ctx context.Context, meterIDs []uint, from, to time.Time) ([]ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to = Day(from), Day(to)
	idSet := make(map[uint]bool, len(meterIDs))
	for _, id := range meterIDs {
		idSet[id] = true
	}
	var out []ReadingSession
	for i := range s.sessions {
		sess := s.sessions[i]
		if !idSet[sess.MeterID] {
			continue
		}
		if sess.ReadingDate.Before(from) || sess.ReadingDate.After(to) {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *MemoryStorage) ListSessionDays(ctx context.Context, meterID uint, from, to time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to = Day(from), Day(to)
	var out []time.Time
	for i := range s.sessions {
		sess := s.sessions[i]
		if sess.MeterID != meterID || sess.ReadingDate.Before(from) || sess.ReadingDate.After(to) {
			continue
		}
		out = append(out, sess.ReadingDate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Tariffs

func (s *MemoryStorage) GetActivePriceScheme(ctx context.Context, tariffGroupID uint, asOf time.Time) (*PriceScheme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asOf = Day(asOf)
	var best *PriceScheme
	for i := range s.schemes {
		ps := s.schemes[i]
		if ps.TariffGroupID != tariffGroupID || !ps.IsActive || ps.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || ps.EffectiveDate.After(best.EffectiveDate) {
			best = &ps
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

// Daily summaries

func (s *MemoryStorage) findSummaryLocked(meterID uint, day time.Time) *DailySummary {
	for _, sum := range s.summaries {
		if sum.MeterID == meterID && sum.SummaryDate.Equal(day) {
			return sum
		}
	}
	return nil
}

func (s *MemoryStorage) GetDailySummary(ctx context.Context, meterID uint, day time.Time) (*DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.findSummaryLocked(meterID, Day(day))
	if sum == nil {
		return nil, ErrNotFound
	}
	out := *sum
	out.Details = append([]SummaryDetail(nil), s.details[sum.ID]...)
	return &out, nil
}

func (s *MemoryStorage) ReplaceCalcSummary(ctx context.Context, meterID uint, day time.Time, totalConsumption, totalCost decimal.Decimal, details []SummaryDetail) error {
	return s.replaceSummary(meterID, day, SourceCalc, details, func(sum *DailySummary) {
		sum.TotalConsumption = totalConsumption
		sum.TotalCost = totalCost
	})
}

func (s *MemoryStorage) ReplaceFormulaSummary(ctx context.Context, meterID uint, day time.Time, totalUsage decimal.Decimal, templateID uint, details []SummaryDetail) error {
	return s.replaceSummary(meterID, day, SourceFormula, details, func(sum *DailySummary) {
		sum.TotalUsage = totalUsage
		sum.UsedTemplateID = &templateID
	})
}

func (s *MemoryStorage) replaceSummary(meterID uint, day time.Time, source string, details []SummaryDetail, mutate func(*DailySummary)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = Day(day)

	sum := s.findSummaryLocked(meterID, day)
	if sum == nil {
		sum = &DailySummary{ID: s.nextSummaryID, MeterID: meterID, SummaryDate: day}
		s.nextSummaryID++
		s.summaries[sum.ID] = sum
	}
	mutate(sum)
	sum.CalculatedAt = time.Now().UTC()

	kept := s.details[sum.ID][:0]
	for _, d := range s.details[sum.ID] {
		if d.Source != source {
			kept = append(kept, d)
		}
	}
	for _, d := range details {
		d.ID = s.nextDetailID
		s.nextDetailID++
		d.SummaryID = sum.ID
		d.Source = source
		kept = append(kept, d)
	}
	s.details[sum.ID] = kept
	return nil
}

// Alerts and notifications

func (s *MemoryStorage) CreateAlert(ctx context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *MemoryStorage) ResolveAlerts(ctx context.Context, meterID uint, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.MeterID == meterID && a.Reason == reason && a.Status == AlertNew {
			a.Status = AlertHandled
			a.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) CreateNotification(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailConfig == nil {
		return nil, nil
	}
	cfg := *s.emailConfig
	return &cfg, nil
}

func (s *MemoryStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailConfig = &cfg
	return nil
}

// Efficiency targets

func (s *MemoryStorage) GetActiveTarget(ctx context.Context, meterID uint, day time.Time) (*EfficiencyTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = Day(day)
	for i := range s.targets {
		t := s.targets[i]
		if t.MeterID == meterID && !t.PeriodStart.After(day) && !t.PeriodEnd.Before(day) {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// Worker bookkeeping

func (s *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key], nil
}

func (s *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, runAt time.Time, dur time.Duration, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	okInt := 0
	if success {
		okInt = 1
	}
	s.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      runAt,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    okInt,
		LastError:      errMsg,
	}
	return nil
}

func (s *MemoryStorage) AcquireRunLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func (s *MemoryStorage) ReleaseRunLock(ctx context.Context, key int64) error {
	return nil
}

func (s *MemoryStorage) Close() error { return nil }
