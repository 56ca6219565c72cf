package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStorage implements Storage on top of gorm with a sqlite or postgres
// dialector.
type GormStorage struct {
	db       *gorm.DB
	postgres bool
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var dialector gorm.Dialector
	isPostgres := false
	switch driver {
	case "postgres", "postgrespool":
		dialector = postgres.Open(dsn)
		isPostgres = true
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, postgres: isPostgres}, nil
}

// AutoMigrate creates or updates all tables. Production deployments use the
// goose migrations instead; this exists for tests and dev sqlite files.
func (s *GormStorage) AutoMigrate() error {
	return s.db.AutoMigrate(
		&EnergyType{},
		&MeterCategory{},
		&ReadingType{},
		&TariffGroup{},
		&PriceScheme{},
		&PriceRate{},
		&PriceTax{},
		&CalculationTemplate{},
		&FormulaDefinition{},
		&Meter{},
		&ReadingSession{},
		&ReadingDetail{},
		&DailySummary{},
		&SummaryDetail{},
		&Alert{},
		&Notification{},
		&EfficiencyTarget{},
		&EmailConfig{},
		&Setting{},
		&ScheduledJob{},
	)
}

// Meters

func (s *GormStorage) GetMeter(ctx context.Context, id uint) (*Meter, error) {
	var m Meter
	err := s.db.WithContext(ctx).
		Preload("EnergyType").
		Preload("Category").
		Preload("TariffGroup").
		Preload("CalculationTemplate.Definitions").
		First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormStorage) GetMeterByCode(ctx context.Context, code string) (*Meter, error) {
	var m Meter
	err := s.db.WithContext(ctx).
		Preload("EnergyType").
		Preload("Category").
		Preload("TariffGroup").
		Preload("CalculationTemplate.Definitions").
		First(&m, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormStorage) ListMeters(ctx context.Context) ([]Meter, error) {
	var meters []Meter
	err := s.db.WithContext(ctx).
		Preload("EnergyType").
		Preload("Category").
		Find(&meters).Error
	return meters, err
}

func (s *GormStorage) ListTemplatedMeters(ctx context.Context) ([]Meter, error) {
	var meters []Meter
	err := s.db.WithContext(ctx).
		Preload("CalculationTemplate.Definitions").
		Where("calculation_template_id IS NOT NULL").
		Find(&meters).Error
	return meters, err
}

func (s *GormStorage) GetReadingTypeByName(ctx context.Context, name string) (*ReadingType, error) {
	var rt ReadingType
	err := s.db.WithContext(ctx).First(&rt, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

func (s *GormStorage) GetPrimaryReadingType(ctx context.Context, energyTypeID uint) (*ReadingType, error) {
	var rt ReadingType
	err := s.db.WithContext(ctx).
		Order("id asc").
		First(&rt, "energy_type_id = ?", energyTypeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

// Reading sessions

func (s *GormStorage) GetSession(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error) {
	var sess ReadingSession
	err := s.db.WithContext(ctx).
		Preload("Details").
		First(&sess, "meter_id = ? AND reading_date = ?", meterID, Day(day)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *GormStorage) GetLatestSessionBefore(ctx context.Context, meterID uint, day time.Time) (*ReadingSession, error) {
	var sess ReadingSession
	err := s.db.WithContext(ctx).
		Preload("Details").
		Where("meter_id = ? AND reading_date < ?", meterID, Day(day)).
		Order("reading_date desc").
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *GormStorage) ListSessionsInRange(ctx context.Context, meterIDs []uint, from, to time.Time) ([]ReadingSession, error) {
	var sessions []ReadingSession
	err := s.db.WithContext(ctx).
		Preload("Details").
		Where("meter_id IN ? AND reading_date >= ? AND reading_date <= ?", meterIDs, Day(from), Day(to)).
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStorage) ListSessionDays(ctx context.Context, meterID uint, from, to time.Time) ([]time.Time, error) {
	var days []time.Time
	err := s.db.WithContext(ctx).
		Model(&ReadingSession{}).
		Where("meter_id = ? AND reading_date >= ? AND reading_date <= ?", meterID, Day(from), Day(to)).
		Order("reading_date asc").
		Pluck("reading_date", &days).Error
	return days, err
}

// Tariffs

func (s *GormStorage) GetActivePriceScheme(ctx context.Context, tariffGroupID uint, asOf time.Time) (*PriceScheme, error) {
	var scheme PriceScheme
	err := s.db.WithContext(ctx).
		Preload("Rates.ReadingType").
		Preload("Taxes").
		Where("tariff_group_id = ? AND effective_date <= ? AND is_active = ?", tariffGroupID, Day(asOf), true).
		Order("effective_date desc").
		First(&scheme).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &scheme, nil
}

// Daily summaries

func (s *GormStorage) GetDailySummary(ctx context.Context, meterID uint, day time.Time) (*DailySummary, error) {
	var sum DailySummary
	err := s.db.WithContext(ctx).
		Preload("Details").
		First(&sum, "meter_id = ? AND summary_date = ?", meterID, Day(day)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sum, nil
}

func (s *GormStorage) ReplaceCalcSummary(ctx context.Context, meterID uint, day time.Time, totalConsumption, totalCost decimal.Decimal, details []SummaryDetail) error {
	return s.replaceSummary(ctx, meterID, day, SourceCalc, details, func(sum *DailySummary) {
		sum.TotalConsumption = totalConsumption
		sum.TotalCost = totalCost
	})
}

func (s *GormStorage) ReplaceFormulaSummary(ctx context.Context, meterID uint, day time.Time, totalUsage decimal.Decimal, templateID uint, details []SummaryDetail) error {
	return s.replaceSummary(ctx, meterID, day, SourceFormula, details, func(sum *DailySummary) {
		sum.TotalUsage = totalUsage
		sum.UsedTemplateID = &templateID
	})
}

// replaceSummary upserts the (meter, day) summary header, applies mutate to
// it, then swaps every detail row of the given source. Header and details move
// together or not at all.
func (s *GormStorage) replaceSummary(ctx context.Context, meterID uint, day time.Time, source string, details []SummaryDetail, mutate func(*DailySummary)) error {
	day = Day(day)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sum DailySummary
		err := tx.Where("meter_id = ? AND summary_date = ?", meterID, day).First(&sum).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sum = DailySummary{MeterID: meterID, SummaryDate: day}
		} else if err != nil {
			return err
		}

		mutate(&sum)
		sum.CalculatedAt = time.Now().UTC()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meter_id"}, {Name: "summary_date"}},
			UpdateAll: true,
		}).Create(&sum).Error; err != nil {
			return err
		}

		if err := tx.Where("summary_id = ? AND source = ?", sum.ID, source).
			Delete(&SummaryDetail{}).Error; err != nil {
			return err
		}
		for i := range details {
			details[i].ID = 0
			details[i].SummaryID = sum.ID
			details[i].Source = source
		}
		if len(details) == 0 {
			return nil
		}
		return tx.Create(&details).Error
	})
}

// Alerts and notifications

func (s *GormStorage) CreateAlert(ctx context.Context, a Alert) error {
	return s.db.WithContext(ctx).Create(&a).Error
}

func (s *GormStorage) ResolveAlerts(ctx context.Context, meterID uint, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("meter_id = ? AND reason = ? AND status = ?", meterID, reason, AlertNew).
		Updates(map[string]interface{}{"status": AlertHandled, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (s *GormStorage) CreateNotification(ctx context.Context, n Notification) error {
	return s.db.WithContext(ctx).Create(&n).Error
}

func (s *GormStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var cfg EmailConfig
	err := s.db.WithContext(ctx).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *GormStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&cfg).Error
}

// Efficiency targets

func (s *GormStorage) GetActiveTarget(ctx context.Context, meterID uint, day time.Time) (*EfficiencyTarget, error) {
	var target EfficiencyTarget
	err := s.db.WithContext(ctx).
		Where("meter_id = ? AND period_start <= ? AND period_end >= ?", meterID, Day(day), Day(day)).
		First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &target, nil
}

// Worker bookkeeping

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, runAt time.Time, dur time.Duration, success bool, errMsg string) error {
	okInt := 0
	if success {
		okInt = 1
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&ScheduledJob{
		Name:           name,
		LastRunAt:      runAt,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    okInt,
		LastError:      errMsg,
	}).Error
}

// AcquireRunLock uses a Postgres advisory lock so only one replica runs a
// batch job. On sqlite there is nothing to coordinate with, so the lock is
// always granted.
func (s *GormStorage) AcquireRunLock(ctx context.Context, key int64) (bool, error) {
	if !s.postgres {
		return true, nil
	}
	var got bool
	err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&got).Error
	return got, err
}

func (s *GormStorage) ReleaseRunLock(ctx context.Context, key int64) error {
	if !s.postgres {
		return nil
	}
	var released bool
	return s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&released).Error
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
