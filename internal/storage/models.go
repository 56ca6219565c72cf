package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Meter statuses.
const (
	MeterActive      = "ACTIVE"
	MeterInactive    = "INACTIVE"
	MeterMaintenance = "MAINTENANCE"
)

// Well-known energy type names.
const (
	EnergyElectricity = "Electricity"
	EnergyWater       = "Water"
	EnergyFuel        = "Fuel"
)

// Well-known meter category names.
const (
	CategoryOffice   = "Office"
	CategoryTerminal = "Terminal"
)

// Well-known reading type names. WBP is the peak tariff window, LWBP the
// off-peak window. The Stand* types are the intra-day checkpoints used by
// office meters.
const (
	ReadingWBP        = "WBP"
	ReadingLWBP       = "LWBP"
	ReadingStandPagi  = "Stand Pagi"
	ReadingStandSore  = "Stand Sore"
	ReadingStandMalam = "Stand Malam"
)

// Alert statuses.
const (
	AlertNew     = "NEW"
	AlertHandled = "HANDLED"
)

// EnergyType classifies a meter (Electricity, Water, Fuel).
type EnergyType struct {
	ID           uint   `json:"id" gorm:"primaryKey;column:id"`
	Name         string `json:"name" gorm:"unique;column:name"`
	UnitStandard string `json:"unit_standard" gorm:"column:unit_standard"`
}

// MeterCategory groups meters by usage profile (Office, Terminal, ...).
type MeterCategory struct {
	ID   uint   `json:"id" gorm:"primaryKey;column:id"`
	Name string `json:"name" gorm:"unique;column:name"`
}

// ReadingType is one named metric captured during a reading session.
type ReadingType struct {
	ID           uint   `json:"id" gorm:"primaryKey;column:id"`
	Name         string `json:"name" gorm:"unique;column:name"`
	Unit         string `json:"unit" gorm:"column:unit"`
	EnergyTypeID uint   `json:"energy_type_id" gorm:"column:energy_type_id;index"`
}

// TariffGroup ties meters to a family of price schemes. FaktorKali is the
// billing multiplier applied on top of the raw counter delta.
type TariffGroup struct {
	ID         uint            `json:"id" gorm:"primaryKey;column:id"`
	Code       string          `json:"code" gorm:"unique;column:code"`
	Name       string          `json:"name" gorm:"column:name"`
	FaktorKali decimal.Decimal `json:"faktor_kali" gorm:"column:faktor_kali;type:decimal(18,4);default:1"`
}

// PriceScheme is one effective-dated version of a tariff group's rates.
type PriceScheme struct {
	ID            uint        `json:"id" gorm:"primaryKey;column:id"`
	TariffGroupID uint        `json:"tariff_group_id" gorm:"column:tariff_group_id;index"`
	Name          string      `json:"name" gorm:"column:name"`
	EffectiveDate time.Time   `json:"effective_date" gorm:"column:effective_date"`
	IsActive      bool        `json:"is_active" gorm:"column:is_active;default:true"`
	Rates         []PriceRate `json:"rates" gorm:"foreignKey:PriceSchemeID"`
	Taxes         []PriceTax  `json:"taxes" gorm:"foreignKey:PriceSchemeID"`
}

// PriceRate is the unit price for one reading type within a scheme.
type PriceRate struct {
	ID            uint            `json:"id" gorm:"primaryKey;column:id"`
	PriceSchemeID uint            `json:"price_scheme_id" gorm:"column:price_scheme_id;index"`
	ReadingTypeID uint            `json:"reading_type_id" gorm:"column:reading_type_id"`
	ReadingType   ReadingType     `json:"reading_type" gorm:"foreignKey:ReadingTypeID"`
	Value         decimal.Decimal `json:"value" gorm:"column:value;type:decimal(18,4)"`
}

// PriceTax is a proportional tax attached to a scheme. Taxes are carried as
// scheme metadata; row costs are priced at the bare unit rate.
type PriceTax struct {
	ID            uint            `json:"id" gorm:"primaryKey;column:id"`
	PriceSchemeID uint            `json:"price_scheme_id" gorm:"column:price_scheme_id;index"`
	Name          string          `json:"name" gorm:"column:name"`
	Percent       decimal.Decimal `json:"percent" gorm:"column:percent;type:decimal(8,4)"`
}

// Meter is a physical or virtual metering point.
//
// Tank geometry (TankHeightCm, TankVolumeLiters) is set only for Fuel meters.
// RolloverLimit is set only for counter meters that wrap around. Meters with a
// CalculationTemplate are "virtual": their daily usage is produced by the
// formula engine rather than a counter delta.
type Meter struct {
	ID                    uint                 `json:"id" gorm:"primaryKey;column:id"`
	Code                  string               `json:"code" gorm:"unique;column:code"`
	Name                  string               `json:"name" gorm:"column:name"`
	Status                string               `json:"status" gorm:"column:status;default:ACTIVE"`
	EnergyTypeID          uint                 `json:"energy_type_id" gorm:"column:energy_type_id"`
	EnergyType            EnergyType           `json:"energy_type" gorm:"foreignKey:EnergyTypeID"`
	CategoryID            uint                 `json:"category_id" gorm:"column:category_id"`
	Category              MeterCategory        `json:"category" gorm:"foreignKey:CategoryID"`
	TariffGroupID         uint                 `json:"tariff_group_id" gorm:"column:tariff_group_id"`
	TariffGroup           TariffGroup          `json:"tariff_group" gorm:"foreignKey:TariffGroupID"`
	TankHeightCm          *decimal.Decimal     `json:"tank_height_cm,omitempty" gorm:"column:tank_height_cm;type:decimal(18,4)"`
	TankVolumeLiters      *decimal.Decimal     `json:"tank_volume_liters,omitempty" gorm:"column:tank_volume_liters;type:decimal(18,4)"`
	RolloverLimit         *decimal.Decimal     `json:"rollover_limit,omitempty" gorm:"column:rollover_limit;type:decimal(18,4)"`
	Multiplier            decimal.Decimal      `json:"multiplier" gorm:"column:multiplier;type:decimal(18,4);default:1"`
	InitialReading        decimal.Decimal      `json:"initial_reading" gorm:"column:initial_reading;type:decimal(18,4);default:0"`
	CalculationTemplateID *uint                `json:"calculation_template_id,omitempty" gorm:"column:calculation_template_id"`
	CalculationTemplate   *CalculationTemplate `json:"calculation_template,omitempty" gorm:"foreignKey:CalculationTemplateID"`
	CreatedAt             time.Time            `json:"created_at" gorm:"column:created_at"`
	UpdatedAt             time.Time            `json:"updated_at" gorm:"column:updated_at"`
}

// CalculationTemplate bundles the formula definitions of a virtual meter.
type CalculationTemplate struct {
	ID          uint                `json:"id" gorm:"primaryKey;column:id"`
	Name        string              `json:"name" gorm:"column:name"`
	Definitions []FormulaDefinition `json:"definitions" gorm:"foreignKey:TemplateID"`
}

// Formula variable kinds.
const (
	VarReading  = "reading"
	VarSpec     = "spec"
	VarConstant = "constant"
)

// FormulaVariable binds one label inside a formula expression to its data
// source: a reading detail of some meter (optionally time-shifted to the
// previous day), a meter spec field, or a constant.
type FormulaVariable struct {
	Label         string   `json:"label"`
	Type          string   `json:"type"`
	MeterID       *uint    `json:"meterId,omitempty"`
	ReadingTypeID *uint    `json:"readingTypeId,omitempty"`
	TimeShift     int      `json:"timeShift,omitempty"`
	SpecField     string   `json:"specField,omitempty"`
	Value         *float64 `json:"value,omitempty"`
}

// FormulaItems is the decoded shape of FormulaDefinition.FormulaItems.
type FormulaItems struct {
	Formula   string            `json:"formula"`
	Variables []FormulaVariable `json:"variables"`
}

// FormulaDefinition is one named formula of a calculation template. The
// expression and its variable bindings are stored as a JSON document in
// FormulaItems and decoded once after load via Items().
type FormulaDefinition struct {
	ID           uint   `json:"id" gorm:"primaryKey;column:id"`
	TemplateID   uint   `json:"template_id" gorm:"column:template_id;index"`
	Name         string `json:"name" gorm:"column:name"`
	IsMain       bool   `json:"is_main" gorm:"column:is_main"`
	FormulaItems string `json:"formula_items" gorm:"column:formula_items"`

	items *FormulaItems `gorm:"-" json:"-"`
}

// Items decodes and caches the formula_items JSON document.
func (d *FormulaDefinition) Items() (*FormulaItems, error) {
	if d.items != nil {
		return d.items, nil
	}
	var fi FormulaItems
	if err := json.Unmarshal([]byte(d.FormulaItems), &fi); err != nil {
		return nil, fmt.Errorf("decode formula_items of definition %d (%s): %w", d.ID, d.Name, err)
	}
	d.items = &fi
	return d.items, nil
}

// References reports whether any variable of this definition reads from the
// given meter.
func (d *FormulaDefinition) References(meterID uint) bool {
	fi, err := d.Items()
	if err != nil {
		return false
	}
	for _, v := range fi.Variables {
		if v.MeterID != nil && *v.MeterID == meterID {
			return true
		}
	}
	return false
}

// ReadingSession is one submitted set of counter values for a meter on a
// calendar day. ReadingDate is normalized to midnight UTC.
type ReadingSession struct {
	ID          uint            `json:"id" gorm:"primaryKey;column:id"`
	MeterID     uint            `json:"meter_id" gorm:"column:meter_id;index:idx_session_meter_date,unique"`
	ReadingDate time.Time       `json:"reading_date" gorm:"column:reading_date;index:idx_session_meter_date,unique"`
	Details     []ReadingDetail `json:"details" gorm:"foreignKey:SessionID"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at"`
}

// DetailValue returns the detail value for a reading type, or nil when the
// session is missing or has no detail of that type.
func (s *ReadingSession) DetailValue(readingTypeID uint) *decimal.Decimal {
	if s == nil {
		return nil
	}
	for i := range s.Details {
		if s.Details[i].ReadingTypeID == readingTypeID {
			v := s.Details[i].Value
			return &v
		}
	}
	return nil
}

// ReadingDetail is one (reading type, value) pair inside a session.
type ReadingDetail struct {
	ID            uint            `json:"id" gorm:"primaryKey;column:id"`
	SessionID     uint            `json:"session_id" gorm:"column:session_id;index"`
	ReadingTypeID uint            `json:"reading_type_id" gorm:"column:reading_type_id"`
	Value         decimal.Decimal `json:"value" gorm:"column:value;type:decimal(18,4)"`
}

// Summary detail sources. Calculator rows and formula rows live in the same
// table but are replaced independently.
const (
	SourceCalc    = "calc"
	SourceFormula = "formula"
)

// DailySummary is the derived per-(meter, day) aggregate. It is recreated on
// every recomputation and never hand-edited.
type DailySummary struct {
	ID               uint            `json:"id" gorm:"primaryKey;column:id"`
	MeterID          uint            `json:"meter_id" gorm:"column:meter_id;index:idx_summary_meter_date,unique"`
	SummaryDate      time.Time       `json:"summary_date" gorm:"column:summary_date;index:idx_summary_meter_date,unique"`
	TotalConsumption decimal.Decimal `json:"total_consumption" gorm:"column:total_consumption;type:decimal(18,4)"`
	TotalCost        decimal.Decimal `json:"total_cost" gorm:"column:total_cost;type:decimal(18,4)"`
	TotalUsage       decimal.Decimal `json:"total_usage" gorm:"column:total_usage;type:decimal(18,4)"`
	UsedTemplateID   *uint           `json:"used_template_id,omitempty" gorm:"column:used_template_id"`
	CalculatedAt     time.Time       `json:"calculated_at" gorm:"column:calculated_at"`
	Details          []SummaryDetail `json:"details" gorm:"foreignKey:SummaryID"`
}

// SummaryDetail is one named metric contribution within a daily summary.
type SummaryDetail struct {
	ID              uint             `json:"id" gorm:"primaryKey;column:id"`
	SummaryID       uint             `json:"summary_id" gorm:"column:summary_id;index"`
	Source          string           `json:"source" gorm:"column:source;default:calc"`
	MetricName      string           `json:"metric_name" gorm:"column:metric_name"`
	CurrentReading  decimal.Decimal  `json:"current_reading" gorm:"column:current_reading;type:decimal(18,4)"`
	PreviousReading decimal.Decimal  `json:"previous_reading" gorm:"column:previous_reading;type:decimal(18,4)"`
	Consumption     decimal.Decimal  `json:"consumption_value" gorm:"column:consumption_value;type:decimal(18,4)"`
	Cost            decimal.Decimal  `json:"consumption_cost" gorm:"column:consumption_cost;type:decimal(18,4)"`
	RemainingStock  *decimal.Decimal `json:"remaining_stock,omitempty" gorm:"column:remaining_stock;type:decimal(18,4)"`
	WBPValue        *decimal.Decimal `json:"wbp_value,omitempty" gorm:"column:wbp_value;type:decimal(18,4)"`
	LWBPValue       *decimal.Decimal `json:"lwbp_value,omitempty" gorm:"column:lwbp_value;type:decimal(18,4)"`
}

// Alert is a persisted alert condition for a meter, keyed by a short
// machine-checkable reason code.
type Alert struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	MeterID     uint      `json:"meter_id" gorm:"column:meter_id;index"`
	Reason      string    `json:"reason" gorm:"column:reason;index"`
	Severity    string    `json:"severity" gorm:"column:severity"`
	Title       string    `json:"title" gorm:"column:title"`
	Description string    `json:"description" gorm:"column:description"`
	Status      string    `json:"status" gorm:"column:status;default:NEW"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Notification is an admin-facing informational notice.
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	MeterID   uint      `json:"meter_id" gorm:"column:meter_id;index"`
	Category  string    `json:"category" gorm:"column:category"`
	Title     string    `json:"title" gorm:"column:title"`
	Message   string    `json:"message" gorm:"column:message"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

// EfficiencyTarget is a consumption ceiling for a meter over a period.
type EfficiencyTarget struct {
	ID          uint            `json:"id" gorm:"primaryKey;column:id"`
	MeterID     uint            `json:"meter_id" gorm:"column:meter_id;index"`
	PeriodStart time.Time       `json:"period_start" gorm:"column:period_start"`
	PeriodEnd   time.Time       `json:"period_end" gorm:"column:period_end"`
	TargetValue decimal.Decimal `json:"target_value" gorm:"column:target_value;type:decimal(18,4)"`
}

// EmailConfig holds configuration for email notifications.
type EmailConfig struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Provider    string    `json:"provider" gorm:"column:provider"` // "smtp", "sendgrid", "gmail"
	Host        string    `json:"host,omitempty" gorm:"column:host"`
	Port        int       `json:"port,omitempty" gorm:"column:port"`
	Username    string    `json:"username,omitempty" gorm:"column:username"`
	Password    string    `json:"password,omitempty" gorm:"column:password"`
	Encryption  string    `json:"encryption,omitempty" gorm:"column:encryption"` // "", "tls", "ssl"
	FromAddress string    `json:"from_address" gorm:"column:from_address"`
	FromName    string    `json:"from_name" gorm:"column:from_name"`
	APIKey      string    `json:"api_key,omitempty" gorm:"column:api_key"`
	AdminEmail  string    `json:"admin_email,omitempty" gorm:"column:admin_email"`
	Enabled     bool      `json:"enabled" gorm:"column:enabled"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Setting is a key/value runtime setting (worker intervals and the like).
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ScheduledJob records the last outcome of a background job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}

// Day normalizes a timestamp to midnight UTC. Sessions and summaries are
// keyed by this value.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
