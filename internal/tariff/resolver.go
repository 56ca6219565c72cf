package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danutirta/meterflow/internal/storage"
	"github.com/shopspring/decimal"
)

// ErrNoScheme is returned when no price scheme is active for a tariff group
// at the requested date.
var ErrNoScheme = errors.New("tariff: no active price scheme")

// Resolved is the single price scheme applicable to a tariff group at a date,
// with rate lookup by reading type.
type Resolved struct {
	Scheme     *storage.PriceScheme
	FaktorKali decimal.Decimal

	byTypeID   map[uint]decimal.Decimal
	byTypeName map[string]decimal.Decimal
}

// RateFor returns the unit rate for a reading type id.
func (r *Resolved) RateFor(readingTypeID uint) (decimal.Decimal, bool) {
	v, ok := r.byTypeID[readingTypeID]
	return v, ok
}

// RateForName returns the unit rate for a reading type name.
func (r *Resolved) RateForName(name string) (decimal.Decimal, bool) {
	v, ok := r.byTypeName[name]
	return v, ok
}

// Taxes returns the proportional taxes attached to the scheme.
func (r *Resolved) Taxes() []storage.PriceTax {
	return r.Scheme.Taxes
}

// Resolver looks up the active rate scheme for a tariff group.
type Resolver struct {
	store storage.Storage
}

func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store}
}

// Active returns the most recent active scheme with effective date at or
// before asOf. The group's billing multiplier rides along so calculators have
// a single pricing handle.
func (r *Resolver) Active(ctx context.Context, group storage.TariffGroup, asOf time.Time) (*Resolved, error) {
	scheme, err := r.store.GetActivePriceScheme(ctx, group.ID, asOf)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w for group %q at %s", ErrNoScheme, group.Code, storage.Day(asOf).Format("2006-01-02"))
		}
		return nil, err
	}
	return Resolve(scheme, group), nil
}

// Resolve indexes a scheme's rates for lookup. Exported for tests and for
// callers that already hold the scheme row.
func Resolve(scheme *storage.PriceScheme, group storage.TariffGroup) *Resolved {
	res := &Resolved{
		Scheme:     scheme,
		FaktorKali: group.FaktorKali,
		byTypeID:   make(map[uint]decimal.Decimal, len(scheme.Rates)),
		byTypeName: make(map[string]decimal.Decimal, len(scheme.Rates)),
	}
	if res.FaktorKali.IsZero() {
		res.FaktorKali = decimal.NewFromInt(1)
	}
	for _, rate := range scheme.Rates {
		res.byTypeID[rate.ReadingTypeID] = rate.Value
		if rate.ReadingType.Name != "" {
			res.byTypeName[rate.ReadingType.Name] = rate.Value
		}
	}
	return res
}
