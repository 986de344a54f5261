// Package rates holds the named interest schemes and their rate history.
package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/kidLedger/pkg/models"
	"github.com/mcclellann/kidLedger/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRate   = errors.New("annual rate must be zero or positive")
	ErrUnknownScheme = errors.New("unknown scheme name")
)

// Schedule reads and administers rate schemes.
type Schedule struct {
	store store.Storage
	now   func() time.Time
}

// NewSchedule creates a Schedule backed by the given storage.
func NewSchedule(s store.Storage) *Schedule {
	return &Schedule{store: s, now: time.Now}
}

func validate(name models.SchemeName, rate decimal.Decimal) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	if rate.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return nil
}

// GetRate returns the current annual rate of the named scheme.
func (s *Schedule) GetRate(ctx context.Context, name models.SchemeName) (decimal.Decimal, error) {
	if !name.Valid() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	sc, err := s.store.GetSchemeByName(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	return sc.AnnualRatePercent, nil
}

// CreateScheme adds a scheme. Only one scheme may exist per name.
func (s *Schedule) CreateScheme(ctx context.Context, name models.SchemeName, rate decimal.Decimal) (*models.RateScheme, error) {
	if err := validate(name, rate); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sc := &models.RateScheme{
		ID:                uuid.New(),
		Name:              name,
		AnnualRatePercent: rate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateScheme(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// SetRate changes the rate of the named scheme from now on.
func (s *Schedule) SetRate(ctx context.Context, name models.SchemeName, rate decimal.Decimal) (*models.RateScheme, error) {
	if err := validate(name, rate); err != nil {
		return nil, err
	}
	sc, err := s.store.GetSchemeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateSchemeRate(ctx, sc.ID, rate, s.now())
}

// UpdateScheme changes the rate of the scheme with the given ID.
func (s *Schedule) UpdateScheme(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.RateScheme, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return s.store.UpdateSchemeRate(ctx, id, rate, s.now())
}

func (s *Schedule) DeleteScheme(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteScheme(ctx, id)
}

func (s *Schedule) ListSchemes(ctx context.Context) ([]*models.RateScheme, error) {
	return s.store.ListSchemes(ctx)
}

// History returns every rate the named scheme has carried, oldest first.
func (s *Schedule) History(ctx context.Context, name models.SchemeName) ([]*models.RateVersion, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return s.store.ListRateVersions(ctx, name)
}

// RateAt returns the rate the named scheme carried at t.
func (s *Schedule) RateAt(ctx context.Context, name models.SchemeName, t time.Time) (decimal.Decimal, error) {
	versions, err := s.History(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := RateAt(versions, t)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", store.ErrSchemeNotFound, name)
	}
	return rate, nil
}

// RateAt picks the latest version effective at or before t. A t earlier than
// the first version resolves to the first version.
func RateAt(versions []*models.RateVersion, t time.Time) (decimal.Decimal, bool) {
	if len(versions) == 0 {
		return decimal.Zero, false
	}
	rate := versions[0].AnnualRatePercent
	for _, v := range versions[1:] {
		if v.EffectiveFrom.After(t) {
			break
		}
		rate = v.AnnualRatePercent
	}
	return rate, true
}

// Snapshot is a point-in-time copy of every scheme, loaded before a unit of
// work so that interest calculations never touch storage while holding locks.
type Snapshot struct {
	current  map[models.SchemeName]decimal.Decimal
	versions map[models.SchemeName][]*models.RateVersion
}

// Snapshot loads the current rates and history of all existing schemes.
func (s *Schedule) Snapshot(ctx context.Context) (*Snapshot, error) {
	schemes, err := s.store.ListSchemes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}
	snap := &Snapshot{
		current:  make(map[models.SchemeName]decimal.Decimal, len(schemes)),
		versions: make(map[models.SchemeName][]*models.RateVersion, len(schemes)),
	}
	for _, sc := range schemes {
		versions, err := s.store.ListRateVersions(ctx, sc.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load history of %s: %w", sc.Name, err)
		}
		snap.current[sc.Name] = sc.AnnualRatePercent
		snap.versions[sc.Name] = versions
	}
	return snap, nil
}

// NewSnapshot builds a Snapshot from fixed current rates, each effective since the zero time.
func NewSnapshot(current map[models.SchemeName]decimal.Decimal) *Snapshot {
	snap := &Snapshot{
		current:  make(map[models.SchemeName]decimal.Decimal, len(current)),
		versions: make(map[models.SchemeName][]*models.RateVersion, len(current)),
	}
	for name, rate := range current {
		snap.current[name] = rate
		snap.versions[name] = []*models.RateVersion{{SchemeName: name, AnnualRatePercent: rate}}
	}
	return snap
}

// Rate returns the current rate of the named scheme, if it exists.
func (sn *Snapshot) Rate(name models.SchemeName) (decimal.Decimal, bool) {
	r, ok := sn.current[name]
	return r, ok
}

// RateAt returns the rate the named scheme carried at t, if it exists.
func (sn *Snapshot) RateAt(name models.SchemeName, t time.Time) (decimal.Decimal, bool) {
	if _, ok := sn.current[name]; !ok {
		return decimal.Zero, false
	}
	return RateAt(sn.versions[name], t)
}
