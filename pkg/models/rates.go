package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SchemeName string

const (
	SchemeDeposit SchemeName = "deposit"
	SchemeFD      SchemeName = "fd"
	SchemeLoan    SchemeName = "loan"
)

// Valid reports whether n is one of the supported scheme names.
func (n SchemeName) Valid() bool {
	return n == SchemeDeposit || n == SchemeFD || n == SchemeLoan
}

type RateScheme struct {
	ID                uuid.UUID       `json:"id"`
	Name              SchemeName      `json:"name"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RateVersion records the rate a scheme carried from EffectiveFrom onwards.
type RateVersion struct {
	SchemeName        SchemeName      `json:"scheme_name"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	EffectiveFrom     time.Time       `json:"effective_from"`
}

// FDLot is a fixed-deposit placement with the principal still left in it.
type FDLot struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	PlacedAt      time.Time       `json:"placed_at"`
	Principal     decimal.Decimal `json:"principal"`
	Remaining     decimal.Decimal `json:"remaining"`
	Age           time.Duration   `json:"age"`
	YearsOld      float64         `json:"years_old"`
}
