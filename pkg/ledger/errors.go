package ledger

import (
	"errors"

	"github.com/mcclellann/kidLedger/pkg/models"
)

// Validation errors.
var (
	ErrInvalidAmount = models.ErrInvalidAmount
	ErrInvalidKind   = models.ErrInvalidKind
	ErrInvalidName   = errors.New("account name is required")
	ErrSameAccount   = errors.New("source and destination accounts are the same")
)

// Insufficient-funds errors, always judged against balances reconciled from the ledger.
var (
	ErrInsufficientFunds    = errors.New("insufficient savings balance")
	ErrNoActiveLoan         = errors.New("no outstanding loan")
	ErrRepaymentExceedsLoan = errors.New("repayment exceeds outstanding loan")
	ErrInsufficientFD       = errors.New("insufficient fixed deposit balance")
)

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidName) || errors.Is(err, ErrSameAccount)
}

// IsInsufficientFunds reports whether err was a balance check failure.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoActiveLoan) ||
		errors.Is(err, ErrRepaymentExceedsLoan) || errors.Is(err, ErrInsufficientFD)
}
