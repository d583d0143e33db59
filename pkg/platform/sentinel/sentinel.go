package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, ledgers and locks return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: uniqueness constraint violated (second vault for an owner)
//   - ErrInsufficientFunds: ledger refused a debit larger than the balance
//   - ErrInvalidState: record in the wrong state for the requested operation
//   - ErrUnavailable: dependency temporarily unavailable (circuit open, lock busy)
//   - ErrOverflow: a stored counter or balance would exceed its range
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnavailable       = errors.New("unavailable")
	ErrOverflow          = errors.New("overflow")
)
