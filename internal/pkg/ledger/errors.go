package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for non-positive credits/debits and for
	// adjustments that would drive a pool below zero. Rejected before any
	// write happens.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInsufficientBalance is returned when a debit exceeds the combined
	// holdings of both pools. No partial debit is ever applied.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)
