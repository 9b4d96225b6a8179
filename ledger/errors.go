package ledger

import "errors"

var (
	// ErrWalletNotFound indicates no wallet exists for the addressed shop.
	ErrWalletNotFound = errors.New("ledger: wallet not found")
	// ErrInvalidAmount rejects non-positive credit or spend amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientBalance rejects a spend exceeding the derived balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrWalletFrozen blocks spends against a wallet flagged after a
	// detected inconsistency, until an operator reconciles it.
	ErrWalletFrozen = errors.New("ledger: wallet frozen pending reconciliation")
	// ErrLedgerInconsistent reports that batch totals diverged from the
	// expected balance inside a spend transaction.
	ErrLedgerInconsistent = errors.New("ledger: batch totals diverged from expected balance")
)
