package withdrawal

import "errors"

var (
	// ErrNotFound indicates the addressed withdrawal request does not exist.
	ErrNotFound = errors.New("withdrawal: request not found")
	// ErrBelowMinimum rejects requests under the minimum payout amount.
	ErrBelowMinimum = errors.New("withdrawal: amount below minimum")
	// ErrExceedsAvailable rejects requests above the creator's spendable
	// balance, net of amounts already reserved by open requests.
	ErrExceedsAvailable = errors.New("withdrawal: amount exceeds available balance")
	// ErrInvalidTransition rejects a lifecycle move the workflow does not
	// permit from the request's current state.
	ErrInvalidTransition = errors.New("withdrawal: invalid state transition")
	// ErrMissingReason rejects a rejection without a stated reason.
	ErrMissingReason = errors.New("withdrawal: rejection requires a reason")
	// ErrMissingBankDetails rejects requests without payout destination.
	ErrMissingBankDetails = errors.New("withdrawal: bank details required")
	// ErrInvalidFee rejects a completion fee that is negative or larger
	// than the withdrawn amount.
	ErrInvalidFee = errors.New("withdrawal: fee out of range")
)
