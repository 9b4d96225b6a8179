package campaign

import "errors"

var (
	// ErrCampaignNotFound indicates the addressed campaign does not exist.
	ErrCampaignNotFound = errors.New("campaign: campaign not found")
	// ErrJobNotFound indicates the addressed job does not exist.
	ErrJobNotFound = errors.New("campaign: job not found")
	// ErrInvalidTransition rejects a job transition the workflow does not
	// permit from the job's current state.
	ErrInvalidTransition = errors.New("campaign: invalid state transition")
	// ErrBudgetExceeded rejects a settlement the campaign's remaining
	// budget cannot cover.
	ErrBudgetExceeded = errors.New("campaign: remaining budget exceeded")
	// ErrMissingLinks rejects a submission without review links.
	ErrMissingLinks = errors.New("campaign: submission requires at least one link")
	// ErrMissingReason rejects a rejection without a stated reason.
	ErrMissingReason = errors.New("campaign: rejection requires a reason")
	// ErrInvalidAmount rejects non-positive budgets or prices.
	ErrInvalidAmount = errors.New("campaign: amount must be positive")
)
