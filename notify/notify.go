package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the ledger and workflow services.
const (
	TypeBatchCredited       = "ledger.batch_credited"
	TypeTokensExpired       = "ledger.tokens_expired"
	TypeWalletFrozen        = "ledger.wallet_frozen"
	TypeAdPurchased         = "ads.purchased"
	TypeJobSubmitted        = "campaign.job_submitted"
	TypeJobRejected         = "campaign.job_rejected"
	TypeJobCompleted        = "campaign.job_completed"
	TypeWithdrawalRequested = "withdrawal.requested"
	TypeWithdrawalCompleted = "withdrawal.completed"
	TypeWithdrawalRejected  = "withdrawal.rejected"
)

// Event describes a state transition for the marketplace's notification
// dispatcher. The ledger only emits these; delivery is someone else's job.
type Event struct {
	Type       string            `json:"type"`
	SubjectID  uuid.UUID         `json:"subjectId"`
	AccountID  uuid.UUID         `json:"accountId"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Sink receives emitted events. Implementations must not block the caller;
// events are published after the owning transaction commits.
type Sink interface {
	Publish(Event)
}

// NoopSink drops all events.
type NoopSink struct{}

// Publish implements Sink.
func (NoopSink) Publish(Event) {}
