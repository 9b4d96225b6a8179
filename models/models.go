package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionType enumerates ledger entry categories.
type TransactionType string

// All ledger transaction types.
const (
	TxPurchase      TransactionType = "PURCHASE"
	TxAdvertisement TransactionType = "ADVERTISEMENT"
	TxCampaign      TransactionType = "CAMPAIGN"
	TxRefund        TransactionType = "REFUND"
	TxExpire        TransactionType = "EXPIRE"
)

// BatchSource enumerates how a token batch entered a wallet.
const (
	SourceTopup        = "topup"
	SourcePackageBonus = "package_bonus"
	SourceOGBonus      = "og_bonus"
)

// JobStatus represents a state in the campaign job workflow.
type JobStatus string

// All campaign job states.
const (
	JobPending    JobStatus = "PENDING"
	JobAccepted   JobStatus = "ACCEPTED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSubmitted  JobStatus = "SUBMITTED"
	JobCompleted  JobStatus = "COMPLETED"
	JobCancelled  JobStatus = "CANCELLED"
)

// WithdrawalStatus represents a state in the payout workflow.
type WithdrawalStatus string

// All withdrawal states.
const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
)

// AdStatus represents the lifecycle state of an advertisement.
type AdStatus string

// All advertisement states.
const (
	AdActive  AdStatus = "ACTIVE"
	AdExpired AdStatus = "EXPIRED"
)

// Wallet is the per-shop token account. It carries no balance column: the
// balance is always derived from the remaining amounts of its batches.
type Wallet struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ShopID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Frozen    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenBatch is a discrete lot of purchased or granted tokens with its own
// expiry. Batches are retained with RemainingAmount zero as audit records.
type TokenBatch struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	WalletID        uuid.UUID `gorm:"type:uuid;index"`
	Amount          int64     `gorm:"not null"`
	RemainingAmount int64     `gorm:"not null"`
	Source          string    `gorm:"size:32"`
	PurchasedAt     time.Time `gorm:"index"`
	ExpiresAt       time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokenTransaction is the append-only ledger trail. Amount is the
// pre-discount base cost; FinalAmount is signed, debits negative.
type TokenTransaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WalletID        uuid.UUID       `gorm:"type:uuid;index"`
	Type            TransactionType `gorm:"size:16;index"`
	Amount          int64           `gorm:"not null"`
	DiscountApplied int             `gorm:"not null"`
	FinalAmount     int64           `gorm:"not null"`
	Note            string          `gorm:"size:255"`
	CreatedAt       time.Time       `gorm:"index"`
}

// OGMembership records an account's subscription to the OG program. The
// benefit window is derived from this row plus the configured campaign
// snapshot, never stored.
type OGMembership struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	JoinedAt  time.Time `gorm:"not null"`
	CreatedAt time.Time
}

// Advertisement is a time-boxed paid placement bought with tokens.
type Advertisement struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ShopID       uuid.UUID `gorm:"type:uuid;index"`
	Scope        string    `gorm:"size:16"`
	DurationDays int       `gorm:"not null"`
	TokensPaid   int64     `gorm:"not null"`
	Status       AdStatus  `gorm:"size:16;index"`
	StartAt      time.Time
	EndAt        time.Time
	CreatedAt    time.Time
}

// Campaign holds the spending ceiling for a shop's creator-hiring campaign.
// RemainingBudget only decreases, and only on job approval.
type Campaign struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ShopID          uuid.UUID `gorm:"type:uuid;index"`
	Title           string    `gorm:"size:255"`
	TotalBudget     int64     `gorm:"not null"`
	RemainingBudget int64     `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CampaignJob tracks a single creator-for-shop engagement through its
// lifecycle, including the settlement amounts recorded on completion.
type CampaignJob struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	CampaignID      uuid.UUID `gorm:"type:uuid;index"`
	CreatorID       uuid.UUID `gorm:"type:uuid;index"`
	AgreedPrice     int64     `gorm:"not null"`
	Status          JobStatus `gorm:"size:16;index"`
	ReviewLink      string    `gorm:"size:512"`
	ReviewNotes     string    `gorm:"size:1024"`
	RejectionReason string    `gorm:"size:512"`
	TokensPaid      int64
	CreatorEarning  int64
	CreatedAt       time.Time
	AcceptedAt      *time.Time
	SubmittedAt     *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// CreatorBalance is the off-ledger earnings account credited by job
// settlement and drained by withdrawals. PendingWithdrawal holds amounts
// reserved by open withdrawal requests.
type CreatorBalance struct {
	CreatorID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	AvailableBalance  int64     `gorm:"not null"`
	PendingWithdrawal int64     `gorm:"not null"`
	TotalEarnings     int64     `gorm:"not null"`
	TotalWithdrawn    int64     `gorm:"not null"`
	UpdatedAt         time.Time
}

// WithdrawalRequest is a creator's cash-out request moving through the
// admin-moderated payout workflow.
type WithdrawalRequest struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey"`
	CreatorID       uuid.UUID        `gorm:"type:uuid;index"`
	Amount          int64            `gorm:"not null"`
	Fee             int64
	NetAmount       int64
	BankName        string           `gorm:"size:128"`
	BankAccount     string           `gorm:"size:64"`
	AccountName     string           `gorm:"size:128"`
	Status          WithdrawalStatus `gorm:"size:16;index"`
	RejectionReason string           `gorm:"size:512"`
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
}

// Event is the audit trail for ledger and workflow actions.
type Event struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SubjectID *uuid.UUID `gorm:"type:uuid;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;index"`
	Action    string     `gorm:"size:64"`
	Details   string     `gorm:"type:text"`
	CreatedAt time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Wallet{},
		&TokenBatch{},
		&TokenTransaction{},
		&OGMembership{},
		&Advertisement{},
		&Campaign{},
		&CampaignJob{},
		&CreatorBalance{},
		&WithdrawalRequest{},
		&Event{},
		&IdempotencyKey{},
	)
}
