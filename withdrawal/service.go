// Package withdrawal turns accumulated creator earnings into
// admin-moderated payout requests, reserving the requested amount so
// concurrent requests cannot claim the same balance.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/notify"
	"github.com/pasarloka/tokenledger/observability"
)

// DefaultMinimumAmount is the smallest withdrawal a creator may request.
const DefaultMinimumAmount = 100

// BankDetails is the payout destination supplied with a request.
type BankDetails struct {
	BankName    string `json:"bankName"`
	BankAccount string `json:"bankAccount"`
	AccountName string `json:"accountName"`
}

// Service drives the withdrawal request state machine.
type Service struct {
	db      *gorm.DB
	fees    FeePolicy
	minimum int64
	sink    notify.Sink
	metrics *observability.LedgerMetrics
	now     func() time.Time
}

// Config captures the dependencies required to construct the service.
type Config struct {
	DB      *gorm.DB
	Fees    FeePolicy
	Minimum int64
	Sink    notify.Sink
	Now     func() time.Time
}

// New constructs a withdrawal service.
func New(cfg Config) *Service {
	s := &Service{
		db:      cfg.DB,
		fees:    cfg.Fees,
		minimum: cfg.Minimum,
		sink:    cfg.Sink,
		metrics: observability.Ledger(),
		now:     cfg.Now,
	}
	if s.fees == nil {
		s.fees = ConfiguredFee{}
	}
	if s.minimum <= 0 {
		s.minimum = DefaultMinimumAmount
	}
	if s.sink == nil {
		s.sink = notify.NoopSink{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// lockCreatorBalance row-locks the creator's balance, inserting the row
// first when the creator has never been settled. ON CONFLICT DO NOTHING
// keeps two concurrent first touches converging on the same row.
func lockCreatorBalance(tx *gorm.DB, creatorID uuid.UUID, at time.Time) (*models.CreatorBalance, error) {
	var balance models.CreatorBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&balance, "creator_id = ?", creatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := models.CreatorBalance{CreatorID: creatorID, UpdatedAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return nil, err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&balance, "creator_id = ?", creatorID).Error
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func lockRequest(tx *gorm.DB, requestID uuid.UUID) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Request opens a PENDING withdrawal. The amount moves out of the
// creator's spendable balance into a pending hold inside the same
// transaction, so a concurrent request cannot claim it again.
func (s *Service) Request(ctx context.Context, creatorID uuid.UUID, amount int64, bank BankDetails) (*models.WithdrawalRequest, error) {
	if amount < s.minimum {
		return nil, ErrBelowMinimum
	}
	if strings.TrimSpace(bank.BankName) == "" || strings.TrimSpace(bank.BankAccount) == "" {
		return nil, ErrMissingBankDetails
	}

	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := lockCreatorBalance(tx, creatorID, s.now())
		if err != nil {
			return err
		}
		if amount > balance.AvailableBalance {
			return ErrExceedsAvailable
		}
		balance.AvailableBalance -= amount
		balance.PendingWithdrawal += amount
		balance.UpdatedAt = s.now()
		if err := tx.Save(balance).Error; err != nil {
			return err
		}

		req = &models.WithdrawalRequest{
			ID:          uuid.New(),
			CreatorID:   creatorID,
			Amount:      amount,
			BankName:    bank.BankName,
			BankAccount: bank.BankAccount,
			AccountName: bank.AccountName,
			Status:      models.WithdrawalPending,
			RequestedAt: s.now(),
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		return appendEvent(tx, req.ID, creatorID, "withdrawal.requested", fmt.Sprintf("amount=%d", amount), s.now())
	})
	if err != nil {
		return nil, err
	}

	s.sink.Publish(notify.Event{
		Type:       notify.TypeWithdrawalRequested,
		SubjectID:  req.ID,
		AccountID:  creatorID,
		Attributes: map[string]string{"amount": fmt.Sprint(amount)},
		OccurredAt: s.now(),
	})
	return req, nil
}

// Process moves a PENDING request to PROCESSING. Admin only.
func (s *Service) Process(ctx context.Context, requestID, actorID uuid.UUID) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, req.Status, models.WithdrawalProcessing)
		}
		now := s.now()
		req.Status = models.WithdrawalProcessing
		req.ProcessedAt = &now
		if err := tx.Save(req).Error; err != nil {
			return err
		}
		return appendEvent(tx, req.ID, actorID, "withdrawal.processing", "", s.now())
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Complete moves a PROCESSING request to COMPLETED. The reserved hold is
// consumed, the net amount is added to the creator's lifetime withdrawals,
// and the fee is taken from the configured policy unless the admin passes
// an explicit override.
func (s *Service) Complete(ctx context.Context, requestID, actorID uuid.UUID, feeOverride *int64) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalProcessing {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, req.Status, models.WithdrawalCompleted)
		}

		fee := s.fees.Fee(req.Amount)
		if feeOverride != nil {
			fee = *feeOverride
		}
		if fee < 0 || fee > req.Amount {
			return fmt.Errorf("%w: fee %d for amount %d", ErrInvalidFee, fee, req.Amount)
		}

		balance, err := lockCreatorBalance(tx, req.CreatorID, s.now())
		if err != nil {
			return err
		}
		balance.PendingWithdrawal -= req.Amount
		balance.TotalWithdrawn += req.Amount - fee
		balance.UpdatedAt = s.now()
		if err := tx.Save(balance).Error; err != nil {
			return err
		}

		now := s.now()
		req.Status = models.WithdrawalCompleted
		req.Fee = fee
		req.NetAmount = req.Amount - fee
		req.CompletedAt = &now
		if err := tx.Save(req).Error; err != nil {
			return err
		}
		return appendEvent(tx, req.ID, actorID, "withdrawal.completed", fmt.Sprintf("net=%d fee=%d", req.NetAmount, fee), s.now())
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WithdrawalsCompleted.Inc()
	s.sink.Publish(notify.Event{
		Type:       notify.TypeWithdrawalCompleted,
		SubjectID:  req.ID,
		AccountID:  req.CreatorID,
		Attributes: map[string]string{"net": fmt.Sprint(req.NetAmount)},
		OccurredAt: s.now(),
	})
	return req, nil
}

// Reject terminates a PENDING request and releases the reserved hold back
// into the creator's spendable balance.
func (s *Service) Reject(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, req.Status, models.WithdrawalRejected)
		}

		balance, err := lockCreatorBalance(tx, req.CreatorID, s.now())
		if err != nil {
			return err
		}
		balance.PendingWithdrawal -= req.Amount
		balance.AvailableBalance += req.Amount
		balance.UpdatedAt = s.now()
		if err := tx.Save(balance).Error; err != nil {
			return err
		}

		req.Status = models.WithdrawalRejected
		req.RejectionReason = reason
		if err := tx.Save(req).Error; err != nil {
			return err
		}
		return appendEvent(tx, req.ID, actorID, "withdrawal.rejected", reason, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.sink.Publish(notify.Event{
		Type:       notify.TypeWithdrawalRejected,
		SubjectID:  req.ID,
		AccountID:  req.CreatorID,
		Attributes: map[string]string{"reason": reason},
		OccurredAt: s.now(),
	})
	return req, nil
}

// Get loads a single withdrawal request.
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Balance reports a creator's earnings account.
func (s *Service) Balance(ctx context.Context, creatorID uuid.UUID) (*models.CreatorBalance, error) {
	var balance models.CreatorBalance
	err := s.db.WithContext(ctx).First(&balance, "creator_id = ?", creatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.CreatorBalance{CreatorID: creatorID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func appendEvent(tx *gorm.DB, subjectID, actorID uuid.UUID, action, details string, at time.Time) error {
	event := models.Event{
		ID:        uuid.New(),
		SubjectID: &subjectID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		CreatedAt: at,
	}
	return tx.Create(&event).Error
}
