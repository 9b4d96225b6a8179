// Package campaign runs creator-for-shop campaign jobs: budget funding
// from the token ledger, the job workflow, and settlement that pays the
// creator when a submission is approved.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pasarloka/tokenledger/ledger"
	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/notify"
	"github.com/pasarloka/tokenledger/observability"
)

// Service drives campaign budgets and the job state machine.
type Service struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	sink    notify.Sink
	metrics *observability.LedgerMetrics
	now     func() time.Time
}

// Config captures the dependencies required to construct the service.
type Config struct {
	DB     *gorm.DB
	Ledger *ledger.Ledger
	Sink   notify.Sink
	Now    func() time.Time
}

// New constructs a campaign service.
func New(cfg Config) *Service {
	s := &Service{
		db:      cfg.DB,
		ledger:  cfg.Ledger,
		sink:    cfg.Sink,
		metrics: observability.Ledger(),
		now:     cfg.Now,
	}
	if s.sink == nil {
		s.sink = notify.NoopSink{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Create funds a new campaign by spending the budget from the shop's
// wallet. The token debit and the campaign record commit together.
func (s *Service) Create(ctx context.Context, shopID uuid.UUID, title string, totalBudget int64) (*models.Campaign, error) {
	if totalBudget <= 0 {
		return nil, ErrInvalidAmount
	}

	start := s.now()
	var c *models.Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		note := fmt.Sprintf("campaign %q funding", title)
		if _, _, err := s.ledger.SpendWithin(tx, shopID, totalBudget, models.TxCampaign, note, now); err != nil {
			return err
		}
		c = &models.Campaign{
			ID:              uuid.New(),
			ShopID:          shopID,
			Title:           title,
			TotalBudget:     totalBudget,
			RemainingBudget: totalBudget,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.Create(c).Error
	})
	s.ledger.ObserveSpendOutcome(ctx, shopID, models.TxCampaign, start, err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateJob opens a PENDING job offering a creator the agreed price.
func (s *Service) CreateJob(ctx context.Context, campaignID, creatorID uuid.UUID, agreedPrice int64) (*models.CampaignJob, error) {
	if agreedPrice <= 0 {
		return nil, ErrInvalidAmount
	}
	var c models.Campaign
	err := s.db.WithContext(ctx).First(&c, "id = ?", campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	job := &models.CampaignJob{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		CreatorID:   creatorID,
		AgreedPrice: agreedPrice,
		Status:      models.JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func lockJob(tx *gorm.DB, jobID uuid.UUID) (*models.CampaignJob, error) {
	var job models.CampaignJob
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// transition moves a job to next after validating the workflow, applying
// mutate to the locked row inside the transaction. A non-empty require
// pins the expected current state, distinguishing edges that share a
// target (reject and start both land on IN_PROGRESS).
func (s *Service) transition(ctx context.Context, jobID, actorID uuid.UUID, require, next models.JobStatus, action string, mutate func(tx *gorm.DB, job *models.CampaignJob) error) (*models.CampaignJob, error) {
	var job *models.CampaignJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if require != "" && job.Status != require {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, job.Status, next)
		}
		if err := ValidateTransition(job.Status, next); err != nil {
			return err
		}
		job.Status = next
		job.UpdatedAt = s.now()
		if mutate != nil {
			if err := mutate(tx, job); err != nil {
				return err
			}
		}
		if err := tx.Save(job).Error; err != nil {
			return err
		}
		return appendEvent(tx, job.ID, actorID, action, fmt.Sprintf("status=%s", next), s.now())
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Accept moves a PENDING job to ACCEPTED.
func (s *Service) Accept(ctx context.Context, jobID, actorID uuid.UUID) (*models.CampaignJob, error) {
	return s.transition(ctx, jobID, actorID, models.JobPending, models.JobAccepted, "job.accepted", func(tx *gorm.DB, job *models.CampaignJob) error {
		now := s.now()
		job.AcceptedAt = &now
		return nil
	})
}

// Start moves an ACCEPTED job to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, jobID, actorID uuid.UUID) (*models.CampaignJob, error) {
	return s.transition(ctx, jobID, actorID, models.JobAccepted, models.JobInProgress, "job.started", nil)
}

// Submit moves an IN_PROGRESS job to SUBMITTED with the creator's links.
func (s *Service) Submit(ctx context.Context, jobID, actorID uuid.UUID, links []string, notes string) (*models.CampaignJob, error) {
	cleaned := make([]string, 0, len(links))
	for _, link := range links {
		if l := strings.TrimSpace(link); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrMissingLinks
	}
	job, err := s.transition(ctx, jobID, actorID, models.JobInProgress, models.JobSubmitted, "job.submitted", func(tx *gorm.DB, job *models.CampaignJob) error {
		now := s.now()
		job.ReviewLink = strings.Join(cleaned, ",")
		job.ReviewNotes = notes
		job.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.sink.Publish(notify.Event{
		Type:       notify.TypeJobSubmitted,
		SubjectID:  job.ID,
		AccountID:  job.CreatorID,
		OccurredAt: s.now(),
	})
	return job, nil
}

// Approve settles a SUBMITTED job: the campaign budget is debited and the
// creator's balance credited in one transaction. A second approval fails
// the SUBMITTED guard, so a creator is never paid twice for one job.
func (s *Service) Approve(ctx context.Context, jobID, actorID uuid.UUID) (*models.CampaignJob, error) {
	job, err := s.transition(ctx, jobID, actorID, models.JobSubmitted, models.JobCompleted, "job.approved", func(tx *gorm.DB, job *models.CampaignJob) error {
		var c models.Campaign
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", job.CampaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCampaignNotFound
			}
			return err
		}
		if c.RemainingBudget < job.AgreedPrice {
			return ErrBudgetExceeded
		}
		c.RemainingBudget -= job.AgreedPrice
		c.UpdatedAt = s.now()
		if err := tx.Save(&c).Error; err != nil {
			return err
		}

		balance, err := lockCreatorBalance(tx, job.CreatorID, s.now())
		if err != nil {
			return err
		}
		balance.AvailableBalance += job.AgreedPrice
		balance.TotalEarnings += job.AgreedPrice
		balance.UpdatedAt = s.now()
		if err := tx.Save(&balance).Error; err != nil {
			return err
		}

		now := s.now()
		job.TokensPaid = job.AgreedPrice
		job.CreatorEarning = job.AgreedPrice
		job.CompletedAt = &now
		job.RejectionReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Settlements.Inc()
	s.sink.Publish(notify.Event{
		Type:       notify.TypeJobCompleted,
		SubjectID:  job.ID,
		AccountID:  job.CreatorID,
		Attributes: map[string]string{"earning": fmt.Sprint(job.CreatorEarning)},
		OccurredAt: s.now(),
	})
	return job, nil
}

// Reject returns a SUBMITTED job to IN_PROGRESS with the stated reason.
// No funds move.
func (s *Service) Reject(ctx context.Context, jobID, actorID uuid.UUID, reason string) (*models.CampaignJob, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}
	job, err := s.transition(ctx, jobID, actorID, models.JobSubmitted, models.JobInProgress, "job.rejected", func(tx *gorm.DB, job *models.CampaignJob) error {
		job.RejectionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.sink.Publish(notify.Event{
		Type:       notify.TypeJobRejected,
		SubjectID:  job.ID,
		AccountID:  job.CreatorID,
		Attributes: map[string]string{"reason": reason},
		OccurredAt: s.now(),
	})
	return job, nil
}

// Cancel terminates a job that has not started work yet.
func (s *Service) Cancel(ctx context.Context, jobID, actorID uuid.UUID) (*models.CampaignJob, error) {
	return s.transition(ctx, jobID, actorID, "", models.JobCancelled, "job.cancelled", nil)
}

// Get loads a single job.
func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*models.CampaignJob, error) {
	var job models.CampaignJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetCampaign loads a campaign with its current budget.
func (s *Service) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.WithContext(ctx).First(&c, "id = ?", campaignID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
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

// lockCreatorBalance row-locks the creator's balance, inserting the row
// first when this is the creator's first settlement. The insert uses ON
// CONFLICT DO NOTHING so two concurrent first settlements converge on the
// same row instead of overwriting each other.
func lockCreatorBalance(tx *gorm.DB, creatorID uuid.UUID, at time.Time) (models.CreatorBalance, error) {
	var balance models.CreatorBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&balance, "creator_id = ?", creatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seed := models.CreatorBalance{CreatorID: creatorID, UpdatedAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return balance, err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&balance, "creator_id = ?", creatorID).Error
	}
	return balance, err
}
