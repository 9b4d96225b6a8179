// Package ads sells time-boxed advertisement placements priced by
// geographic scope and duration, settled through the token ledger.
package ads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/ledger"
	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/notify"
)

// Geographic scopes an advertisement can target.
const (
	ScopeSubdistrict = "SUBDISTRICT"
	ScopeDistrict    = "DISTRICT"
	ScopeProvince    = "PROVINCE"
	ScopeRegion      = "REGION"
	ScopeNationwide  = "NATIONWIDE"
)

// tokens per day by scope
var pricePerDay = map[string]int64{
	ScopeSubdistrict: 50,
	ScopeDistrict:    200,
	ScopeProvince:    500,
	ScopeRegion:      1500,
	ScopeNationwide:  3000,
}

var (
	// ErrUnknownScope rejects scopes outside the pricing table.
	ErrUnknownScope = errors.New("ads: unknown scope")
	// ErrInvalidDuration rejects non-positive durations.
	ErrInvalidDuration = errors.New("ads: duration must be at least one day")
)

// PricePerDay returns the daily token price for a scope.
func PricePerDay(scope string) (int64, error) {
	price, ok := pricePerDay[scope]
	if !ok {
		return 0, ErrUnknownScope
	}
	return price, nil
}

// BaseCost computes the undiscounted token cost of a placement.
func BaseCost(scope string, durationDays int) (int64, error) {
	if durationDays <= 0 {
		return 0, ErrInvalidDuration
	}
	price, err := PricePerDay(scope)
	if err != nil {
		return 0, err
	}
	return price * int64(durationDays), nil
}

// Service purchases advertisements against the token ledger.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	sink   notify.Sink
	now    func() time.Time
}

// Config captures the dependencies required to construct the service.
type Config struct {
	DB     *gorm.DB
	Ledger *ledger.Ledger
	Sink   notify.Sink
	Now    func() time.Time
}

// New constructs an ad purchase service.
func New(cfg Config) *Service {
	s := &Service{db: cfg.DB, ledger: cfg.Ledger, sink: cfg.Sink, now: cfg.Now}
	if s.sink == nil {
		s.sink = notify.NoopSink{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Quote previews the discounted cost of a placement without buying it.
func (s *Service) Quote(ctx context.Context, shopID uuid.UUID, scope string, durationDays int) (ledger.Quote, error) {
	base, err := BaseCost(scope, durationDays)
	if err != nil {
		return ledger.Quote{}, err
	}
	return s.ledger.Quote(ctx, shopID, base)
}

// Purchase buys a placement: the token debit and the ad record are written
// in one transaction, so either both exist afterwards or neither does.
func (s *Service) Purchase(ctx context.Context, shopID uuid.UUID, scope string, durationDays int) (*models.Advertisement, ledger.Quote, error) {
	base, err := BaseCost(scope, durationDays)
	if err != nil {
		return nil, ledger.Quote{}, err
	}

	start := s.now()
	var ad *models.Advertisement
	var quote ledger.Quote
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		note := fmt.Sprintf("%s ad for %d days", scope, durationDays)
		txn, q, err := s.ledger.SpendWithin(tx, shopID, base, models.TxAdvertisement, note, now)
		if err != nil {
			return err
		}
		quote = q
		ad = &models.Advertisement{
			ID:           uuid.New(),
			ShopID:       shopID,
			Scope:        scope,
			DurationDays: durationDays,
			TokensPaid:   -txn.FinalAmount,
			Status:       models.AdActive,
			StartAt:      now,
			EndAt:        now.AddDate(0, 0, durationDays),
			CreatedAt:    now,
		}
		return tx.Create(ad).Error
	})
	s.ledger.ObserveSpendOutcome(ctx, shopID, models.TxAdvertisement, start, err)
	if err != nil {
		return nil, ledger.Quote{}, err
	}

	s.sink.Publish(notify.Event{
		Type:      notify.TypeAdPurchased,
		SubjectID: ad.ID,
		AccountID: shopID,
		Attributes: map[string]string{
			"scope":       scope,
			"tokens_paid": fmt.Sprint(ad.TokensPaid),
		},
		OccurredAt: s.now(),
	})
	return ad, quote, nil
}

// ExpireFinished marks ads whose window has ended. Run by the sweeper so
// listings drop out without a separate cron.
func (s *Service) ExpireFinished(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Advertisement{}).
		Where("status = ? AND end_at < ?", models.AdActive, s.now()).
		Update("status", models.AdExpired)
	return res.RowsAffected, res.Error
}
