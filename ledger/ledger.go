// Package ledger implements the token batch ledger: prepaid credit lots
// with expiry, FIFO consumption, discount quoting, and the atomic spend
// path everything else in the service settles through.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pasarloka/tokenledger/models"
	"github.com/pasarloka/tokenledger/notify"
	"github.com/pasarloka/tokenledger/observability"
)

// Quote is the read-only cost preview for a spend. FinalCost applies the
// single best discount across the batches the spend would touch.
type Quote struct {
	BaseCost        int64 `json:"baseCost"`
	FinalCost       int64 `json:"finalCost"`
	DiscountPercent int   `json:"discountPercent"`
	OGApplied       bool  `json:"isOGApplied"`
}

// Config captures the dependencies required to construct the ledger.
type Config struct {
	DB     *gorm.DB
	OG     OGConfig
	Sink   notify.Sink
	Logger *slog.Logger
	Now    func() time.Time
}

// Ledger owns token batches, the derived wallet balance, and all
// ledger-affecting transactions. Every mutation of a wallet takes a row
// lock on the wallet so concurrent spends and sweeps serialize.
type Ledger struct {
	db      *gorm.DB
	og      OGConfig
	sink    notify.Sink
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	now     func() time.Time
}

// New constructs a ledger with the supplied dependencies.
func New(cfg Config) *Ledger {
	l := &Ledger{
		db:      cfg.DB,
		og:      cfg.OG.Normalize(),
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		metrics: observability.Ledger(),
		now:     cfg.Now,
	}
	if l.sink == nil {
		l.sink = notify.NoopSink{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// DB exposes the underlying handle for services composing their own
// transactions around SpendWithin.
func (l *Ledger) DB() *gorm.DB { return l.db }

// EnsureWallet returns the wallet for a shop, creating it on first use.
func (l *Ledger) EnsureWallet(ctx context.Context, shopID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := l.db.WithContext(ctx).
		Where(models.Wallet{ShopID: shopID}).
		Attrs(models.Wallet{ID: uuid.New()}).
		FirstOrCreate(&wallet).Error
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return &wallet, nil
}

func lockWalletByShop(tx *gorm.DB, shopID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, "shop_id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func lockWalletByID(tx *gorm.DB, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreditBatch records a confirmed token purchase or grant as a new batch.
// The upstream payment is confirmed before this runs; the ledger only
// records settled effects. Active OG members receive the multiplied grant
// on top-ups.
func (l *Ledger) CreditBatch(ctx context.Context, shopID uuid.UUID, amount int64, source string, purchasedAt, expiresAt time.Time) (*models.TokenBatch, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if source == "" {
		source = models.SourceTopup
	}
	if _, err := l.EnsureWallet(ctx, shopID); err != nil {
		return nil, err
	}

	var batch *models.TokenBatch
	var og OGStatus
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := lockWalletByShop(tx, shopID)
		if err != nil {
			return err
		}
		og = l.ogStatus(tx, shopID, l.now())

		credited := amount
		note := ""
		if og.Active && source == models.SourceTopup {
			credited = amount * int64(og.TokenMultiplierBps) / 10000
			note = fmt.Sprintf("og multiplier %dbps applied", og.TokenMultiplierBps)
		}

		batch = &models.TokenBatch{
			ID:              uuid.New(),
			WalletID:        wallet.ID,
			Amount:          credited,
			RemainingAmount: credited,
			Source:          source,
			PurchasedAt:     purchasedAt,
			ExpiresAt:       expiresAt,
		}
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		txn := &models.TokenTransaction{
			ID:          uuid.New(),
			WalletID:    wallet.ID,
			Type:        models.TxPurchase,
			Amount:      amount,
			FinalAmount: credited,
			Note:        note,
			CreatedAt:   l.now(),
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}

	l.metrics.BatchesCredited.Inc()
	l.sink.Publish(notify.Event{
		Type:       notify.TypeBatchCredited,
		SubjectID:  batch.ID,
		AccountID:  shopID,
		Attributes: map[string]string{"source": source, "amount": fmt.Sprint(batch.Amount)},
		OccurredAt: l.now(),
	})
	return batch, nil
}

// Refund credits tokens back to a wallet as a fresh batch and records a
// REFUND ledger entry. Used by operators reversing a charge.
func (l *Ledger) Refund(ctx context.Context, shopID uuid.UUID, amount int64, note string, expiresAt time.Time) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	var txn *models.TokenTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := lockWalletByShop(tx, shopID)
		if err != nil {
			return err
		}
		now := l.now()
		batch := &models.TokenBatch{
			ID:              uuid.New(),
			WalletID:        wallet.ID,
			Amount:          amount,
			RemainingAmount: amount,
			Source:          models.SourceTopup,
			PurchasedAt:     now,
			ExpiresAt:       expiresAt,
		}
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		txn = &models.TokenTransaction{
			ID:          uuid.New(),
			WalletID:    wallet.ID,
			Type:        models.TxRefund,
			Amount:      amount,
			FinalAmount: amount,
			Note:        note,
			CreatedAt:   now,
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Balance derives the spendable balance: the sum of remaining amounts
// across the wallet's non-expired batches. Nothing stores this number.
// A batch expires when now passes expires_at; at the exact boundary it
// is still live, the complement of the sweep predicate.
func (l *Ledger) Balance(ctx context.Context, shopID uuid.UUID) (int64, error) {
	var wallet models.Wallet
	err := l.db.WithContext(ctx).First(&wallet, "shop_id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, err
	}
	return l.balanceTx(l.db.WithContext(ctx), wallet.ID, l.now())
}

func (l *Ledger) balanceTx(tx *gorm.DB, walletID uuid.UUID, now time.Time) (int64, error) {
	var balance int64
	err := tx.Model(&models.TokenBatch{}).
		Where("wallet_id = ? AND remaining_amount > 0 AND expires_at >= ?", walletID, now).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Scan(&balance).Error
	return balance, err
}

// consumableBatches returns the wallet's spendable batches in the canonical
// consumption order: soonest expiry first, purchase time as tie-break.
func consumableBatches(tx *gorm.DB, walletID uuid.UUID, now time.Time) ([]models.TokenBatch, error) {
	var batches []models.TokenBatch
	err := tx.
		Where("wallet_id = ? AND remaining_amount > 0 AND expires_at >= ?", walletID, now).
		Order("expires_at ASC, purchased_at ASC").
		Find(&batches).Error
	return batches, err
}

func (l *Ledger) ogStatus(tx *gorm.DB, accountID uuid.UUID, now time.Time) OGStatus {
	var membership models.OGMembership
	err := tx.First(&membership, "account_id = ?", accountID).Error
	if err != nil {
		return l.og.Status(nil, now)
	}
	return l.og.Status(&membership, now)
}

// quoteBatches computes the discount for a spend: walk the consumption
// order accumulating remaining amounts until the base cost is covered,
// then take the best age discount among only those touched batches. The
// one winning tier applies to the entire cost, not pro-rated per batch.
func (l *Ledger) quoteBatches(batches []models.TokenBatch, baseCost int64, og OGStatus, now time.Time) Quote {
	best := 0
	var running int64
	for _, b := range batches {
		if running >= baseCost {
			break
		}
		running += b.RemainingAmount
		if d := AgeDiscount(b.PurchasedAt, b.ExpiresAt, now); d > best {
			best = d
		}
	}
	percent, ogApplied := CombinedDiscount(best, og)
	return Quote{
		BaseCost:        baseCost,
		FinalCost:       FinalCost(baseCost, percent),
		DiscountPercent: percent,
		OGApplied:       ogApplied,
	}
}

// Quote previews the discounted cost of spending baseCost from a shop's
// wallet. It is side-effect free and safe to call repeatedly for display.
func (l *Ledger) Quote(ctx context.Context, shopID uuid.UUID, baseCost int64) (Quote, error) {
	if baseCost <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	var wallet models.Wallet
	err := l.db.WithContext(ctx).First(&wallet, "shop_id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Quote{}, ErrWalletNotFound
	}
	if err != nil {
		return Quote{}, err
	}
	now := l.now()
	batches, err := consumableBatches(l.db.WithContext(ctx), wallet.ID, now)
	if err != nil {
		return Quote{}, err
	}
	og := l.ogStatus(l.db.WithContext(ctx), shopID, now)
	return l.quoteBatches(batches, baseCost, og, now), nil
}

// Spend quotes and executes a debit against a shop's wallet as one atomic
// transaction. On a detected inconsistency the wallet is frozen so no
// further spends run until an operator reconciles it.
func (l *Ledger) Spend(ctx context.Context, shopID uuid.UUID, baseCost int64, typ models.TransactionType, note string) (*models.TokenTransaction, Quote, error) {
	start := l.now()
	var txn *models.TokenTransaction
	var quote Quote
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, quote, err = l.SpendWithin(tx, shopID, baseCost, typ, note, l.now())
		return err
	})
	l.observeSpend(ctx, shopID, typ, start, err)
	if err != nil {
		return nil, Quote{}, err
	}
	return txn, quote, nil
}

// SpendWithin executes a spend inside an externally managed transaction so
// callers can make the debit atomic with their own writes. The caller owns
// commit/rollback and must route the returned error through
// ObserveSpendOutcome (or Spend) so inconsistency freezing still happens.
func (l *Ledger) SpendWithin(tx *gorm.DB, shopID uuid.UUID, baseCost int64, typ models.TransactionType, note string, now time.Time) (*models.TokenTransaction, Quote, error) {
	if baseCost <= 0 {
		return nil, Quote{}, ErrInvalidAmount
	}
	wallet, err := lockWalletByShop(tx, shopID)
	if err != nil {
		return nil, Quote{}, err
	}
	if wallet.Frozen {
		return nil, Quote{}, ErrWalletFrozen
	}

	// Expired batches are zeroed under the same lock, so a sweep can never
	// race a spend on this wallet.
	if _, err := l.sweepLocked(tx, wallet, now); err != nil {
		return nil, Quote{}, err
	}

	batches, err := consumableBatches(tx, wallet.ID, now)
	if err != nil {
		return nil, Quote{}, err
	}
	var balance int64
	for _, b := range batches {
		balance += b.RemainingAmount
	}

	og := l.ogStatus(tx, shopID, now)
	quote := l.quoteBatches(batches, baseCost, og, now)
	if balance < quote.FinalCost {
		return nil, Quote{}, ErrInsufficientBalance
	}

	owed := quote.FinalCost
	for i := range batches {
		if owed == 0 {
			break
		}
		delta := min(batches[i].RemainingAmount, owed)
		batches[i].RemainingAmount -= delta
		owed -= delta
		if err := tx.Model(&models.TokenBatch{}).
			Where("id = ?", batches[i].ID).
			Update("remaining_amount", batches[i].RemainingAmount).Error; err != nil {
			return nil, Quote{}, fmt.Errorf("deduct batch: %w", err)
		}
	}
	if owed != 0 {
		return nil, Quote{}, ErrLedgerInconsistent
	}

	txn := &models.TokenTransaction{
		ID:              uuid.New(),
		WalletID:        wallet.ID,
		Type:            typ,
		Amount:          baseCost,
		DiscountApplied: quote.DiscountPercent,
		FinalAmount:     -quote.FinalCost,
		Note:            note,
		CreatedAt:       now,
	}
	if err := tx.Create(txn).Error; err != nil {
		return nil, Quote{}, fmt.Errorf("record transaction: %w", err)
	}

	var remaining int64
	if err := tx.Model(&models.TokenBatch{}).
		Where("wallet_id = ?", wallet.ID).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Scan(&remaining).Error; err != nil {
		return nil, Quote{}, err
	}
	if remaining != balance-quote.FinalCost {
		return nil, Quote{}, ErrLedgerInconsistent
	}
	return txn, quote, nil
}

// ObserveSpendOutcome records metrics for a spend executed through
// SpendWithin and freezes the wallet when the transaction rolled back on a
// detected inconsistency.
func (l *Ledger) ObserveSpendOutcome(ctx context.Context, shopID uuid.UUID, typ models.TransactionType, start time.Time, err error) {
	l.observeSpend(ctx, shopID, typ, start, err)
}

func (l *Ledger) observeSpend(ctx context.Context, shopID uuid.UUID, typ models.TransactionType, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrWalletFrozen):
		outcome = "frozen"
	case errors.Is(err, ErrLedgerInconsistent):
		outcome = "inconsistent"
		l.MarkFrozen(ctx, shopID)
	default:
		outcome = "error"
	}
	l.metrics.Spends.WithLabelValues(string(typ), outcome).Inc()
	l.metrics.SpendLatency.WithLabelValues(string(typ)).Observe(l.now().Sub(start).Seconds())
}

// MarkFrozen blocks further spends against a shop's wallet and surfaces
// the condition to operators. Runs outside the failed transaction so the
// flag survives its rollback.
func (l *Ledger) MarkFrozen(ctx context.Context, shopID uuid.UUID) {
	res := l.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("shop_id = ? AND frozen = ?", shopID, false).
		Update("frozen", true)
	if res.Error != nil {
		l.logger.Error("failed to freeze wallet", "shop_id", shopID, "error", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		return
	}
	l.metrics.FrozenWallets.Inc()
	l.logger.Error("wallet frozen after ledger inconsistency", "shop_id", shopID)
	l.sink.Publish(notify.Event{
		Type:       notify.TypeWalletFrozen,
		SubjectID:  shopID,
		AccountID:  shopID,
		OccurredAt: l.now(),
	})
}

// Unfreeze re-enables spending after an operator has reconciled the wallet.
func (l *Ledger) Unfreeze(ctx context.Context, shopID uuid.UUID) error {
	res := l.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("shop_id = ? AND frozen = ?", shopID, true).
		Update("frozen", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		l.metrics.FrozenWallets.Dec()
	}
	return nil
}

// sweepLocked zeroes every expired batch that still holds tokens and
// records an EXPIRE entry per batch. Idempotent: a second pass finds
// nothing left to zero. Caller must hold the wallet lock.
func (l *Ledger) sweepLocked(tx *gorm.DB, wallet *models.Wallet, now time.Time) (int64, error) {
	var expired []models.TokenBatch
	err := tx.
		Where("wallet_id = ? AND remaining_amount > 0 AND expires_at < ?", wallet.ID, now).
		Find(&expired).Error
	if err != nil {
		return 0, err
	}
	var total int64
	for i := range expired {
		amount := expired[i].RemainingAmount
		if err := tx.Model(&models.TokenBatch{}).
			Where("id = ?", expired[i].ID).
			Update("remaining_amount", 0).Error; err != nil {
			return total, err
		}
		txn := &models.TokenTransaction{
			ID:          uuid.New(),
			WalletID:    wallet.ID,
			Type:        models.TxExpire,
			Amount:      amount,
			FinalAmount: -amount,
			Note:        fmt.Sprintf("batch %s expired", expired[i].ID),
			CreatedAt:   now,
		}
		if err := tx.Create(txn).Error; err != nil {
			return total, err
		}
		total += amount
	}
	return total, nil
}

// ExpireSweep zeroes expired batches for a single shop's wallet under the
// same lock a spend takes.
func (l *Ledger) ExpireSweep(ctx context.Context, shopID uuid.UUID) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := lockWalletByShop(tx, shopID)
		if err != nil {
			return err
		}
		total, err = l.sweepLocked(tx, wallet, l.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		l.metrics.TokensExpired.Add(float64(total))
		l.sink.Publish(notify.Event{
			Type:       notify.TypeTokensExpired,
			SubjectID:  shopID,
			AccountID:  shopID,
			Attributes: map[string]string{"amount": fmt.Sprint(total)},
			OccurredAt: l.now(),
		})
	}
	return total, nil
}

// SweepAll runs the expiry sweep across every wallet, one wallet per
// transaction so a busy wallet never blocks the rest of the system.
func (l *Ledger) SweepAll(ctx context.Context) (int64, error) {
	var wallets []models.Wallet
	if err := l.db.WithContext(ctx).Find(&wallets).Error; err != nil {
		return 0, err
	}
	var total int64
	for _, w := range wallets {
		expired, err := l.ExpireSweep(ctx, w.ShopID)
		if err != nil {
			l.logger.Error("expiry sweep failed", "shop_id", w.ShopID, "error", err)
			continue
		}
		total += expired
	}
	return total, nil
}
