package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/models"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB) *Ledger {
	t.Helper()
	return New(Config{DB: db, Now: func() time.Time { return testNow }})
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestCreditBatchAndBalance(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	batch, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.NoError(t, err)
	require.Equal(t, int64(100), batch.Amount)
	require.Equal(t, int64(100), batch.RemainingAmount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	var txns []models.TokenTransaction
	require.NoError(t, db.Find(&txns).Error)
	require.Len(t, txns, 1)
	require.Equal(t, models.TxPurchase, txns[0].Type)
	require.Equal(t, int64(100), txns[0].FinalAmount)
}

func TestCreditBatchRejectsBadAmount(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)

	_, err := l.CreditBatch(context.Background(), uuid.New(), 0, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.CreditBatch(context.Background(), uuid.New(), -5, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreditBatchOGMultiplier(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	require.NoError(t, db.Create(&models.OGMembership{ID: uuid.New(), AccountID: shopID, JoinedAt: testNow.Add(-days(30))}).Error)

	batch, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.NoError(t, err)
	require.Equal(t, int64(200), batch.Amount)

	// Bonus grants are never multiplied.
	bonus, err := l.CreditBatch(ctx, shopID, 50, models.SourcePackageBonus, testNow, testNow.Add(days(90)))
	require.NoError(t, err)
	require.Equal(t, int64(50), bonus.Amount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)
}

func TestQuoteSingleFreshBatch(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 150, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	quote, err := l.Quote(ctx, shopID, 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), quote.BaseCost)
	require.Equal(t, 10, quote.DiscountPercent)
	require.Equal(t, int64(90), quote.FinalCost)
	require.False(t, quote.OGApplied)

	// Quoting is side-effect free.
	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(150), balance)
}

func TestQuoteUnknownWallet(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)

	_, err := l.Quote(context.Background(), uuid.New(), 100)
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestSpendSingleBatch(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 150, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	txn, quote, err := l.Spend(ctx, shopID, 100, models.TxAdvertisement, "ad purchase")
	require.NoError(t, err)
	require.Equal(t, int64(100), txn.Amount)
	require.Equal(t, 10, txn.DiscountApplied)
	require.Equal(t, int64(-90), txn.FinalAmount)
	require.Equal(t, int64(90), quote.FinalCost)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(60), balance)
}

func TestSpendOGDiscountBeatsAge(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 150, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	// Membership created after the top-up so the grant itself is unmultiplied.
	require.NoError(t, db.Create(&models.OGMembership{ID: uuid.New(), AccountID: shopID, JoinedAt: testNow.Add(-days(30))}).Error)

	txn, quote, err := l.Spend(ctx, shopID, 100, models.TxAdvertisement, "")
	require.NoError(t, err)
	require.True(t, quote.OGApplied)
	require.Equal(t, 30, quote.DiscountPercent)
	require.Equal(t, int64(-70), txn.FinalAmount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(80), balance)
}

func TestSpendConsumesSoonestExpiryFirst(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	// Both batches land in the 7% tier; the one expiring sooner drains first.
	soon, err := l.CreditBatch(ctx, shopID, 50, models.SourceTopup, testNow.Add(-days(40)), testNow.Add(days(30)))
	require.NoError(t, err)
	late, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow.Add(-days(40)), testNow.Add(days(90)))
	require.NoError(t, err)

	txn, _, err := l.Spend(ctx, shopID, 100, models.TxCampaign, "")
	require.NoError(t, err)
	require.Equal(t, int64(-93), txn.FinalAmount)

	var got models.TokenBatch
	require.NoError(t, db.First(&got, "id = ?", soon.ID).Error)
	require.Equal(t, int64(0), got.RemainingAmount)
	var gotLate models.TokenBatch
	require.NoError(t, db.First(&gotLate, "id = ?", late.ID).Error)
	require.Equal(t, int64(57), gotLate.RemainingAmount)
}

func TestSpendDiscountFromTouchedBatchesOnly(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	// The old batch covers the whole spend; the fresh 10% batch behind it
	// is never touched and must not improve the discount.
	_, err := l.CreditBatch(ctx, shopID, 200, models.SourceTopup, testNow.Add(-days(90)), testNow.Add(days(30)))
	require.NoError(t, err)
	_, err = l.CreditBatch(ctx, shopID, 200, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	txn, quote, err := l.Spend(ctx, shopID, 100, models.TxAdvertisement, "")
	require.NoError(t, err)
	require.Equal(t, 5, quote.DiscountPercent)
	require.Equal(t, int64(-95), txn.FinalAmount)
}

func TestSpendInsufficientBalanceLeavesWalletUntouched(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	batch, err := l.CreditBatch(ctx, shopID, 50, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	_, _, err = l.Spend(ctx, shopID, 100, models.TxAdvertisement, "")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var got models.TokenBatch
	require.NoError(t, db.First(&got, "id = ?", batch.ID).Error)
	require.Equal(t, int64(50), got.RemainingAmount)

	var count int64
	require.NoError(t, db.Model(&models.TokenTransaction{}).
		Where("type = ?", models.TxAdvertisement).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestSpendFrozenWallet(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.NoError(t, err)
	l.MarkFrozen(ctx, shopID)

	_, _, err = l.Spend(ctx, shopID, 10, models.TxAdvertisement, "")
	require.ErrorIs(t, err, ErrWalletFrozen)

	require.NoError(t, l.Unfreeze(ctx, shopID))
	_, _, err = l.Spend(ctx, shopID, 10, models.TxAdvertisement, "")
	require.NoError(t, err)
}

func TestSpendSweepsExpiredBatchesFirst(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	expired, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow.Add(-days(400)), testNow.Add(-days(1)))
	require.NoError(t, err)
	_, err = l.CreditBatch(ctx, shopID, 50, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	txn, _, err := l.Spend(ctx, shopID, 40, models.TxAdvertisement, "")
	require.NoError(t, err)
	require.Equal(t, int64(-36), txn.FinalAmount)

	var got models.TokenBatch
	require.NoError(t, db.First(&got, "id = ?", expired.ID).Error)
	require.Equal(t, int64(0), got.RemainingAmount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(14), balance)
}

func TestExpireSweepIdempotent(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 80, models.SourceTopup, testNow.Add(-days(400)), testNow.Add(-days(1)))
	require.NoError(t, err)

	total, err := l.ExpireSweep(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(80), total)

	total, err = l.ExpireSweep(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(0), total)

	var count int64
	require.NoError(t, db.Model(&models.TokenTransaction{}).
		Where("type = ?", models.TxExpire).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRefundCreditsNewBatch(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 10, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.NoError(t, err)

	txn, err := l.Refund(ctx, shopID, 25, "ad cancelled", testNow.Add(days(30)))
	require.NoError(t, err)
	require.Equal(t, models.TxRefund, txn.Type)
	require.Equal(t, int64(25), txn.FinalAmount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(35), balance)
}

func TestWalletReport(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	_, err := l.CreditBatch(ctx, shopID, 150, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)
	_, _, err = l.Spend(ctx, shopID, 100, models.TxAdvertisement, "")
	require.NoError(t, err)

	report, err := l.Report(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(60), report.Wallet.Balance)
	require.False(t, report.Wallet.Frozen)
	require.Len(t, report.Batches, 1)
	require.Equal(t, int64(60), report.Batches[0].RemainingAmount)
	require.Len(t, report.History, 2)
}

func TestSweepAllCoversEveryWallet(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()

	shopA, shopB := uuid.New(), uuid.New()
	_, err := l.CreditBatch(ctx, shopA, 30, models.SourceTopup, testNow.Add(-days(400)), testNow.Add(-days(2)))
	require.NoError(t, err)
	_, err = l.CreditBatch(ctx, shopB, 70, models.SourceTopup, testNow.Add(-days(400)), testNow.Add(-days(2)))
	require.NoError(t, err)

	total, err := l.SweepAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), total)
}

func TestSpendBatchExpiringAtSpendInstant(t *testing.T) {
	db := setupTestDB(t)
	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	// One batch reaches its expires_at exactly at the spend instant. It
	// is still live until the clock passes that instant, so the spend
	// must consume it first and the post-spend reconciliation must agree.
	_, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow.Add(-days(40)), testNow)
	require.NoError(t, err)
	_, err = l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow, testNow.Add(days(90)))
	require.NoError(t, err)

	txn, _, err := l.Spend(ctx, shopID, 50, models.TxAdvertisement, "boundary spend")
	require.NoError(t, err)
	require.Equal(t, 0, txn.DiscountApplied)
	require.Equal(t, int64(-50), txn.FinalAmount)

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(150), balance)

	var boundary models.TokenBatch
	require.NoError(t, db.First(&boundary, "expires_at = ?", testNow).Error)
	require.Equal(t, int64(50), boundary.RemainingAmount)

	var wallet models.Wallet
	require.NoError(t, db.First(&wallet, "shop_id = ?", shopID).Error)
	require.False(t, wallet.Frozen)
}

func TestSpendConcurrentKeepsBatchesConsistent(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	l := newTestLedger(t, db)
	ctx := context.Background()
	shopID := uuid.New()

	// Every batch sits in the same discount tier, so each base-30 spend
	// settles at 27 no matter which batches it touches.
	_, err = l.CreditBatch(ctx, shopID, 1000, models.SourceTopup, testNow.Add(-days(10)), testNow.Add(days(90)))
	require.NoError(t, err)

	const (
		workers         = 4
		spendsPerWorker = 5
		credits         = 2
	)
	errs := make(chan error, workers*spendsPerWorker+credits)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < spendsPerWorker; j++ {
				_, _, err := l.Spend(ctx, shopID, 30, models.TxAdvertisement, "concurrent spend")
				errs <- err
			}
		}()
	}
	for i := 0; i < credits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CreditBatch(ctx, shopID, 100, models.SourceTopup, testNow, testNow.Add(days(90)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := l.Balance(ctx, shopID)
	require.NoError(t, err)
	require.Equal(t, int64(1200-27*workers*spendsPerWorker), balance)

	var total int64
	require.NoError(t, db.Model(&models.TokenBatch{}).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Where("remaining_amount > 0").
		Scan(&total).Error)
	require.Equal(t, balance, total)

	var wallet models.Wallet
	require.NoError(t, db.First(&wallet, "shop_id = ?", shopID).Error)
	require.False(t, wallet.Frozen)
}
