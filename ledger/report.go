package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/models"
)

// WalletSummary is the derived headline state of a wallet.
type WalletSummary struct {
	Balance int64 `json:"balance"`
	Frozen  bool  `json:"frozen,omitempty"`
}

// BatchView is a single open batch in the wallet report.
type BatchView struct {
	RemainingAmount int64     `json:"remainingAmount"`
	PurchasedAt     time.Time `json:"purchasedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// HistoryView is a single ledger entry in the wallet report.
type HistoryView struct {
	Type            models.TransactionType `json:"type"`
	Amount          int64                  `json:"amount"`
	DiscountApplied int                    `json:"discountApplied"`
	FinalAmount     int64                  `json:"finalAmount"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// WalletReport is the read model served to shop dashboards.
type WalletReport struct {
	Wallet  WalletSummary `json:"wallet"`
	Batches []BatchView   `json:"batches"`
	History []HistoryView `json:"history"`
}

// Report assembles the wallet read model: derived balance, open batches in
// consumption order, and the full transaction history, newest first.
func (l *Ledger) Report(ctx context.Context, shopID uuid.UUID) (*WalletReport, error) {
	var wallet models.Wallet
	err := l.db.WithContext(ctx).First(&wallet, "shop_id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	batches, err := consumableBatches(l.db.WithContext(ctx), wallet.ID, now)
	if err != nil {
		return nil, err
	}

	var history []models.TokenTransaction
	if err := l.db.WithContext(ctx).
		Where("wallet_id = ?", wallet.ID).
		Order("created_at DESC").
		Find(&history).Error; err != nil {
		return nil, err
	}

	report := &WalletReport{
		Wallet:  WalletSummary{Frozen: wallet.Frozen},
		Batches: make([]BatchView, 0, len(batches)),
		History: make([]HistoryView, 0, len(history)),
	}
	for _, b := range batches {
		report.Wallet.Balance += b.RemainingAmount
		report.Batches = append(report.Batches, BatchView{
			RemainingAmount: b.RemainingAmount,
			PurchasedAt:     b.PurchasedAt,
			ExpiresAt:       b.ExpiresAt,
		})
	}
	for _, t := range history {
		report.History = append(report.History, HistoryView{
			Type:            t.Type,
			Amount:          t.Amount,
			DiscountApplied: t.DiscountApplied,
			FinalAmount:     t.FinalAmount,
			CreatedAt:       t.CreatedAt,
		})
	}
	return report, nil
}
