package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pasarloka/tokenledger/auth"
)

// subjectID resolves the caller's account id from their claims.
func subjectID(r *http.Request) (uuid.UUID, *auth.Claims, error) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, claims, nil
}

// WalletReport serves the shop's derived balance, open batches, and
// transaction history.
func (s *Server) WalletReport(w http.ResponseWriter, r *http.Request) {
	shopID, claims, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if claims.Role == auth.RoleAdmin {
		if raw := r.URL.Query().Get("shop_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid shop id", http.StatusBadRequest)
				return
			}
			shopID = parsed
		}
	}
	report, err := s.ledger.Report(r.Context(), shopID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// WalletQuote previews the discounted cost of spending base tokens.
func (s *Server) WalletQuote(w http.ResponseWriter, r *http.Request) {
	shopID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	base, err := strconv.ParseInt(r.URL.Query().Get("base"), 10, 64)
	if err != nil || base <= 0 {
		http.Error(w, "base must be a positive integer", http.StatusBadRequest)
		return
	}
	quote, err := s.ledger.Quote(r.Context(), shopID, base)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// CreditWallet records a confirmed token purchase or grant. Called by the
// payment pipeline once the upstream charge has settled, never before.
func (s *Server) CreditWallet(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount        int64      `json:"amount"`
		Source        string     `json:"source"`
		PurchasedAt   *time.Time `json:"purchasedAt"`
		ExpiresAt     *time.Time `json:"expiresAt"`
		ExpiresInDays int        `json:"expiresInDays"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	now := s.now()
	purchasedAt := now
	if req.PurchasedAt != nil {
		purchasedAt = *req.PurchasedAt
	}
	expiresAt := now.AddDate(1, 0, 0)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	} else if req.ExpiresInDays > 0 {
		expiresAt = purchasedAt.AddDate(0, 0, req.ExpiresInDays)
	}
	batch, err := s.ledger.CreditBatch(r.Context(), shopID, req.Amount, req.Source, purchasedAt, expiresAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, batch)
}

// RefundWallet credits tokens back to a wallet as a fresh batch.
func (s *Server) RefundWallet(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount        int64  `json:"amount"`
		Note          string `json:"note"`
		ExpiresInDays int    `json:"expiresInDays"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	days := req.ExpiresInDays
	if days <= 0 {
		days = 30
	}
	txn, err := s.ledger.Refund(r.Context(), shopID, req.Amount, req.Note, s.now().AddDate(0, 0, days))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, txn)
}

// UnfreezeWallet re-enables spending after an operator reconciled a wallet.
func (s *Server) UnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}
	if err := s.ledger.Unfreeze(r.Context(), shopID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunSweep triggers an immediate expiry sweep across all wallets.
func (s *Server) RunSweep(w http.ResponseWriter, r *http.Request) {
	expired, err := s.ledger.SweepAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"tokensExpired": expired})
}
