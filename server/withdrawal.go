package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pasarloka/tokenledger/withdrawal"
)

// CreatorBalance reports the caller's earnings account.
func (s *Server) CreatorBalance(w http.ResponseWriter, r *http.Request) {
	creatorID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	balance, err := s.withdrawals.Balance(r.Context(), creatorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

// RequestWithdrawal opens a pending payout request, reserving the amount.
func (s *Server) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	creatorID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	var req struct {
		Amount int64                  `json:"amount"`
		Bank   withdrawal.BankDetails `json:"bank"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	created, err := s.withdrawals.Request(r.Context(), creatorID, req.Amount, req.Bank)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// GetWithdrawal returns a single withdrawal request. Creators may only
// read their own.
func (s *Server) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	creatorID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	req, err := s.withdrawals.Get(r.Context(), requestID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.CreatorID != creatorID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) withdrawalTransition(w http.ResponseWriter, r *http.Request, run func(requestID, actorID uuid.UUID) (any, error)) {
	actorID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}
	req, err := run(requestID, actorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

// ProcessWithdrawal moves a pending request into processing.
func (s *Server) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.withdrawalTransition(w, r, func(requestID, actorID uuid.UUID) (any, error) {
		return s.withdrawals.Process(r.Context(), requestID, actorID)
	})
}

// CompleteWithdrawal finalises a processing request, withholding the fee.
func (s *Server) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fee *int64 `json:"fee"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
	}
	s.withdrawalTransition(w, r, func(requestID, actorID uuid.UUID) (any, error) {
		return s.withdrawals.Complete(r.Context(), requestID, actorID, req.Fee)
	})
}

// RejectWithdrawal terminates a pending request and releases the hold.
func (s *Server) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	s.withdrawalTransition(w, r, func(requestID, actorID uuid.UUID) (any, error) {
		return s.withdrawals.Reject(r.Context(), requestID, actorID, req.Reason)
	})
}
