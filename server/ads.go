package server

import (
	"net/http"
	"strconv"
)

// QuoteAd previews the discounted cost of a placement.
func (s *Server) QuoteAd(w http.ResponseWriter, r *http.Request) {
	shopID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	scope := r.URL.Query().Get("scope")
	days, err := strconv.Atoi(r.URL.Query().Get("durationDays"))
	if err != nil {
		http.Error(w, "durationDays must be an integer", http.StatusBadRequest)
		return
	}
	quote, err := s.ads.Quote(r.Context(), shopID, scope, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// PurchaseAd buys a placement. Token debit and ad creation are atomic;
// no partial ad is ever created.
func (s *Server) PurchaseAd(w http.ResponseWriter, r *http.Request) {
	shopID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	var req struct {
		Scope        string `json:"scope"`
		DurationDays int    `json:"durationDays"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	ad, quote, err := s.ads.Purchase(r.Context(), shopID, req.Scope, req.DurationDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"ad":    ad,
		"quote": quote,
	})
}
