package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateCampaign funds a campaign from the shop's wallet.
func (s *Server) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	shopID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	var req struct {
		Title       string `json:"title"`
		TotalBudget int64  `json:"totalBudget"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	c, err := s.campaigns.Create(r.Context(), shopID, req.Title, req.TotalBudget)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

// GetCampaign returns a campaign with its remaining budget.
func (s *Server) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	c, err := s.campaigns.GetCampaign(r.Context(), campaignID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// CreateJob opens a job offer for a creator.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	var req struct {
		CreatorID   uuid.UUID `json:"creatorId"`
		AgreedPrice int64     `json:"agreedPrice"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	job, err := s.campaigns.CreateJob(r.Context(), campaignID, req.CreatorID, req.AgreedPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

// GetJob returns a single job.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := s.campaigns.Get(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) jobTransition(w http.ResponseWriter, r *http.Request, run func(jobID, actorID uuid.UUID) (any, error)) {
	actorID, _, err := subjectID(r)
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := run(jobID, actorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// AcceptJob moves a pending job to accepted.
func (s *Server) AcceptJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Accept(r.Context(), jobID, actorID)
	})
}

// StartJob moves an accepted job to in-progress.
func (s *Server) StartJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Start(r.Context(), jobID, actorID)
	})
}

// SubmitJob records the creator's deliverable links for review.
func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Links []string `json:"links"`
		Notes string   `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Submit(r.Context(), jobID, actorID, req.Links, req.Notes)
	})
}

// ApproveJob settles a submitted job: budget debit and creator credit in
// one transaction.
func (s *Server) ApproveJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Approve(r.Context(), jobID, actorID)
	})
}

// RejectJob returns a submitted job to in-progress with a reason.
func (s *Server) RejectJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Reject(r.Context(), jobID, actorID, req.Reason)
	})
}

// CancelJob terminates a job that has not started work.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, func(jobID, actorID uuid.UUID) (any, error) {
		return s.campaigns.Cancel(r.Context(), jobID, actorID)
	})
}
