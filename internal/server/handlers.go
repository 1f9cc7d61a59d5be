package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"expenser/internal/core"
	"expenser/internal/repository"
)

// === Transactions ===

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.repo.ListTransactions(r.Context(), userFrom(r))
	if err != nil {
		s.internalError(w, r, "list transactions", err)
		return
	}
	if txns == nil {
		txns = []core.Transaction{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var payload core.CreateTransaction
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := s.repo.CreateTransaction(r.Context(), userFrom(r), payload)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "create transaction", err)
		return
	}

	s.publish(r, func() error { return s.events.TransactionCreated(r.Context(), txn) })
	respondJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	var payload core.UpdateTransaction
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := s.repo.UpdateTransaction(r.Context(), userFrom(r), id, payload)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.internalError(w, r, "update transaction", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	if err := s.repo.DeleteTransaction(r.Context(), userFrom(r), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.internalError(w, r, "delete transaction", err)
		return
	}

	s.publish(r, func() error { return s.events.TransactionDeleted(r.Context(), userFrom(r), id) })
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// === Workflows ===

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.repo.ListWorkflows(r.Context(), userFrom(r))
	if err != nil {
		s.internalError(w, r, "list workflows", err)
		return
	}
	if wfs == nil {
		wfs = []core.Workflow{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload core.CreateWorkflow
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.repo.CreateWorkflow(r.Context(), userFrom(r), payload)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "create workflow", err)
		return
	}

	s.publish(r, func() error { return s.events.WorkflowCreated(r.Context(), wf) })
	respondJSON(w, http.StatusOK, map[string]any{"workflow": wf})
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	var payload core.CreateWorkflow
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.repo.UpdateWorkflow(r.Context(), userFrom(r), id, payload)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "workflow not found")
			return
		}
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "update workflow", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"workflow": wf})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	if err := s.repo.DeleteWorkflow(r.Context(), userFrom(r), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.internalError(w, r, "delete workflow", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// === Profile ===

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.repo.GetProfile(r.Context(), userFrom(r))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.internalError(w, r, "get profile", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var payload core.UpdateProfile
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := s.repo.UpdateProfile(r.Context(), userFrom(r), payload)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.internalError(w, r, "update profile", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

// === Helpers ===

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// publish emits an event best-effort: a broker outage must never fail the
// write that already committed.
func (s *Server) publish(r *http.Request, fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.WarnContext(r.Context(), "event publish failed", "error", err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, core.ErrInvalidType) ||
		errors.Is(err, core.ErrInvalidPaymentMethod) ||
		errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrInvalidSplitAmount) ||
		errors.Is(err, core.ErrEmptyDescription) ||
		errors.Is(err, core.ErrEmptyName)
}
