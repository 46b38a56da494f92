package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/openbuilders/batch-submitter/internal/approval"
)

type Decision struct {
	ID       uuid.UUID `json:"id"`
	Approved bool      `json:"approved"`
}

func (s *Server) PendingApprovalsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	if s.deps.Approvals == nil {
		return []approval.PendingRequest{}, nil
	}

	return s.deps.Approvals.Pending(), nil
}

// ApprovalHandler delivers an operator decision for a pending request.
func (s *Server) ApprovalHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	if s.deps.Approvals == nil {
		return nil, &APIError{
			Code:        ErrorCodeUnknownRequest,
			Description: "approvals are handled by policy",
		}
	}

	defer r.Body.Close()

	var d Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		return nil, &APIError{Code: ErrorCodeBadRequest, Description: err.Error()}
	}

	err := s.deps.Approvals.Resolve(d.ID, d.Approved)
	if errors.Is(err, approval.ErrUnknownRequest) {
		return nil, &APIError{Code: ErrorCodeUnknownRequest, Description: d.ID.String()}
	}

	if err != nil {
		return nil, err
	}

	s.log.Info("Approval resolved", "id", d.ID, "approved", d.Approved)

	return d, nil
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	return s.deps.Health.GetHealthStatus(), nil
}

// ReadinessHandler fails while any dependency is unhealthy.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	status := s.deps.Health.GetHealthStatus()
	if !status.Healthy {
		return nil, &APIError{Code: ErrorCodeNotReady}
	}

	return status, nil
}
