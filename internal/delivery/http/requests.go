package deliveryhttp

import (
	"net/http"
	"strings"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/model"
)

func (s *Server) handleCreateCancelRequest(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseAuthID(r, model.RoleCustomer.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing customer id")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	created, err := s.svc.CreateCancelRequest(ctx, customerID, id, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListCancelRequests(w http.ResponseWriter, r *http.Request) {
	actor, err := parseActor(r, model.RoleAdmin, model.RoleCustomer)
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, err.Error())
		return
	}
	var resolution model.Resolution
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		resolution = model.Resolution(strings.ToUpper(v))
		switch resolution {
		case model.ResolutionPending, model.ResolutionApproved, model.ResolutionRejected:
		default:
			writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, "invalid status")
			return
		}
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	list, err := s.svc.ListCancelRequests(ctx, actor, resolution)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.CancellationRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleResolveCancelRequest(w http.ResponseWriter, r *http.Request) {
	adminID, err := parseAuthID(r, model.RoleAdmin.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing admin id")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	var req struct {
		Approve *bool  `json:"approve"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	if req.Approve == nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, "approve is required")
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	resolved, err := s.svc.ResolveCancelRequest(ctx, adminID, id, *req.Approve, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
