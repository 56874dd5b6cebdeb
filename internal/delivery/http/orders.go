package deliveryhttp

import (
	"net/http"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/service"
)

var anyRole = []model.Role{model.RoleAdmin, model.RoleMerchant, model.RoleShipper, model.RoleCustomer}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseAuthID(r, model.RoleCustomer.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing customer id")
		return
	}
	var req service.CheckoutInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	order, err := s.svc.Checkout(ctx, customerID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := parseActor(r, model.RoleMerchant, model.RoleShipper, model.RoleCustomer)
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, err.Error())
		return
	}
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	b := bucket.ID(r.URL.Query().Get("bucket"))

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	orders, err := s.svc.ListOrders(ctx, actor, b, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := parseActor(r, anyRole...)
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, err.Error())
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	order, err := s.svc.GetOrder(ctx, actor, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if order.ShipperID != nil && s.positions != nil && order.Status == lifecycle.StatusShipping {
		if pos, err := s.positions.Position(ctx, *order.ShipperID); err == nil {
			order.Position = pos
		}
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := parseActor(r, model.RoleAdmin, model.RoleMerchant, model.RoleShipper, model.RoleCustomer)
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, err.Error())
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	var req struct {
		Status lifecycle.Status `json:"status"`
		Reason string           `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, "status is required")
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	order, err := s.svc.UpdateStatus(ctx, actor, id, req.Status, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	shipperID, err := parseAuthID(r, model.RoleShipper.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing shipper id")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	order, err := s.svc.Claim(ctx, shipperID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
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
	order, err := s.svc.Cancel(ctx, customerID, id, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleShipperLocation(w http.ResponseWriter, r *http.Request) {
	actor, err := parseActor(r, anyRole...)
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, err.Error())
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	order, err := s.svc.GetOrder(ctx, actor, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if order.ShipperID == nil || s.positions == nil {
		writeError(w, http.StatusNotFound, apperr.CodeNotFound, "no shipper position")
		return
	}
	pos, err := s.positions.Position(ctx, *order.ShipperID)
	if err != nil {
		s.fail(w, r, apperr.Wrap(apperr.KindTransient, apperr.CodeUnavailable, err))
		return
	}
	if pos == nil {
		writeError(w, http.StatusNotFound, apperr.CodeNotFound, "no shipper position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
