package deliveryhttp

import (
	"net/http"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/model"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DistanceM *int `json:"distance_m"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	distance := -1
	if req.DistanceM != nil {
		distance = *req.DistanceM
	}
	fee, offerable := s.svc.Quote(distance)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"distance_m": distance,
		"fee":        fee,
		"offerable":  offerable,
	})
}

func (s *Server) handlePublishLocation(w http.ResponseWriter, r *http.Request) {
	shipperID, err := parseAuthID(r, model.RoleShipper.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing shipper id")
		return
	}
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, err.Error())
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, apperr.CodeBadRequest, "lat and lng are required")
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	if err := s.svc.PublishLocation(ctx, shipperID, *req.Lat, *req.Lng); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoOffline(w http.ResponseWriter, r *http.Request) {
	shipperID, err := parseAuthID(r, model.RoleShipper.Header())
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.CodeForbidden, "missing shipper id")
		return
	}
	if s.positions != nil {
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		if err := s.positions.GoOffline(ctx, shipperID); err != nil {
			s.fail(w, r, apperr.Wrap(apperr.KindTransient, apperr.CodeUnavailable, err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
