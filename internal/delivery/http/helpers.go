package deliveryhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/policy"
)

var errNoIdentity = errors.New("missing identity header")

func parseAuthID(r *http.Request, header string) (int64, error) {
	val := strings.TrimSpace(r.Header.Get(header))
	if val == "" {
		return 0, fmt.Errorf("missing %s", header)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", header)
	}
	return id, nil
}

// parseActor returns the first of roles whose identity header is present.
func parseActor(r *http.Request, roles ...model.Role) (policy.Actor, error) {
	for _, role := range roles {
		if r.Header.Get(role.Header()) == "" {
			continue
		}
		id, err := parseAuthID(r, role.Header())
		if err != nil {
			return policy.Actor{}, err
		}
		return policy.Actor{Role: role, ID: id}, nil
	}
	return policy.Actor{}, errNoIdentity
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get(":id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePaging(r *http.Request) (int, int, error) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			return 0, 0, fmt.Errorf("invalid limit")
		}
		limit = l
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			return 0, 0, fmt.Errorf("invalid offset")
		}
		offset = o
	}
	return limit, offset, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

// fail maps err onto a status and wire code. Unclassified errors are logged
// and reported as internal errors.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind != apperr.KindUnknown {
		msg := e.Message
		if msg == "" {
			msg = apperr.UserMessage(err)
		}
		code := e.Code
		if code == "" {
			code = e.Kind.String()
		}
		writeError(w, apperr.StatusFor(e.Kind), code, msg)
		return
	}
	if apperr.KindOf(err) == apperr.KindTransient {
		writeError(w, http.StatusServiceUnavailable, apperr.CodeUnavailable, "service temporarily unavailable")
		return
	}
	if s.logger != nil {
		s.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
