// Package auth issues and verifies bearer tokens that carry a role and an
// actor id. Verified tokens replace any identity headers sent by the caller.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"foodflow/internal/delivery/model"
)

// Claims is the token payload.
type Claims struct {
	ActorID int64  `json:"actor_id"`
	Role    string `json:"role"`
	jwt.StandardClaims
}

// Manager signs and parses HS256 tokens.
type Manager struct {
	signingKey []byte
}

// NewManager requires a non-empty signing key.
func NewManager(signingKey string) (*Manager, error) {
	if signingKey == "" {
		return nil, errors.New("empty signing key")
	}
	return &Manager{signingKey: []byte(signingKey)}, nil
}

// NewToken signs a token for role and actorID valid for ttl.
func (m *Manager) NewToken(role model.Role, actorID int64, ttl time.Duration) (string, error) {
	if !role.Valid() || actorID <= 0 {
		return "", fmt.Errorf("invalid identity %s/%d", role, actorID)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID: actorID,
		Role:    string(role),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
			Subject:   strconv.FormatInt(actorID, 10),
		},
	})
	return token.SignedString(m.signingKey)
}

// Parse verifies accessToken and returns its identity.
func (m *Manager) Parse(accessToken string) (model.Role, int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return "", 0, err
	}
	if !token.Valid {
		return "", 0, errors.New("invalid token")
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok || claims.ActorID <= 0 {
		return "", 0, errors.New("token carries no identity")
	}
	return role, claims.ActorID, nil
}

// Middleware rewrites identity headers from a bearer token. Requests without
// a token pass through unchanged unless required is set.
func (m *Manager) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				if required {
					writeUnauthorized(w, "authorization header missing or invalid")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			role, actorID, err := m.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}
			r = r.Clone(r.Context())
			for _, other := range model.Roles {
				r.Header.Del(other.Header())
			}
			r.Header.Set(role.Header(), strconv.FormatInt(actorID, 10))
			q := r.URL.Query()
			if q.Get("role") != "" || q.Get("actor_id") != "" {
				q.Set("role", string(role))
				q.Set("actor_id", strconv.FormatInt(actorID, 10))
				r.URL.RawQuery = q.Encode()
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q,"code":"forbidden"}`, message)
}
