package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32

	// tokenIssuer is the iss claim of operator tokens.
	tokenIssuer = "lw2bacnet"
)

// ErrInvalidToken is returned when a bearer token fails validation.
var ErrInvalidToken = errors.New("api: invalid token")

// IssueToken signs an operator token with the shared API secret.
//
// Parameters:
//   - secret: The configured api.auth.jwt_secret
//   - subject: Who the token is for (recorded in request logs)
//   - ttl: Token lifetime
//
// Returns:
//   - string: Compact HS256 JWT
//   - error: If signing fails
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidToken)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken validates a compact token and returns its subject.
func parseToken(secret, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// authEnabled reports whether mutating endpoints require a bearer token.
func (s *Server) authEnabled() bool {
	return s.cfg.Auth.JWTSecret != ""
}

// authMiddleware requires a valid bearer token when a secret is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}

		subject, err := parseToken(s.cfg.Auth.JWTSecret, raw)
		if err != nil {
			s.logger.Warn("rejected API token",
				"path", r.URL.Path,
				"error", err,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]time.Time
	mu      sync.Mutex
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

// issue creates and records a new ticket.
func (ts *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = time.Now().Add(ticketTTL)
	ts.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	expiresAt, ok := ts.tickets[ticket]
	if !ok {
		return false
	}
	delete(ts.tickets, ticket)
	return time.Now().Before(expiresAt)
}

// cleanExpired removes expired tickets.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, expiresAt := range ts.tickets {
		if now.After(expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to open the event stream without exposing
// the token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop removes expired tickets periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}
