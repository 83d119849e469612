package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/platform/requestctx"
)

// userIDHeader carries the authenticated user identity resolved by the edge
// proxy. Handlers trust it as-is; token verification happens upstream.
const userIDHeader = "X-User-ID"

// identityMiddleware copies the upstream-verified user ID into the request
// context so platform middlewares can key logs and idempotency records on it.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
			r = r.WithContext(requestctx.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

var (
	errBodyTooLarge = errors.New("request body exceeds the allowed size")
	errEmptyBody    = errors.New("request body is empty")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// userIDFromRequest extracts the caller identity from the trusted header.
func userIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userIDHeader))
}

// requireUser resolves the caller identity or writes a 401 response.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := userIDFromRequest(r)
	if userID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return userID, true
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
