package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type contextKey string

const (
	ownerKeyContextKey  contextKey = "owner_key"
	requestIDContextKey contextKey = "request_id"
)

// OwnerKeyMiddleware resolves the cart owner for the request. Authenticated
// users are identified by X-User-ID, anonymous shoppers by X-Session-ID. The
// two namespaces are kept distinct so a session id can never collide with a
// user id.
func OwnerKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ownerKey string
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ownerKey = "user:" + userID
		} else if sessionID := r.Header.Get("X-Session-ID"); sessionID != "" {
			ownerKey = "session:" + sessionID
		}

		if ownerKey == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing X-User-ID or X-Session-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKeyContextKey, ownerKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerKeyFromContext(ctx context.Context) string {
	if ownerKey, ok := ctx.Value(ownerKeyContextKey).(string); ok {
		return ownerKey
	}
	return ""
}
