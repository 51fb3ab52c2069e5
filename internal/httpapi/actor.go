package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ActorHeader carries the authenticated user id, set by the upstream gateway.
const ActorHeader = "X-User-ID"

type contextKey struct{ name string }

var actorContextKey = &contextKey{name: "actor_id"}

// ActorMiddleware stores a valid X-User-ID in the request context. A
// malformed id is rejected; a missing one is left for RequireActor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + ActorHeader})
			return
		}
		ctx := context.WithValue(r.Context(), actorContextKey, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()) == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + ActorHeader})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorContextKey).(string)
	return id
}
