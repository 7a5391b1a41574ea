package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/procurement-engine/procurement"
)

// Identity headers set by the upstream gateway after it authenticates the
// caller. The engine trusts them as given.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorName  = "X-Actor-Name"
	HeaderActorRoles = "X-Actor-Roles" // comma separated
	HeaderVendorID   = "X-Vendor-ID"
)

type actorKey struct{}

// RequireActor builds a procurement.Actor from the identity headers and
// rejects requests without one.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing actor identity", nil)
			return
		}
		actor := procurement.Actor{
			ID:       procurement.UserID(id),
			Name:     r.Header.Get(HeaderActorName),
			VendorID: procurement.VendorID(strings.TrimSpace(r.Header.Get(HeaderVendorID))),
		}
		for _, role := range strings.Split(r.Header.Get(HeaderActorRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				actor.Roles = append(actor.Roles, procurement.Role(role))
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) procurement.Actor {
	actor, _ := r.Context().Value(actorKey{}).(procurement.Actor)
	return actor
}
