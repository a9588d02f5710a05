package testutil

import (
	"net/http"
	"time"

	id "nexus/pkg/domain"
	"nexus/pkg/requestcontext"
)

// WithActor adds the authenticated actor and their tenant to the request
// context, as the auth middleware would.
func WithActor(req *http.Request, actorID id.ActorID, tenantID id.TenantID) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), actorID, tenantID)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
