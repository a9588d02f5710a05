package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
	got    string
}

func (s *stubValidator) ValidateToken(token string) (*JWTClaims, error) {
	s.got = token
	return s.claims, s.err
}

func newRequest(header string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/transfers", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return r
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actor := uuid.New()
	tenant := uuid.New()

	t.Run("valid token injects actor and tenant", func(t *testing.T) {
		v := &stubValidator{claims: &JWTClaims{ActorID: actor.String(), TenantID: tenant.String()}}
		var seenActor, seenTenant string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenActor = requestcontext.ActorID(r.Context()).String()
			seenTenant = requestcontext.TenantID(r.Context()).String()
			w.WriteHeader(http.StatusNoContent)
		})

		w := httptest.NewRecorder()
		RequireAuth(v, logger)(next).ServeHTTP(w, newRequest("Bearer tok"))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "tok", v.got)
		assert.Equal(t, actor.String(), seenActor)
		assert.Equal(t, tenant.String(), seenTenant)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		RequireAuth(&stubValidator{}, logger)(http.NotFoundHandler()).ServeHTTP(w, newRequest(""))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "unauthorized", body["error"])
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		v := &stubValidator{err: errors.New("bad signature")}
		RequireAuth(v, logger)(http.NotFoundHandler()).ServeHTTP(w, newRequest("Bearer nope"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed actor claim is unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		v := &stubValidator{claims: &JWTClaims{ActorID: "not-a-uuid", TenantID: tenant.String()}}
		RequireAuth(v, logger)(http.NotFoundHandler()).ServeHTTP(w, newRequest("Bearer tok"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("query token accepted only for websocket upgrades", func(t *testing.T) {
		v := &stubValidator{claims: &JWTClaims{ActorID: actor.String(), TenantID: tenant.String()}}
		ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

		plain := httptest.NewRequest(http.MethodGet, "/transfers/events?access_token=tok", nil)
		w := httptest.NewRecorder()
		RequireAuth(v, logger)(ok).ServeHTTP(w, plain)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		upgrade := httptest.NewRequest(http.MethodGet, "/transfers/events?access_token=tok", nil)
		upgrade.Header.Set("Upgrade", "websocket")
		w = httptest.NewRecorder()
		RequireAuth(v, logger)(ok).ServeHTTP(w, upgrade)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
