package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nexus/internal/tenant/models"
	"nexus/internal/tenant/service"
	tenantstore "nexus/internal/tenant/store/tenant"
	id "nexus/pkg/domain"
)

func TestListTenants(t *testing.T) {
	router, _ := newTenantRouter(t, "Bravo", "Alpha")

	req := httptest.NewRequest(http.MethodGet, "/tenants", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing tenants, got %d", rec.Code)
	}
	var resp struct {
		Tenants []TenantResponse `json:"tenants"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tenants) != 2 || resp.Tenants[0].Name != "Alpha" {
		t.Fatalf("expected tenants sorted by name, got %+v", resp.Tenants)
	}
}

func TestGetTenant(t *testing.T) {
	router, tenants := newTenantRouter(t, "North Ward")

	req := httptest.NewRequest(http.MethodGet, "/tenants/"+tenants[0].ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching tenant, got %d", rec.Code)
	}
	var resp TenantResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "North Ward" || resp.Status != "active" {
		t.Fatalf("unexpected tenant response %+v", resp)
	}
}

func TestGetTenant_Errors(t *testing.T) {
	router, _ := newTenantRouter(t)

	cases := map[string]int{
		"/tenants/not-a-uuid":          http.StatusBadRequest,
		"/tenants/" + uuid.NewString(): http.StatusNotFound,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}

func newTenantRouter(t *testing.T, names ...string) (http.Handler, []*models.Tenant) {
	t.Helper()
	store := tenantstore.NewInMemory()
	var created []*models.Tenant
	for _, name := range names {
		tenant, err := models.NewTenant(id.TenantID(uuid.New()), name, time.Now())
		if err != nil {
			t.Fatalf("new tenant: %v", err)
		}
		if err := store.CreateIfNameAvailable(context.Background(), tenant); err != nil {
			t.Fatalf("seed tenant: %v", err)
		}
		created = append(created, tenant)
	}
	svc, err := service.New(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	h := New(svc, logger)
	r := chi.NewRouter()
	h.Register(r)
	return r, created
}
