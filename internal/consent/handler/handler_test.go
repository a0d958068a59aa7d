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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/authz"
	"docflow/internal/consent/cache"
	consentservice "docflow/internal/consent/service"
	consentstore "docflow/internal/consent/store"
	"docflow/internal/guard"
	"docflow/internal/tenancy"
	tenantmodels "docflow/internal/tenant/models"
	tenantstore "docflow/internal/tenant/store"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/audit"
	auditmemory "docflow/pkg/platform/audit/store/memory"
	"docflow/pkg/requestcontext"
)

type testEnv struct {
	router  http.Handler
	service *consentservice.Service
	tenants *tenantstore.InMemory
	clinic  *tenantmodels.Tenant
	admin   id.Principal
	user    id.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore(), logger)
	service := consentservice.New(consentstore.NewInMemory(), cache.Noop{}, recorder, logger)

	tenants := tenantstore.NewInMemory()
	clinic, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica Norte", "clinica-norte", time.Now())
	require.NoError(t, err)
	require.NoError(t, tenants.CreateIfSlugAvailable(context.Background(), clinic))

	authorizer := authz.NewRoleAuthorizer(logger)
	pipeline := guard.New(tenancy.NewResolver(tenants, logger), authorizer, service,
		[]string{"/consents", "/legal-documents"}, logger)

	h := New(service, pipeline, nil, logger)
	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.Register(r)

	return &testEnv{
		router:  r,
		service: service,
		tenants: tenants,
		clinic:  clinic,
		admin: id.Principal{
			ID:       id.PrincipalID(id.New()),
			Role:     id.RolePlatformAdmin,
			Verified: true,
		},
		user: id.Principal{
			ID:       id.PrincipalID(id.New()),
			TenantID: clinic.ID,
			Role:     id.RolePatient,
			Verified: true,
		},
	}
}

func (e *testEnv) do(t *testing.T, principal id.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if !principal.IsAnonymous() {
		req = req.WithContext(requestcontext.WithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createDocument(t *testing.T, version int) string {
	t.Helper()
	rec := e.do(t, e.admin, http.MethodPost, "/legal-documents", map[string]any{
		"doc_type": "TERMS",
		"version":  version,
		"title":    "Terms of Service",
		"content":  "You agree to the terms.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	return doc.ID
}

func TestActiveDocumentsIsPublic(t *testing.T) {
	env := newTestEnv(t)

	docID := env.createDocument(t, 1)
	activated := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+docID+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	rec := env.do(t, id.Principal{}, http.MethodGet, "/legal-documents/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Terms of Service", docs[0]["title"])
	// The listing never exposes lifecycle internals.
	assert.NotContains(t, docs[0], "active")
}

func TestDocumentManagementIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.user, http.MethodPost, "/legal-documents", map[string]any{
		"doc_type": "TERMS", "version": 1, "title": "t", "content": "c",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	list := env.do(t, env.user, http.MethodGet, "/legal-documents", nil)
	assert.Equal(t, http.StatusForbidden, list.Code)
}

func TestDuplicateVersionConflicts(t *testing.T) {
	env := newTestEnv(t)

	env.createDocument(t, 1)
	rec := env.do(t, env.admin, http.MethodPost, "/legal-documents", map[string]any{
		"doc_type": "TERMS", "version": 1, "title": "t", "content": "c",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAcceptIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	docID := env.createDocument(t, 1)
	activated := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+docID+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	payload := map[string]any{"document_ids": []string{docID}}
	first := env.do(t, env.user, http.MethodPost, "/consents", payload)
	require.Equal(t, http.StatusOK, first.Code)
	var result struct {
		CreatedCount int `json:"created_count"`
		TotalActive  int `json:"total_active"`
	}
	require.NoError(t, json.NewDecoder(first.Body).Decode(&result))
	assert.Equal(t, 1, result.CreatedCount)
	assert.Equal(t, 1, result.TotalActive)

	second := env.do(t, env.user, http.MethodPost, "/consents", payload)
	require.Equal(t, http.StatusOK, second.Code)
	require.NoError(t, json.NewDecoder(second.Body).Decode(&result))
	assert.Equal(t, 0, result.CreatedCount)
}

func TestAcceptWithoutSelectionCoversActiveSet(t *testing.T) {
	env := newTestEnv(t)

	docID := env.createDocument(t, 1)
	activated := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+docID+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	rec := env.do(t, env.user, http.MethodPost, "/consents", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		CreatedCount int `json:"created_count"`
		TotalActive  int `json:"total_active"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.CreatedCount)
	assert.Equal(t, 1, result.TotalActive)

	complete, err := env.service.HasActiveConsent(context.Background(), env.user)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestConsentEndpointsFailClosedForUnavailableTenant(t *testing.T) {
	env := newTestEnv(t)

	docID := env.createDocument(t, 1)
	activated := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+docID+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	env.clinic.Active = false
	require.NoError(t, env.tenants.Update(context.Background(), env.clinic))

	rec := env.do(t, env.user, http.MethodPost, "/consents", map[string]any{
		"document_ids": []string{docID},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A principal of a tenant this installation has never seen reads the
	// same way.
	stranger := id.Principal{
		ID:       id.PrincipalID(id.New()),
		TenantID: id.TenantID(id.New()),
		Role:     id.RolePatient,
		Verified: true,
	}
	rec = env.do(t, stranger, http.MethodGet, "/legal-documents", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAcceptRejectsInactiveDocument(t *testing.T) {
	env := newTestEnv(t)

	docID := env.createDocument(t, 1)
	rec := env.do(t, env.user, http.MethodPost, "/consents", map[string]any{
		"document_ids": []string{docID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivationSwapReopensTheGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := env.createDocument(t, 1)
	activated := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+v1+"/activate", nil)
	require.Equal(t, http.StatusOK, activated.Code)

	accepted := env.do(t, env.user, http.MethodPost, "/consents", map[string]any{
		"document_ids": []string{v1},
	})
	require.Equal(t, http.StatusOK, accepted.Code)

	complete, err := env.service.HasActiveConsent(ctx, env.user)
	require.NoError(t, err)
	assert.True(t, complete)

	v2 := env.createDocument(t, 2)
	swapped := env.do(t, env.admin, http.MethodPost, "/legal-documents/"+v2+"/activate", nil)
	require.Equal(t, http.StatusOK, swapped.Code)

	complete, err = env.service.HasActiveConsent(ctx, env.user)
	require.NoError(t, err)
	assert.False(t, complete)

	reaccepted := env.do(t, env.user, http.MethodPost, "/consents", map[string]any{
		"document_ids": []string{v2},
	})
	require.Equal(t, http.StatusOK, reaccepted.Code)

	complete, err = env.service.HasActiveConsent(ctx, env.user)
	require.NoError(t, err)
	assert.True(t, complete)
}
