package httptransport

import (
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

type auditEnv struct {
	router   http.Handler
	recorder *audit.Recorder
	clinicA  *tenantmodels.Tenant
	clinicB  *tenantmodels.Tenant
	ownerA   id.Principal
	admin    id.Principal
}

func newAuditEnv(t *testing.T) *auditEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()
	now := time.Now()

	tenants := tenantstore.NewInMemory()
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore(), logger)

	clinicA, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica A", "clinica-a", now)
	require.NoError(t, err)
	require.NoError(t, tenants.CreateIfSlugAvailable(ctx, clinicA))
	clinicB, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica B", "clinica-b", now)
	require.NoError(t, err)
	require.NoError(t, tenants.CreateIfSlugAvailable(ctx, clinicB))

	authorizer := authz.NewRoleAuthorizer(logger)
	consentSvc := consentservice.New(consentstore.NewInMemory(), cache.Noop{}, recorder, logger)
	pipeline := guard.New(tenancy.NewResolver(tenants, logger), authorizer, consentSvc, ConsentExemptPaths, logger)

	h := NewAuditHandler(recorder, pipeline, nil, logger)
	r := chi.NewRouter()
	h.Register(r)

	return &auditEnv{
		router:   r,
		recorder: recorder,
		clinicA:  clinicA,
		clinicB:  clinicB,
		ownerA: id.Principal{
			ID:       id.PrincipalID(id.New()),
			TenantID: clinicA.ID,
			Role:     id.RoleTenantOwner,
			Verified: true,
		},
		admin: id.Principal{
			ID:       id.PrincipalID(id.New()),
			Role:     id.RolePlatformAdmin,
			Verified: true,
		},
	}
}

func (e *auditEnv) seed(t *testing.T, tenantID id.TenantID, targetID string) {
	t.Helper()
	require.NoError(t, e.recorder.Record(context.Background(), audit.Entry{
		ActorID:    id.PrincipalID(id.New()),
		TenantID:   tenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   targetID,
		Action:     audit.ActionCreate,
	}))
}

func (e *auditEnv) list(t *testing.T, principal id.Principal, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/audit-entries"+query, nil)
	if !principal.IsAnonymous() {
		req = req.WithContext(requestcontext.WithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeEntries(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	return entries
}

func TestOwnerSeesOnlyOwnTenantTrail(t *testing.T) {
	env := newAuditEnv(t)
	env.seed(t, env.clinicA.ID, "a-1")
	env.seed(t, env.clinicB.ID, "b-1")

	rec := env.list(t, env.ownerA, "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeEntries(t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "a-1", entries[0]["target_id"])
	assert.Equal(t, env.clinicA.ID.String(), entries[0]["tenant_id"])
}

func TestAdminSeesEverything(t *testing.T) {
	env := newAuditEnv(t)
	env.seed(t, env.clinicA.ID, "a-1")
	env.seed(t, env.clinicB.ID, "b-1")

	rec := env.list(t, env.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEntries(t, rec), 2)

	filtered := env.list(t, env.admin, "?tenant_id="+env.clinicB.ID.String())
	require.Equal(t, http.StatusOK, filtered.Code)
	entries := decodeEntries(t, filtered)
	require.Len(t, entries, 1)
	assert.Equal(t, "b-1", entries[0]["target_id"])
}

func TestTrailIsOwnerAndAdminOnly(t *testing.T) {
	env := newAuditEnv(t)

	doctor := id.Principal{
		ID:       id.PrincipalID(id.New()),
		TenantID: env.clinicA.ID,
		Role:     id.RoleDoctor,
		Verified: true,
	}
	rec := env.list(t, doctor, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	anon := env.list(t, id.Principal{}, "")
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}

func TestLimitValidation(t *testing.T) {
	env := newAuditEnv(t)
	for i := 0; i < 5; i++ {
		env.seed(t, env.clinicA.ID, "a")
	}

	bad := env.list(t, env.ownerA, "?limit=zero")
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	negative := env.list(t, env.ownerA, "?limit=-1")
	assert.Equal(t, http.StatusBadRequest, negative.Code)

	capped := env.list(t, env.ownerA, "?limit=2")
	require.Equal(t, http.StatusOK, capped.Code)
	assert.Len(t, decodeEntries(t, capped), 2)
}
