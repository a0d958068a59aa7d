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
	identitymodels "docflow/internal/identity/models"
	identityservice "docflow/internal/identity/service"
	identitystore "docflow/internal/identity/store"
	patientservice "docflow/internal/patient/service"
	patientstore "docflow/internal/patient/store"
	"docflow/internal/pii"
	"docflow/internal/tenancy"
	tenantmodels "docflow/internal/tenant/models"
	tenantservice "docflow/internal/tenant/service"
	tenantstore "docflow/internal/tenant/store"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/audit"
	auditmemory "docflow/pkg/platform/audit/store/memory"
	"docflow/pkg/platform/tx"
	"docflow/pkg/requestcontext"
)

type testEnv struct {
	router   http.Handler
	clinic   *tenantmodels.Tenant
	owner    id.Principal
	consents *consentservice.Service
}

type fakeNotifier struct{}

func (fakeNotifier) SendVerificationEmail(ctx context.Context, email, code string) error {
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	now := time.Now()

	tenants := tenantstore.NewInMemory()
	identities := identitystore.NewInMemory()
	consents := consentstore.NewInMemory()
	patients := patientstore.NewInMemory()
	recorder := audit.NewRecorder(auditmemory.NewInMemoryStore(), logger)

	clinic, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica Central", "clinica-central", now)
	require.NoError(t, err)
	require.NoError(t, tenants.CreateIfSlugAvailable(context.Background(), clinic))

	ownerAccount, err := identitymodels.NewAccount(id.PrincipalID(id.New()), clinic.ID,
		id.RoleTenantOwner, "owner@clinic.test", "Olga Owner", now)
	require.NoError(t, err)
	ownerAccount.Active = true
	ownerAccount.Verified = true
	require.NoError(t, identities.CreateAccount(context.Background(), ownerAccount))

	codec, err := pii.NewCodec(bytes.Repeat([]byte{0x42}, pii.KeySize))
	require.NoError(t, err)

	authorizer := authz.NewRoleAuthorizer(logger)
	tenantSvc := tenantservice.New(tenants, recorder, logger)
	identitySvc := identityservice.New(identities, tenants, recorder, logger)
	consentSvc := consentservice.New(consents, cache.Noop{}, recorder, logger)
	patientSvc := patientservice.New(patients, codec, authorizer, recorder, logger)
	registrar := patientservice.NewRegistrar(tenantSvc, identitySvc, patientSvc, consentSvc,
		tx.Passthrough{}, fakeNotifier{}, logger)

	pipeline := guard.New(tenancy.NewResolver(tenants, logger), authorizer, consentSvc, nil, logger)

	h := New(patientSvc, registrar, pipeline, nil, logger)
	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.Register(r)

	return &testEnv{
		router:   r,
		clinic:   clinic,
		owner:    ownerAccount.Principal(),
		consents: consentSvc,
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

func TestRegisterAndLookup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, id.Principal{}, http.MethodPost, "/register", map[string]any{
		"clinic_slug": "clinica-central",
		"email":       "pat@home.test",
		"full_name":   "Pat Silva",
		"national_id": "123.456.789-09",
		"birth_date":  "1990-04-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		AccountID string `json:"account_id"`
		PatientID string `json:"patient_id"`
		Email     string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pat@home.test", resp.Email)
	require.NotEmpty(t, resp.PatientID)

	get := env.do(t, env.owner, http.MethodGet, "/patients/"+resp.PatientID, nil)
	require.Equal(t, http.StatusOK, get.Code)

	var record map[string]any
	require.NoError(t, json.NewDecoder(get.Body).Decode(&record))
	assert.Equal(t, "Pat Silva", record["full_name"])
	// The sealed field never serializes.
	assert.NotContains(t, record, "national_id")
}

func TestRegisterRequiresActiveDocumentAcceptance(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.consents.BootstrapDefaults(context.Background()))

	payload := map[string]any{
		"clinic_slug": "clinica-central",
		"email":       "pat@home.test",
		"full_name":   "Pat Silva",
		"national_id": "123.456.789-09",
	}
	denied := env.do(t, id.Principal{}, http.MethodPost, "/register", payload)
	require.Equal(t, http.StatusForbidden, denied.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(denied.Body).Decode(&body))
	assert.Equal(t, "consent_required", body.Error)

	docs, err := env.consents.ActiveDocuments(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID.String())
	}
	payload["accepted_document_ids"] = ids
	accepted := env.do(t, id.Principal{}, http.MethodPost, "/register", payload)
	assert.Equal(t, http.StatusCreated, accepted.Code)
}

func TestRegisterUnknownClinic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, id.Principal{}, http.MethodPost, "/register", map[string]any{
		"clinic_slug": "nope",
		"email":       "pat@home.test",
		"full_name":   "Pat Silva",
		"national_id": "123.456.789-09",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, id.Principal{}, http.MethodPost, "/patients", map[string]any{
		"full_name":   "Pat Silva",
		"national_id": "123.456.789-09",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndRevealNationalID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.owner, http.MethodPost, "/patients", map[string]any{
		"full_name":   "Ana Lima",
		"national_id": "987.654.321-00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	reveal := env.do(t, env.owner, http.MethodGet, "/patients/"+created.ID+"/national-id", nil)
	require.Equal(t, http.StatusOK, reveal.Code)

	var revealed struct {
		NationalID string `json:"national_id"`
		Masked     string `json:"masked"`
	}
	require.NoError(t, json.NewDecoder(reveal.Body).Decode(&revealed))
	assert.Equal(t, "987.654.321-00", revealed.NationalID)
	assert.Equal(t, "*********00", revealed.Masked)
}

func TestDuplicateNationalIDConflicts(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{"full_name": "Ana Lima", "national_id": "987.654.321-00"}
	first := env.do(t, env.owner, http.MethodPost, "/patients", payload)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(t, env.owner, http.MethodPost, "/patients", payload)
	assert.Equal(t, http.StatusConflict, second.Code)

	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "conflict", body.Error)
	assert.Equal(t, "national_id", body.Field)
}

func TestSearchFindsByPlaintext(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, env.owner, http.MethodPost, "/patients", map[string]any{
		"full_name":   "Ana Lima",
		"national_id": "987.654.321-00",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	// Different formatting, same digits.
	found := env.do(t, env.owner, http.MethodPost, "/patients/search", map[string]any{
		"national_id": "98765432100",
	})
	require.Equal(t, http.StatusOK, found.Code)

	var record map[string]any
	require.NoError(t, json.NewDecoder(found.Body).Decode(&record))
	assert.Equal(t, "Ana Lima", record["full_name"])
}

func TestPatientRoleCannotSearch(t *testing.T) {
	env := newTestEnv(t)

	patient := id.Principal{
		ID:       id.PrincipalID(id.New()),
		TenantID: env.clinic.ID,
		Role:     id.RolePatient,
		Verified: true,
	}
	rec := env.do(t, patient, http.MethodPost, "/patients/search", map[string]any{
		"national_id": "987.654.321-00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListScopedToTenant(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, env.owner, http.MethodPost, "/patients", map[string]any{
		"full_name":   "Ana Lima",
		"national_id": "987.654.321-00",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	foreignOwner := id.Principal{
		ID:       id.PrincipalID(id.New()),
		TenantID: id.TenantID(id.New()),
		Role:     id.RoleTenantOwner,
		Verified: true,
	}
	// Unknown tenant fails tenancy resolution outright.
	rec := env.do(t, foreignOwner, http.MethodGet, "/patients", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	own := env.do(t, env.owner, http.MethodGet, "/patients", nil)
	require.Equal(t, http.StatusOK, own.Code)
	var records []map[string]any
	require.NoError(t, json.NewDecoder(own.Body).Decode(&records))
	assert.Len(t, records, 1)
}

func TestDeleteIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, env.owner, http.MethodPost, "/patients", map[string]any{
		"full_name":   "Ana Lima",
		"national_id": "987.654.321-00",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&rec))

	secretary := id.Principal{
		ID:       id.PrincipalID(id.New()),
		TenantID: env.clinic.ID,
		Role:     id.RoleSecretary,
		Verified: true,
	}
	denied := env.do(t, secretary, http.MethodDelete, "/patients/"+rec.ID, nil)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	deleted := env.do(t, env.owner, http.MethodDelete, "/patients/"+rec.ID, nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)
}
