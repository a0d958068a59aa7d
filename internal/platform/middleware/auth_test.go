package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "docflow/pkg/domain"
	"docflow/pkg/requestcontext"
)

const testSigningKey = "test-signing-key"

func mintToken(t *testing.T, key string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func staffClaims(subject string, tenantID id.TenantID) Claims {
	return Claims{
		TenantID: tenantID.String(),
		Role:     "DOCTOR",
		Verified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidateToken(t *testing.T) {
	v := NewValidator(testSigningKey)
	accountID := id.PrincipalID(id.New())
	tenantID := id.TenantID(id.New())

	token := mintToken(t, testSigningKey, staffClaims(accountID.String(), tenantID))
	principal, err := v.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, accountID, principal.ID)
	assert.Equal(t, tenantID, principal.TenantID)
	assert.Equal(t, id.RoleDoctor, principal.Role)
	assert.True(t, principal.Verified)
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	v := NewValidator(testSigningKey)
	token := mintToken(t, "other-key", staffClaims(id.NewString(), id.TenantID(id.New())))

	_, err := v.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v := NewValidator(testSigningKey)
	claims := staffClaims(id.NewString(), id.TenantID(id.New()))
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err := v.ValidateToken(mintToken(t, testSigningKey, claims))
	assert.Error(t, err)
}

func TestValidateTokenRejectsBadSubject(t *testing.T) {
	v := NewValidator(testSigningKey)
	claims := staffClaims("not-a-uuid", id.TenantID(id.New()))

	_, err := v.ValidateToken(mintToken(t, testSigningKey, claims))
	assert.Error(t, err)
}

func TestValidateTokenCarriesSecretaryBinding(t *testing.T) {
	v := NewValidator(testSigningKey)
	doctorID := id.PrincipalID(id.New())
	claims := staffClaims(id.NewString(), id.TenantID(id.New()))
	claims.Role = "SECRETARY"
	claims.BoundDoctorID = doctorID.String()

	principal, err := v.ValidateToken(mintToken(t, testSigningKey, claims))
	require.NoError(t, err)
	assert.Equal(t, doctorID, principal.BoundDoctorID)
}

func TestRequireAuth(t *testing.T) {
	v := NewValidator(testSigningKey)
	logger := slog.New(slog.DiscardHandler)

	var captured id.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requestcontext.Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := RequireAuth(v, logger)(next)

	accountID := id.PrincipalID(id.New())
	token := mintToken(t, testSigningKey, staffClaims(accountID.String(), id.TenantID(id.New())))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, accountID, captured.ID)
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	v := NewValidator(testSigningKey)
	protected := RequireAuth(v, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	v := NewValidator(testSigningKey)
	protected := RequireAuth(v, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
