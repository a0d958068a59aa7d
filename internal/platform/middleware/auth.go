package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "docflow/pkg/domain"
	"docflow/pkg/requestcontext"
)

// Claims are the token claims the credential issuer mints. This service
// trusts them as a snapshot of the account at issuance time; verification
// state is additionally re-checked by the authorizer.
type Claims struct {
	TenantID      string `json:"tenant_id,omitempty"`
	Role          string `json:"role"`
	Verified      bool   `json:"verified"`
	BoundDoctorID string `json:"bound_doctor_id,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 tokens from the credential issuer.
type Validator struct {
	key []byte
}

func NewValidator(signingKey string) *Validator {
	return &Validator{key: []byte(signingKey)}
}

// ValidateToken parses and verifies a token and maps its claims onto a
// Principal.
func (v *Validator) ValidateToken(tokenString string) (id.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return id.Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return id.Principal{}, fmt.Errorf("invalid token")
	}

	principalID, err := id.ParsePrincipalID(claims.Subject)
	if err != nil {
		return id.Principal{}, fmt.Errorf("invalid subject: %w", err)
	}
	principal := id.Principal{
		ID:       principalID,
		Role:     id.Role(claims.Role),
		Verified: claims.Verified,
	}
	if claims.TenantID != "" {
		tenantID, err := id.ParseTenantID(claims.TenantID)
		if err != nil {
			return id.Principal{}, fmt.Errorf("invalid tenant claim: %w", err)
		}
		principal.TenantID = tenantID
	}
	if claims.BoundDoctorID != "" {
		doctorID, err := id.ParsePrincipalID(claims.BoundDoctorID)
		if err != nil {
			return id.Principal{}, fmt.Errorf("invalid bound doctor claim: %w", err)
		}
		principal.BoundDoctorID = doctorID
	}
	return principal, nil
}

// RequireAuth rejects requests without a valid bearer token and publishes
// the authenticated principal into the request context.
func RequireAuth(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"request_id", requestcontext.RequestID(ctx))
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			principal, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"error", err, "request_id", requestcontext.RequestID(ctx))
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, principal)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"error_description":%q}`, errCode, errDesc)
}
