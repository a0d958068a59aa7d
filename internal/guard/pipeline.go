// Package guard composes the access decision for a guarded operation.
//
// Stages run in a fixed order: tenancy, then role capability, then consent
// completeness. The first failing stage decides; later stages never run, so
// a caller cannot learn about an object's tenant from a consent denial or
// vice versa.
package guard

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docflow/internal/authz"
	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/requestcontext"
)

// Reason classifies why a request was denied.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnauthenticated Reason = "UNAUTHENTICATED"
	ReasonTenantMismatch  Reason = "TENANT_MISMATCH"
	ReasonRoleMismatch    Reason = "ROLE_MISMATCH"
	ReasonConsentRequired Reason = "CONSENT_REQUIRED"
)

// Decision is the outcome of one pipeline run. Err carries the coded error
// the transport layer maps to a response; it is set exactly when Allowed is
// false.
type Decision struct {
	Allowed bool
	Reason  Reason
	Err     error
}

func allowed() Decision {
	return Decision{Allowed: true}
}

func denied(reason Reason, err error) Decision {
	return Decision{Reason: reason, Err: err}
}

// Tenancy resolves the principal's tenant.
type Tenancy interface {
	Resolve(ctx context.Context, principal id.Principal) (*tenantmodels.Tenant, error)
}

// Authorizer answers the role capability question.
type Authorizer interface {
	HasPermission(principal id.Principal, resource authz.Resource, op authz.Operation) error
}

// Consent answers the completeness question.
type Consent interface {
	HasActiveConsent(ctx context.Context, principal id.Principal) (bool, error)
}

// Pipeline runs the ordered access stages for guarded operations.
type Pipeline struct {
	tenancy       Tenancy
	authz         Authorizer
	consent       Consent
	consentExempt []string
	tracer        trace.Tracer
	logger        *slog.Logger
}

// New builds the pipeline. consentExempt lists path prefixes whose
// operations must stay reachable without consent, such as the consent
// acceptance endpoint itself and the verification flow.
func New(tenancy Tenancy, authorizer Authorizer, consent Consent, consentExempt []string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		tenancy:       tenancy,
		authz:         authorizer,
		consent:       consent,
		consentExempt: consentExempt,
		tracer:        otel.Tracer("docflow/guard"),
		logger:        logger,
	}
}

// ConsentExempt reports whether a request path skips the consent stage.
func (p *Pipeline) ConsentExempt(path string) bool {
	for _, prefix := range p.consentExempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Check runs the pipeline for one operation. On success the returned context
// carries the resolved tenant for row-level scoping downstream.
func (p *Pipeline) Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, Decision) {
	ctx, span := p.tracer.Start(ctx, "guard.check", trace.WithAttributes(
		attribute.String("guard.resource", string(resource)),
		attribute.String("guard.operation", string(op)),
		attribute.String("guard.role", principal.Role.String()),
	))
	defer span.End()

	if principal.IsAnonymous() {
		return ctx, p.deny(span, ReasonUnauthenticated,
			dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
	}

	tenant, err := p.tenancy.Resolve(ctx, principal)
	if err != nil {
		return ctx, p.deny(span, ReasonTenantMismatch, err)
	}
	if tenant != nil {
		ctx = requestcontext.WithTenantID(ctx, tenant.ID)
		span.SetAttributes(attribute.String("guard.tenant_id", tenant.ID.String()))
	}

	if err := p.authz.HasPermission(principal, resource, op); err != nil {
		return ctx, p.deny(span, ReasonRoleMismatch, err)
	}

	if !p.ConsentExempt(path) {
		complete, err := p.consent.HasActiveConsent(ctx, principal)
		if err != nil {
			return ctx, p.deny(span, ReasonConsentRequired, err)
		}
		if !complete {
			return ctx, p.deny(span, ReasonConsentRequired,
				dErrors.New(dErrors.CodeConsentRequired, "updated legal documents must be accepted to continue"))
		}
	}

	span.SetStatus(codes.Ok, "")
	return ctx, allowed()
}

func (p *Pipeline) deny(span trace.Span, reason Reason, err error) Decision {
	span.SetAttributes(attribute.String("guard.deny_reason", string(reason)))
	span.SetStatus(codes.Error, string(reason))
	p.logger.Debug("request denied", "reason", string(reason))
	return denied(reason, err)
}
