// Package audit provides the tamper-evident trail of sensitive actions.
//
// Entries are appended in the same transaction as the primary write (via
// pkg/platform/tx) and never mutated afterwards: no component in this module
// exposes an update or delete on audit entries. A background worker drains
// the transactional outbox into Kafka so retention and SIEM fan-out happen
// off the request path.
package audit

import (
	"time"

	id "docflow/pkg/domain"
)

// Action classifies what happened to the target record.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"

	// ActionRead and ActionExport are part of the taxonomy for future
	// consumers (data subject access requests); no flow in this core emits
	// them yet.
	ActionRead   Action = "READ"
	ActionExport Action = "EXPORT"
)

// Entry is one immutable audit record.
//
// ActorID is nil when the acting account has since been deleted; TenantID is
// nil for platform-level actions. Changes carries a small structured diff for
// updates, never raw PII.
type Entry struct {
	ID         string
	ActorID    id.PrincipalID
	TenantID   id.TenantID
	TargetKind string
	TargetID   string
	Action     Action
	Changes    map[string]any
	ClientIP   string
	UserAgent  string
	RequestID  string
	CreatedAt  time.Time
}

// Target kinds emitted by the core. Kept as plain strings so the audit trail
// survives model renames.
const (
	TargetPatient     = "PatientRecord"
	TargetAppointment = "Appointment"
	TargetAccount     = "Account"
	TargetDocument    = "LegalDocument"
	TargetConsent     = "ConsentRecord"
	TargetTenant      = "Tenant"
)
