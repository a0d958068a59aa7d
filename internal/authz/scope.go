package authz

import (
	id "docflow/pkg/domain"
)

// AppointmentScope is the row filter a listing query must apply. Exactly one
// of All or Empty may be set; otherwise TenantID narrows the rows and the
// optional DoctorID/PatientID narrow further.
type AppointmentScope struct {
	All       bool
	Empty     bool
	TenantID  id.TenantID
	DoctorID  id.PrincipalID
	PatientID id.PrincipalID
}

// PatientScope is the row filter for patient-record listings. SelfOnly pins
// a patient principal to the record linked to their own account.
type PatientScope struct {
	All      bool
	Empty    bool
	TenantID id.TenantID
	SelfOnly id.PrincipalID
}

// AppointmentScopeFor derives the schedule visibility of a principal.
//
// A secretary sees the schedule of the doctor they are bound to. A secretary
// with no binding sees nothing: visibility is granted by an explicit binding,
// never assumed.
func (a *RoleAuthorizer) AppointmentScopeFor(principal id.Principal) AppointmentScope {
	switch principal.Role {
	case id.RolePlatformAdmin:
		return AppointmentScope{All: true}
	case id.RoleTenantOwner:
		return AppointmentScope{TenantID: principal.TenantID}
	case id.RoleDoctor:
		return AppointmentScope{TenantID: principal.TenantID, DoctorID: principal.ID}
	case id.RoleSecretary:
		if principal.BoundDoctorID.IsNil() {
			return AppointmentScope{Empty: true}
		}
		return AppointmentScope{TenantID: principal.TenantID, DoctorID: principal.BoundDoctorID}
	case id.RolePatient:
		return AppointmentScope{TenantID: principal.TenantID, PatientID: principal.ID}
	default:
		return AppointmentScope{Empty: true}
	}
}

// PatientScopeFor derives which patient records a principal may list.
func (a *RoleAuthorizer) PatientScopeFor(principal id.Principal) PatientScope {
	switch principal.Role {
	case id.RolePlatformAdmin:
		return PatientScope{All: true}
	case id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor:
		return PatientScope{TenantID: principal.TenantID}
	case id.RolePatient:
		return PatientScope{TenantID: principal.TenantID, SelfOnly: principal.ID}
	default:
		return PatientScope{Empty: true}
	}
}
