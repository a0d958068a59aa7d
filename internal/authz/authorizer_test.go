package authz

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

type AuthorizerSuite struct {
	suite.Suite

	authz  *RoleAuthorizer
	tenant id.TenantID
	other  id.TenantID
}

func TestAuthorizerSuite(t *testing.T) {
	suite.Run(t, new(AuthorizerSuite))
}

func (s *AuthorizerSuite) SetupTest() {
	s.authz = NewRoleAuthorizer(slog.New(slog.DiscardHandler))
	s.tenant = id.TenantID(id.New())
	s.other = id.TenantID(id.New())
}

func (s *AuthorizerSuite) principal(role id.Role) id.Principal {
	p := id.Principal{ID: id.PrincipalID(id.New()), Role: role, Verified: true}
	if role.RequiresTenant() {
		p.TenantID = s.tenant
	}
	return p
}

func (s *AuthorizerSuite) TestHasPermission() {
	s.Run("anonymous is unauthorized", func() {
		err := s.authz.HasPermission(id.Principal{}, ResourceAppointment, OpRead)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unverified principal holds no capabilities", func() {
		p := s.principal(id.RoleDoctor)
		p.Verified = false
		err := s.authz.HasPermission(p, ResourceAppointment, OpRead)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("platform admin bypasses the matrix", func() {
		s.NoError(s.authz.HasPermission(s.principal(id.RolePlatformAdmin), ResourceTenant, OpDelete))
		s.NoError(s.authz.HasPermission(s.principal(id.RolePlatformAdmin), ResourceAuditTrail, OpRead))
	})

	s.Run("patient is denied staff resources", func() {
		err := s.authz.HasPermission(s.principal(id.RolePatient), ResourceStaff, OpRead)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("patient may read but not create patient records", func() {
		s.NoError(s.authz.HasPermission(s.principal(id.RolePatient), ResourcePatientRecord, OpRead))
		err := s.authz.HasPermission(s.principal(id.RolePatient), ResourcePatientRecord, OpCreate)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("doctor cannot delete appointments", func() {
		err := s.authz.HasPermission(s.principal(id.RoleDoctor), ResourceAppointment, OpDelete)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("only owner reads the audit trail", func() {
		s.NoError(s.authz.HasPermission(s.principal(id.RoleTenantOwner), ResourceAuditTrail, OpRead))
		err := s.authz.HasPermission(s.principal(id.RoleDoctor), ResourceAuditTrail, OpRead)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("tenant lifecycle is closed to every tenant role", func() {
		for _, role := range []id.Role{id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor, id.RolePatient} {
			err := s.authz.HasPermission(s.principal(role), ResourceTenant, OpCreate)
			s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "role %s", role)
		}
	})
}

func (s *AuthorizerSuite) TestHasObjectPermission() {
	s.Run("same tenant passes", func() {
		err := s.authz.HasObjectPermission(s.principal(id.RoleDoctor), ResourcePatientRecord, OpRead, s.tenant)
		s.NoError(err)
	})

	s.Run("cross tenant reads as not found", func() {
		err := s.authz.HasObjectPermission(s.principal(id.RoleDoctor), ResourcePatientRecord, OpRead, s.other)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("role denial wins over tenancy denial", func() {
		// A patient probing staff in another tenant learns only that their
		// role cannot, not whether the object exists.
		err := s.authz.HasObjectPermission(s.principal(id.RolePatient), ResourceStaff, OpUpdate, s.other)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin crosses tenants", func() {
		err := s.authz.HasObjectPermission(s.principal(id.RolePlatformAdmin), ResourcePatientRecord, OpDelete, s.other)
		s.NoError(err)
	})
}

func (s *AuthorizerSuite) TestAppointmentScopeFor() {
	s.Run("admin sees all", func() {
		scope := s.authz.AppointmentScopeFor(s.principal(id.RolePlatformAdmin))
		s.True(scope.All)
	})

	s.Run("owner sees the whole tenant", func() {
		scope := s.authz.AppointmentScopeFor(s.principal(id.RoleTenantOwner))
		s.False(scope.All)
		s.Equal(s.tenant, scope.TenantID)
		s.True(scope.DoctorID.IsNil())
	})

	s.Run("doctor sees own schedule", func() {
		doctor := s.principal(id.RoleDoctor)
		scope := s.authz.AppointmentScopeFor(doctor)
		s.Equal(doctor.ID, scope.DoctorID)
		s.Equal(s.tenant, scope.TenantID)
	})

	s.Run("bound secretary sees the bound doctor's schedule", func() {
		doctorID := id.PrincipalID(id.New())
		sec := s.principal(id.RoleSecretary)
		sec.BoundDoctorID = doctorID
		scope := s.authz.AppointmentScopeFor(sec)
		s.Equal(doctorID, scope.DoctorID)
	})

	s.Run("unbound secretary sees nothing", func() {
		scope := s.authz.AppointmentScopeFor(s.principal(id.RoleSecretary))
		s.True(scope.Empty)
	})

	s.Run("patient sees own appointments", func() {
		patient := s.principal(id.RolePatient)
		scope := s.authz.AppointmentScopeFor(patient)
		s.Equal(patient.ID, scope.PatientID)
	})
}

func (s *AuthorizerSuite) TestPatientScopeFor() {
	s.Run("staff see the tenant", func() {
		scope := s.authz.PatientScopeFor(s.principal(id.RoleSecretary))
		s.Equal(s.tenant, scope.TenantID)
		s.True(scope.SelfOnly.IsNil())
	})

	s.Run("patient sees only self", func() {
		patient := s.principal(id.RolePatient)
		scope := s.authz.PatientScopeFor(patient)
		s.Equal(patient.ID, scope.SelfOnly)
	})

	s.Run("unknown role fails closed", func() {
		scope := s.authz.PatientScopeFor(id.Principal{ID: id.PrincipalID(id.New()), Role: id.Role("GHOST"), Verified: true})
		s.True(scope.Empty)
	})
}
