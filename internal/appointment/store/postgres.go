package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docflow/internal/appointment/models"
	"docflow/internal/pii"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists appointments.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const appointmentColumns = `
	id, tenant_id, patient_id, doctor_id, status, reason, clinical_notes_cipher,
	starts_at, ends_at, created_at, updated_at
`

func (s *Postgres) Create(ctx context.Context, appt *models.Appointment) error {
	query := `
		INSERT INTO appointments
			(id, tenant_id, patient_id, doctor_id, status, reason,
			 clinical_notes_cipher, starts_at, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(appt.ID),
		uuid.UUID(appt.TenantID),
		uuid.UUID(appt.PatientID),
		uuid.UUID(appt.DoctorID),
		string(appt.Status),
		nullableString(appt.Reason),
		appt.ClinicalNotes.Ciphertext,
		appt.StartsAt,
		appt.EndsAt,
		appt.CreatedAt,
		appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`,
		uuid.UUID(apptID))
	appt, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return appt, err
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []any
	if !filter.TenantID.IsNil() {
		args = append(args, uuid.UUID(filter.TenantID))
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if !filter.DoctorID.IsNil() {
		args = append(args, uuid.UUID(filter.DoctorID))
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if !filter.PatientID.IsNil() {
		args = append(args, uuid.UUID(filter.PatientID))
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	query += ` ORDER BY starts_at`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// Update writes every mutable field. tenant_id, patient_id, and doctor_id
// are absent from the SET list on purpose: an appointment never changes
// hands, it gets cancelled and rebooked.
func (s *Postgres) Update(ctx context.Context, appt *models.Appointment) error {
	query := `
		UPDATE appointments SET
			status = $2, reason = $3, clinical_notes_cipher = $4,
			starts_at = $5, ends_at = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(appt.ID),
		string(appt.Status),
		nullableString(appt.Reason),
		appt.ClinicalNotes.Ciphertext,
		appt.StartsAt,
		appt.EndsAt,
		appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		appt      models.Appointment
		rawID     uuid.UUID
		tenantID  uuid.UUID
		patientID uuid.UUID
		doctorID  uuid.UUID
		status    string
		reason    sql.NullString
		cipher    []byte
	)
	if err := row.Scan(&rawID, &tenantID, &patientID, &doctorID, &status, &reason,
		&cipher, &appt.StartsAt, &appt.EndsAt, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
		return nil, err
	}
	appt.ID = id.AppointmentID(rawID)
	appt.TenantID = id.TenantID(tenantID)
	appt.PatientID = id.PatientID(patientID)
	appt.DoctorID = id.PrincipalID(doctorID)
	appt.Status = models.Status(status)
	appt.Reason = reason.String
	appt.ClinicalNotes = pii.Sealed{Ciphertext: cipher}
	return &appt, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
