package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docflow/internal/patient/models"
	"docflow/internal/pii"
	"docflow/internal/platform/postgres"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists patient records. Per-tenant national ID uniqueness is
// enforced by uniq_patient_national_id_per_tenant on (tenant_id, national_id_hash).
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

const patientColumns = `
	id, tenant_id, account_id, full_name, national_id_cipher, national_id_hash,
	phone, sex, birth_date, created_at, updated_at
`

func (s *Postgres) Create(ctx context.Context, rec *models.PatientRecord) error {
	query := `
		INSERT INTO patient_records
			(id, tenant_id, account_id, full_name, national_id_cipher,
			 national_id_hash, phone, sex, birth_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.TenantID),
		nullableUUID(uuid.UUID(rec.AccountID)),
		rec.FullName,
		rec.NationalID.Ciphertext,
		nullableString(rec.NationalID.Hash),
		nullableString(rec.Phone),
		nullableString(string(rec.Sex)),
		rec.BirthDate,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "uniq_patient_national_id_per_tenant") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert patient record: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, patientID id.PatientID) (*models.PatientRecord, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patient_records WHERE id = $1`,
		uuid.UUID(patientID))
	return scanPatientRow(row)
}

// FindByTenantAndHash resolves a digest back to the record it belongs to,
// within one tenant only.
func (s *Postgres) FindByTenantAndHash(ctx context.Context, tenantID id.TenantID, hash string) (*models.PatientRecord, error) {
	if hash == "" {
		return nil, sentinel.ErrNotFound
	}
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patient_records WHERE tenant_id = $1 AND national_id_hash = $2`,
		uuid.UUID(tenantID), hash)
	return scanPatientRow(row)
}

func (s *Postgres) FindByAccountID(ctx context.Context, accountID id.PrincipalID) (*models.PatientRecord, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patient_records WHERE account_id = $1`,
		uuid.UUID(accountID))
	return scanPatientRow(row)
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.PatientRecord, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_records WHERE 1=1`
	var args []any
	if !filter.TenantID.IsNil() {
		args = append(args, uuid.UUID(filter.TenantID))
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if !filter.AccountID.IsNil() {
		args = append(args, uuid.UUID(filter.AccountID))
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	query += ` ORDER BY full_name`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	defer rows.Close()

	var out []*models.PatientRecord
	for rows.Next() {
		rec, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update writes every mutable field. tenant_id is absent from the SET list
// on purpose: records never move between tenants.
func (s *Postgres) Update(ctx context.Context, rec *models.PatientRecord) error {
	query := `
		UPDATE patient_records SET
			account_id = $2, full_name = $3, national_id_cipher = $4,
			national_id_hash = $5, phone = $6, sex = $7, birth_date = $8,
			updated_at = $9
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		nullableUUID(uuid.UUID(rec.AccountID)),
		rec.FullName,
		rec.NationalID.Ciphertext,
		nullableString(rec.NationalID.Hash),
		nullableString(rec.Phone),
		nullableString(string(rec.Sex)),
		rec.BirthDate,
		rec.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "uniq_patient_national_id_per_tenant") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("update patient record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update patient record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, patientID id.PatientID) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM patient_records WHERE id = $1`, uuid.UUID(patientID))
	if err != nil {
		return fmt.Errorf("delete patient record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete patient record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanPatientRow(row *sql.Row) (*models.PatientRecord, error) {
	rec, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*models.PatientRecord, error) {
	var (
		rec       models.PatientRecord
		rawID     uuid.UUID
		tenantID  uuid.UUID
		accountID sql.Null[uuid.UUID]
		cipher    []byte
		hash      sql.NullString
		phone     sql.NullString
		sex       sql.NullString
		birth     sql.NullTime
	)
	if err := row.Scan(&rawID, &tenantID, &accountID, &rec.FullName, &cipher, &hash,
		&phone, &sex, &birth, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ID = id.PatientID(rawID)
	rec.TenantID = id.TenantID(tenantID)
	if accountID.Valid {
		rec.AccountID = id.PrincipalID(accountID.V)
	}
	rec.NationalID = pii.Sealed{Ciphertext: cipher, Hash: hash.String}
	rec.Phone = phone.String
	rec.Sex = models.Sex(sex.String)
	if birth.Valid {
		t := birth.Time.UTC().Truncate(24 * time.Hour)
		rec.BirthDate = &t
	}
	return &rec, nil
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
