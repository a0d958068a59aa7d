package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docflow/internal/identity/models"
	"docflow/internal/platform/postgres"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists accounts, doctor profiles, and verification codes.
// Email uniqueness (uniq_account_email) and code uniqueness
// (uniq_verification_code) live in the schema.
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

func (s *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts
			(id, tenant_id, role, email, full_name, gender, verified, active,
			 bound_doctor_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(account.ID),
		nullableUUID(uuid.UUID(account.TenantID)),
		string(account.Role),
		models.NormalizeEmail(account.Email),
		account.FullName,
		nullableString(string(account.Gender)),
		account.Verified,
		account.Active,
		nullableUUID(uuid.UUID(account.BoundDoctorID)),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "uniq_account_email") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `
	id, tenant_id, role, email, full_name, gender, verified, active,
	bound_doctor_id, created_at, updated_at
`

func (s *Postgres) FindAccountByID(ctx context.Context, accountID id.PrincipalID) (*models.Account, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		uuid.UUID(accountID))
	return scanAccountRow(row)
}

func (s *Postgres) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		models.NormalizeEmail(email))
	return scanAccountRow(row)
}

// UpdateAccount writes every mutable field. tenant_id is absent from the SET
// list on purpose: the tenant reference never silently changes.
func (s *Postgres) UpdateAccount(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts SET
			role = $2, email = $3, full_name = $4, gender = $5, verified = $6,
			active = $7, bound_doctor_id = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(account.ID),
		string(account.Role),
		models.NormalizeEmail(account.Email),
		account.FullName,
		nullableString(string(account.Gender)),
		account.Verified,
		account.Active,
		nullableUUID(uuid.UUID(account.BoundDoctorID)),
		account.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "uniq_account_email") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListStaff(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE role IN ('TENANT_OWNER', 'SECRETARY', 'DOCTOR')
	`
	args := []any{}
	if !tenantID.IsNil() {
		query += ` AND tenant_id = $1`
		args = append(args, uuid.UUID(tenantID))
	}
	query += ` ORDER BY full_name`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *Postgres) FindFirstDoctor(ctx context.Context, tenantID id.TenantID) (*models.Account, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE role = 'DOCTOR' AND tenant_id = $1
		 ORDER BY full_name
		 LIMIT 1`,
		uuid.UUID(tenantID))
	return scanAccountRow(row)
}

func (s *Postgres) UpsertDoctorProfile(ctx context.Context, profile *models.DoctorProfile) error {
	query := `
		INSERT INTO doctor_profiles (account_id, license_id, specialty)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id)
		DO UPDATE SET license_id = EXCLUDED.license_id, specialty = EXCLUDED.specialty
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(profile.AccountID), profile.LicenseID, profile.Specialty); err != nil {
		return fmt.Errorf("upsert doctor profile: %w", err)
	}
	return nil
}

func (s *Postgres) FindDoctorProfile(ctx context.Context, accountID id.PrincipalID) (*models.DoctorProfile, error) {
	var (
		profile models.DoctorProfile
		rawID   uuid.UUID
	)
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT account_id, license_id, specialty FROM doctor_profiles WHERE account_id = $1`,
		uuid.UUID(accountID)).Scan(&rawID, &profile.LicenseID, &profile.Specialty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find doctor profile: %w", err)
	}
	profile.AccountID = id.PrincipalID(rawID)
	return &profile, nil
}

func (s *Postgres) CreateVerificationCode(ctx context.Context, code *models.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (code, account_id, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		code.Code, uuid.UUID(code.AccountID), code.Used, code.ExpiresAt, code.CreatedAt)
	if postgres.IsUniqueViolation(err, "uniq_verification_code") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert verification code: %w", err)
	}
	return nil
}

func (s *Postgres) FindUnusedCode(ctx context.Context, code string) (*models.VerificationCode, error) {
	var (
		vc     models.VerificationCode
		rawID  uuid.UUID
		usedAt sql.NullTime
	)
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT code, account_id, used, used_at, expires_at, created_at
		 FROM verification_codes
		 WHERE code = $1 AND NOT used`,
		code).Scan(&vc.Code, &rawID, &vc.Used, &usedAt, &vc.ExpiresAt, &vc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find verification code: %w", err)
	}
	vc.AccountID = id.PrincipalID(rawID)
	if usedAt.Valid {
		vc.UsedAt = &usedAt.Time
	}
	return &vc, nil
}

// MarkCodeUsed consumes the code atomically: the WHERE NOT used clause makes
// concurrent consumers resolve to exactly one winner.
func (s *Postgres) MarkCodeUsed(ctx context.Context, code string, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE verification_codes SET used = TRUE, used_at = $2 WHERE code = $1 AND NOT used`,
		code, now)
	if err != nil {
		return fmt.Errorf("mark verification code used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark verification code used: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func scanAccountRow(row *sql.Row) (*models.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account  models.Account
		rawID    uuid.UUID
		tenantID sql.Null[uuid.UUID]
		role     string
		gender   sql.NullString
		boundID  sql.Null[uuid.UUID]
	)
	if err := row.Scan(&rawID, &tenantID, &role, &account.Email, &account.FullName,
		&gender, &account.Verified, &account.Active, &boundID,
		&account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err
	}
	account.ID = id.PrincipalID(rawID)
	account.Role = id.Role(role)
	account.Gender = models.Gender(gender.String)
	if tenantID.Valid {
		account.TenantID = id.TenantID(tenantID.V)
	}
	if boundID.Valid {
		account.BoundDoctorID = id.PrincipalID(boundID.V)
	}
	return &account, nil
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
