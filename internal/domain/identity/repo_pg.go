package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/db"
)

const (
	emailConstraint   = "app_user_email_key"
	patientConstraint = "app_user_patient_key"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO app_user (id, email, password_hash, role, first_name, last_name,
			phone, hospital_id, patient_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.FirstName, u.LastName,
		nullable(u.Phone), u.HospitalID, u.PatientID, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+columns+` FROM app_user WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+columns+` FROM app_user WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, `UPDATE app_user SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (r *repoPG) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, `UPDATE app_user SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

func (r *repoPG) TouchLogin(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE app_user SET last_login_at = NOW() WHERE id = $1`, id)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.Role != "" {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, string(f.Role))
		idx++
	}
	if f.HospitalID != uuid.Nil {
		where += fmt.Sprintf(` AND hospital_id = $%d`, idx)
		args = append(args, f.HospitalID)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, *f.Active)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND (email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM app_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM app_user` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

const columns = `id, email, password_hash, role, first_name, last_name, COALESCE(phone, ''),
	hospital_id, patient_id, active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.FirstName, &u.LastName, &u.Phone,
		&u.HospitalID, &u.PatientID, &u.Active, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = access.Role(role)
	return &u, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperr.NotFound("user")
	case db.IsUniqueViolation(err, emailConstraint):
		return apperr.Conflict("a user with this email already exists")
	case db.IsUniqueViolation(err, patientConstraint):
		return apperr.Conflict("the patient already has an account")
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
