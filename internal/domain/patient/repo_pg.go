package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/db"
)

const (
	numberConstraint = "patient_number_key"
	qrConstraint     = "patient_qr_code_key"
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

func (r *repoPG) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('patient_number_seq')`).Scan(&n)
	return n, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	regs, err := json.Marshal(p.RegisteredHospitals)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, patient_number, qr_code, biodata, medical_history,
			emergency_contact, emergency_subscription, hmo, primary_hospital_id,
			registered_hospitals, access_level, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING qr_generated_at, created_at, updated_at`,
		p.ID, p.PatientNumber, p.QRCode, p.Biodata, p.MedicalHistory,
		p.EmergencyContact, p.EmergencySubscription, p.HMO, p.PrimaryHospitalID,
		regs, p.AccessLevel, p.Active, p.CreatedBy,
	).Scan(&p.QRGeneratedAt, &p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getBy(ctx, "id", id)
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Patient, error) {
	return r.getBy(ctx, "patient_number", number)
}

func (r *repoPG) GetByQRCode(ctx context.Context, code string) (*Patient, error) {
	return r.getBy(ctx, "qr_code", code)
}

func (r *repoPG) getBy(ctx context.Context, column string, value any) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+columns+` FROM patient WHERE `+column+` = $1`, value))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			biodata = $2, medical_history = $3, emergency_contact = $4,
			emergency_subscription = $5, hmo = $6, primary_hospital_id = $7,
			access_level = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Biodata, p.MedicalHistory, p.EmergencyContact,
		p.EmergencySubscription, p.HMO, p.PrimaryHospitalID, p.AccessLevel,
	).Scan(&p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient")
	}
	return nil
}

func (r *repoPG) AddRegistration(ctx context.Context, id uuid.UUID, reg Registration) error {
	entry, err := json.Marshal([]Registration{reg})
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			registered_hospitals = registered_hospitals || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1
		  AND NOT registered_hospitals @> jsonb_build_array(
		      jsonb_build_object('hospital_id', $3::text, 'active', true))`,
		id, entry, reg.HospitalID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("patient is already registered at this hospital")
	}
	return nil
}

func (r *repoPG) DeactivateRegistration(ctx context.Context, id, hospitalID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			registered_hospitals = (
				SELECT COALESCE(jsonb_agg(
					CASE WHEN e->>'hospital_id' = $2 AND (e->>'active')::boolean
					     THEN jsonb_set(e, '{active}', 'false'::jsonb)
					     ELSE e END
					ORDER BY ord), '[]'::jsonb)
				FROM jsonb_array_elements(registered_hospitals) WITH ORDINALITY AS t(e, ord)
			),
			updated_at = NOW()
		WHERE id = $1
		  AND registered_hospitals @> jsonb_build_array(
		      jsonb_build_object('hospital_id', $2::text, 'active', true))`,
		id, hospitalID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("hospital registration")
	}
	return nil
}

func (r *repoPG) ReplaceQRCode(ctx context.Context, id uuid.UUID, code string) (time.Time, error) {
	var at time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET qr_code = $2, qr_generated_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING qr_generated_at`, id, code).Scan(&at)
	return at, mapErr(err)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.HospitalID != uuid.Nil {
		where += fmt.Sprintf(` AND (primary_hospital_id = $%d OR registered_hospitals @> jsonb_build_array(
			jsonb_build_object('hospital_id', $%d::text, 'active', true)))`, idx, idx+1)
		args = append(args, f.HospitalID, f.HospitalID.String())
		idx += 2
	}
	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND (biodata->>'first_name' ILIKE $%d OR biodata->>'last_name' ILIKE $%d OR patient_number = $%d)`, idx, idx, idx+1)
		args = append(args, "%"+f.Search+"%", f.Search)
		idx += 2
	}
	if f.AccessLevel != "" {
		where += fmt.Sprintf(` AND access_level = $%d`, idx)
		args = append(args, f.AccessLevel)
		idx++
	}
	if f.ActiveOnly {
		where += ` AND active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM patient` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

const columns = `id, patient_number, qr_code, biodata, medical_history, emergency_contact,
	emergency_subscription, hmo, primary_hospital_id, registered_hospitals, access_level,
	active, created_by, qr_generated_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientNumber, &p.QRCode, &p.Biodata, &p.MedicalHistory,
		&p.EmergencyContact, &p.EmergencySubscription, &p.HMO, &p.PrimaryHospitalID,
		&p.RegisteredHospitals, &p.AccessLevel, &p.Active, &p.CreatedBy,
		&p.QRGeneratedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperr.NotFound("patient")
	case db.IsUniqueViolation(err, numberConstraint):
		return apperr.Conflict("patient number already issued")
	case db.IsUniqueViolation(err, qrConstraint):
		return apperr.Conflict("qr code already issued")
	}
	return err
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
