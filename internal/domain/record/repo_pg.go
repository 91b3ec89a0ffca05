package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/db"
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

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record (id, patient_id, hospital_id, created_by, visit_info,
			vital_signs, assessment, treatment, status, is_emergency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.HospitalID, rec.CreatedBy, rec.VisitInfo,
		rec.VitalSigns, rec.Assessment, rec.Treatment, rec.Status, rec.IsEmergency,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+columns+` FROM medical_record WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

// Apply turns each mutation into a single UPDATE. Sub-list appends use
// jsonb concatenation so concurrent appends never overwrite each other.
func (r *repoPG) Apply(ctx context.Context, id uuid.UUID, m Mutation) (*Record, error) {
	var (
		set  string
		args = []any{id}
		cond string
	)
	switch m := m.(type) {
	case ReplaceVitalSigns:
		set, args = `vital_signs = $2`, append(args, m.VitalSigns)
	case ReplaceAssessment:
		set, args = `assessment = $2`, append(args, m.Assessment)
	case ReplaceTreatment:
		set, args = `treatment = $2`, append(args, m.Treatment)
	case ReplaceDischarge:
		set, args = `discharge = $2`, append(args, m.Discharge)
	case AppendLab:
		set, args = `labs = labs || $2::jsonb`, append(args, one(m.Lab))
	case AppendImaging:
		set, args = `imaging = imaging || $2::jsonb`, append(args, one(m.Imaging))
	case AppendNursingNote:
		set, args = `nursing_notes = nursing_notes || $2::jsonb`, append(args, one(m.Note))
	case SetStatus:
		set, cond, args = `status = $2`, ` AND status = $3`, append(args, m.To, m.From)
	case Archive:
		set, cond, args = `status = $2`, ` AND status = $3`, append(args, StatusArchived, m.From)
	default:
		return nil, fmt.Errorf("unsupported mutation %T", m)
	}

	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`UPDATE medical_record SET `+set+`, updated_at = NOW() WHERE id = $1`+cond+` RETURNING `+columns,
		args...))
	if err != nil {
		if cond != "" && db.IsNoRows(err) {
			return nil, apperr.Conflict("record status changed concurrently")
		}
		return nil, mapErr(err)
	}
	return rec, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	add := func(clause string, v any) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.HospitalID != uuid.Nil {
		add(` AND hospital_id = $%d`, f.HospitalID)
	}
	if f.PatientScope != uuid.Nil {
		add(` AND patient_id = $%d`, f.PatientScope)
	}
	if f.PatientID != uuid.Nil {
		add(` AND patient_id = $%d`, f.PatientID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.IsEmergency != nil {
		add(` AND is_emergency = $%d`, *f.IsEmergency)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM medical_record` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collect(rows)
	return out, total, err
}

func (r *repoPG) Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+columns+` FROM medical_record
		WHERE patient_id = $1 AND status <> 'archived'
		ORDER BY COALESCE((visit_info->>'visit_date')::timestamptz, created_at) DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

const columns = `id, patient_id, hospital_id, created_by, visit_info, vital_signs, assessment,
	treatment, labs, imaging, nursing_notes, discharge, status, is_emergency, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.HospitalID, &rec.CreatedBy, &rec.VisitInfo,
		&rec.VitalSigns, &rec.Assessment, &rec.Treatment, &rec.Labs, &rec.Imaging,
		&rec.NursingNotes, &rec.Discharge, &rec.Status, &rec.IsEmergency, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collect(rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// one encodes v as a one-element JSON array for jsonb concatenation.
func one(v any) []byte {
	b, _ := json.Marshal([]any{v})
	return b
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperr.NotFound("medical record")
	}
	return err
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
