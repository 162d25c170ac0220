package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// activeUniqueIndex is the partial unique index that enforces one active
// template per (doctor, day, facility). See migrations/001_availability.sql.
const activeUniqueIndex = "availability_template_active_uniq"

const pgUniqueViolation = "23505"

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

const templateCols = `t.id, t.doctor_id, t.facility_id, t.day_of_week, t.start_time, t.end_time,
	t.slot_duration, t.max_patients, t.department, t.is_active, t.effective_from, t.effective_to,
	t.notes, t.created_at, t.updated_at, p.first_name, p.last_name`

const templateFrom = ` FROM availability_template t LEFT JOIN practitioner p ON p.id = t.doctor_id`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var (
		t                   Template
		start, end          pgtype.Time
		from, to            pgtype.Date
		firstName, lastName *string
	)
	err := row.Scan(&t.ID, &t.DoctorID, &t.FacilityID, &t.DayOfWeek, &start, &end,
		&t.SlotDuration, &t.MaxPatients, &t.Department, &t.IsActive, &from, &to,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt, &firstName, &lastName)
	if err != nil {
		return nil, err
	}
	t.StartTime = clockFromPG(start)
	t.EndTime = clockFromPG(end)
	t.EffectiveFrom = dateFromPG(from)
	t.EffectiveTo = dateFromPG(to)
	t.Doctor = &DoctorRef{ID: t.DoctorID, FirstName: strVal(firstName), LastName: strVal(lastName)}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO availability_template (id, doctor_id, facility_id, day_of_week, start_time, end_time,
			slot_duration, max_patients, department, is_active, effective_from, effective_to, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		t.ID, t.DoctorID, t.FacilityID, t.DayOfWeek, clockToPG(t.StartTime), clockToPG(t.EndTime),
		t.SlotDuration, t.MaxPatients, t.Department, t.IsActive, dateToPG(t.EffectiveFrom), dateToPG(t.EffectiveTo),
		t.Notes).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return r.mapWriteErr("create availability template", t, err)
	}
	return nil
}

func (r *templateRepoPG) GetByID(ctx context.Context, facilityID, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateCols+templateFrom+` WHERE t.id = $1 AND t.facility_id = $2`, id, facilityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, storeErr("get availability template", err)
}

func (r *templateRepoPG) FindActive(ctx context.Context, facilityID, doctorID uuid.UUID, day int) (*Template, error) {
	t, err := r.scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateCols+templateFrom+`
		WHERE t.facility_id = $1 AND t.doctor_id = $2 AND t.day_of_week = $3 AND t.is_active`,
		facilityID, doctorID, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, storeErr("find active availability template", err)
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE availability_template SET doctor_id=$3, day_of_week=$4, start_time=$5, end_time=$6,
			slot_duration=$7, max_patients=$8, department=$9, is_active=$10,
			effective_from=$11, effective_to=$12, notes=$13, updated_at=NOW()
		WHERE id = $1 AND facility_id = $2
		RETURNING updated_at`,
		t.ID, t.FacilityID, t.DoctorID, t.DayOfWeek, clockToPG(t.StartTime), clockToPG(t.EndTime),
		t.SlotDuration, t.MaxPatients, t.Department, t.IsActive,
		dateToPG(t.EffectiveFrom), dateToPG(t.EffectiveTo), t.Notes).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return r.mapWriteErr("update availability template", t, err)
	}
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, facilityID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_template WHERE id = $1 AND facility_id = $2`, id, facilityID)
	if err != nil {
		return storeErr("delete availability template", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *templateRepoPG) List(ctx context.Context, facilityID uuid.UUID, f ListFilter) ([]*Template, error) {
	query := `SELECT ` + templateCols + templateFrom + ` WHERE t.facility_id = $1`
	args := []interface{}{facilityID}
	idx := 2

	if f.DoctorID != nil {
		query += fmt.Sprintf(` AND t.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.DayOfWeek != nil {
		query += fmt.Sprintf(` AND t.day_of_week = $%d`, idx)
		args = append(args, *f.DayOfWeek)
		idx++
	}
	if f.Department != nil {
		query += fmt.Sprintf(` AND t.department = $%d`, idx)
		args = append(args, *f.Department)
		idx++
	}
	if !f.IncludeInactive {
		query += ` AND t.is_active`
	}
	query += ` ORDER BY t.day_of_week ASC, t.start_time ASC, t.created_at ASC, t.id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list availability templates", err)
	}
	defer rows.Close()
	items := []*Template{}
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, storeErr("scan availability template", err)
		}
		items = append(items, t)
	}
	return items, storeErr("list availability templates", rows.Err())
}

func (r *templateRepoPG) ListDoctors(ctx context.Context, facilityID uuid.UUID) ([]DoctorRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT t.doctor_id, COALESCE(p.first_name, ''), COALESCE(p.last_name, '')`+templateFrom+`
		WHERE t.facility_id = $1 AND t.is_active
		ORDER BY 3, 2, 1`, facilityID)
	if err != nil {
		return nil, storeErr("list doctors with availability", err)
	}
	defer rows.Close()
	doctors := []DoctorRef{}
	for rows.Next() {
		var d DoctorRef
		if err := rows.Scan(&d.ID, &d.FirstName, &d.LastName); err != nil {
			return nil, storeErr("scan doctor", err)
		}
		doctors = append(doctors, d)
	}
	return doctors, storeErr("list doctors with availability", rows.Err())
}

// mapWriteErr turns a violation of the active-template index into the same
// ConflictError the service raises, so concurrent writers get a business
// error rather than a raw driver error.
func (r *templateRepoPG) mapWriteErr(op string, t *Template, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeUniqueIndex {
		return &ConflictError{DoctorID: t.DoctorID, FacilityID: t.FacilityID, Day: t.Weekday()}
	}
	return storeErr(op, err)
}

func clockToPG(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: c.Duration().Microseconds(), Valid: true}
}

func clockFromPG(t pgtype.Time) Clock {
	return Clock(t.Microseconds / 60_000_000)
}

func dateToPG(d *Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time, Valid: true}
}

func dateFromPG(d pgtype.Date) *Date {
	if !d.Valid {
		return nil
	}
	v := NewDate(d.Time)
	return &v
}
