package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const doctorColumns = `
	d.id, d.user_id, u.name, u.email, d.specialty, d.bio, d.available,
	d.start_time, d.end_time, d.created_at, d.updated_at`

const appointmentColumns = `
	id, patient_id, doctor_id, appointment_type_id, date_time, end_time,
	reason, status, created_at, updated_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Email,
		&d.Specialty,
		&d.Bio,
		&d.Available,
		&d.StartTime,
		&d.EndTime,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&t.Name,
		&t.DurationMinutes,
		&t.Price,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentTypeNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AppointmentTypeID,
		&a.DateTime,
		&a.EndTime,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	err := row.Scan(
		&d.ID,
		&d.PatientID,
		&d.DoctorID,
		&d.AppointmentTypeID,
		&d.DateTime,
		&d.EndTime,
		&d.Reason,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DoctorName,
		&d.DoctorSpecialty,
		&d.PatientName,
		&d.PatientEmail,
		&d.AppointmentTypeName,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectRows[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func listBooked(ctx context.Context, q querier, doctorID uuid.UUID, from, before time.Time) ([]BookedRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT date_time, end_time
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'CANCELLED'
		  AND date_time >= $2
		  AND date_time < $3
		ORDER BY date_time
	`, doctorID, from, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookedRecord
	for rows.Next() {
		var b BookedRecord
		if err := rows.Scan(&b.DateTime, &b.EndTime); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func insertEvent(ctx context.Context, q querier, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isContention reports Postgres errors that mean another writer won the race.
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns a user search term into an ILIKE pattern matching it
// anywhere, with LIKE wildcards in the term matched literally.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// Interface methods

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		ORDER BY u.name
	`)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanDoctor)
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.user_id = $1
	`, userID)
	return scanDoctor(row)
}

func (r *PgRepository) UpdateDoctorSettings(ctx context.Context, doctorID uuid.UUID, startTime, endTime string, available bool) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		WITH d AS (
			UPDATE doctors
			SET start_time = $2,
			    end_time = $3,
			    available = $4,
			    updated_at = now()
			WHERE id = $1
			RETURNING *
		)
		SELECT `+doctorColumns+`
		FROM d
		JOIN users u ON u.id = d.user_id
	`, doctorID, startTime, endTime, available)
	return scanDoctor(row)
}

func (r *PgRepository) ListAppointmentTypes(ctx context.Context, doctorID uuid.UUID) ([]AppointmentType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, name, duration_minutes, price, created_at
		FROM appointment_types
		WHERE doctor_id = $1
		ORDER BY duration_minutes ASC, name ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanAppointmentType)
}

func (r *PgRepository) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, name, duration_minutes, price, created_at
		FROM appointment_types
		WHERE id = $1
	`, id)
	return scanAppointmentType(row)
}

func (r *PgRepository) ListNonCancelledAppointments(ctx context.Context, doctorID uuid.UUID, from, before time.Time) ([]BookedRecord, error) {
	return listBooked(ctx, r.pool, doctorID, from, before)
}

func (r *PgRepository) WithinBookingTx(ctx context.Context, fn func(tx BookingTx) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&pgBookingTx{tx: tx})
	})
	if err != nil && isContention(err) {
		return fmt.Errorf("%w: %v", ErrSlotConflict, err)
	}
	return err
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

const detailSelect = `
	SELECT a.id, a.patient_id, a.doctor_id, a.appointment_type_id, a.date_time, a.end_time,
	       a.reason, a.status, a.created_at, a.updated_at,
	       du.name, d.specialty, pu.name, pu.email, t.name
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN users pu ON pu.id = a.patient_id
	LEFT JOIN appointment_types t ON t.id = a.appointment_type_id`

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE a.patient_id = $1
		ORDER BY a.date_time ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanAppointmentDetail)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE a.doctor_id = $1
		ORDER BY a.date_time ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanAppointmentDetail)
}

func (r *PgRepository) FindStalePending(ctx context.Context, startedBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND date_time < $1
		ORDER BY date_time
	`, startedBefore)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanAppointment)
}

func (r *PgRepository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats

	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE role = 'DOCTOR'),
		       count(*) FILTER (WHERE role = 'PATIENT')
		FROM users
	`).Scan(&s.Users.Total, &s.Users.Doctors, &s.Users.Patients)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'PENDING'),
		       count(*) FILTER (WHERE status = 'CONFIRMED'),
		       count(*) FILTER (WHERE status = 'COMPLETED'),
		       count(*) FILTER (WHERE status = 'CANCELLED')
		FROM appointments
	`).Scan(
		&s.Appointments.Total,
		&s.Appointments.Pending,
		&s.Appointments.Confirmed,
		&s.Appointments.Completed,
		&s.Appointments.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	return &s, nil
}

func (r *PgRepository) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	pattern := ""
	if f.Search != "" {
		pattern = containsPattern(f.Search)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE ($1::text = '' OR role = $1)
		  AND ($2::text = '' OR name ILIKE $2 OR email ILIKE $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, string(f.Role), pattern, f.Limit)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanUser)
}

func (r *PgRepository) PromoteToDoctor(ctx context.Context, userID uuid.UUID, specialty string) (*Doctor, error) {
	var doc *Doctor
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var role Role
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if role == RoleDoctor {
			return ErrAlreadyDoctor
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET role = 'DOCTOR', updated_at = now() WHERE id = $1
		`, userID); err != nil {
			return fmt.Errorf("update role: %w", err)
		}

		row := tx.QueryRow(ctx, `
			WITH d AS (
				INSERT INTO doctors (id, user_id, specialty, available, created_at, updated_at)
				VALUES ($1, $2, $3, TRUE, now(), now())
				RETURNING *
			)
			SELECT `+doctorColumns+`
			FROM d
			JOIN users u ON u.id = d.user_id
		`, uuid.New(), userID, specialty)
		doc, err = scanDoctor(row)
		if isUniqueViolation(err) {
			// a doctor profile left behind from an earlier demotion
			return ErrAlreadyDoctor
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, r.pool, ev)
}

type pgBookingTx struct {
	tx pgx.Tx
}

func (t *pgBookingTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doctorID.String())
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (t *pgBookingTx) ListNonCancelledAppointments(ctx context.Context, doctorID uuid.UUID, from, before time.Time) ([]BookedRecord, error) {
	return listBooked(ctx, t.tx, doctorID, from, before)
}

func (t *pgBookingTx) InsertAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_type_id, date_time, end_time, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), in.PatientID, in.DoctorID, in.AppointmentTypeID, in.DateTime, in.EndTime, in.Reason)

	return scanAppointment(row)
}

func (t *pgBookingTx) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, t.tx, ev)
}
