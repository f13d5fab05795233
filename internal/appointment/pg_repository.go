package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the repository uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

var _ Backend = (*PgRepository)(nil)

// PgRepository serves the booking flow straight from the scheduling database.
type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var id uuid.UUID
	var specialty *string

	err := row.Scan(
		&id,
		&d.Name,
		&specialty,
		&d.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.ID = id.String()
	if specialty != nil {
		d.Specialty = *specialty
	}
	return &d, nil
}

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	var id int64

	if err := row.Scan(&id, &w.DayOfWeek, &w.Start, &w.End, &w.Active); err != nil {
		return nil, err
	}
	w.ID = fmt.Sprint(id)
	return &w, nil
}

func scanBookedSlot(row pgx.Row) (*BookedSlot, error) {
	var b BookedSlot
	var id uuid.UUID

	if err := row.Scan(&id, &b.Date, &b.Time, &b.DurationMinutes, &b.Status); err != nil {
		return nil, err
	}
	b.AppointmentID = id.String()
	return &b, nil
}

// Interface methods

func (r *PgRepository) Doctor(ctx context.Context, id string) (*Doctor, error) {
	doctorID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrDoctorNotFound
	}

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, is_active
		FROM doctors
		WHERE id = $1
	`, doctorID)
	return scanDoctor(row)
}

func (r *PgRepository) Availability(ctx context.Context, doctorID string) ([]Window, error) {
	id, err := uuid.Parse(doctorID)
	if err != nil {
		return nil, ErrDoctorNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_active
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	result := []Window{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		result = append(result, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) BookedSlots(ctx context.Context, doctorID, date string) ([]BookedSlot, error) {
	id, err := uuid.Parse(doctorID)
	if err != nil {
		return nil, ErrDoctorNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, to_char(appointment_datetime, 'YYYY-MM-DD'), to_char(appointment_datetime, 'HH24:MI'),
		       duration_minutes, status
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_datetime::date = $2::date
		ORDER BY appointment_datetime
	`, id, date)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}
	defer rows.Close()

	result := []BookedSlot{}
	for rows.Next() {
		b, err := scanBookedSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booked slot: %w", err)
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateAppointment inserts a pending appointment together with the patient
// booking info and attachments. The partial unique index on
// (doctor_id, appointment_datetime) is the authoritative double-booking check.
func (r *PgRepository) CreateAppointment(ctx context.Context, req Request) (*Confirmation, error) {
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, ErrDoctorNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	id := uuid.New()
	var status Status
	var at time.Time

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_ref, appointment_datetime, duration_minutes, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date + $5::time, $6, 'PENDING', $7, now(), now())
		RETURNING status, appointment_datetime
	`, id, doctorID, req.Requester.UserID, req.Date, req.Time, req.DurationMinutes, req.Symptoms).Scan(&status, &at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	var position int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_datetime::date = $2::date
		  AND status IN ('PENDING', 'CONFIRMED', 'COMPLETED')
	`, doctorID, req.Date).Scan(&position)
	if err != nil {
		return nil, fmt.Errorf("count queue position: %w", err)
	}
	queue := queueNumber(req.Date, position)

	p := req.Patient
	_, err = tx.Exec(ctx, `
		INSERT INTO patient_booking_info (appointment_id, prefix, first_name, last_name, gender, date_of_birth,
		                                  nationality, citizen_id, phone, email, symptoms, booking_type, queue_number)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13)
	`, id, p.Prefix, p.FirstName, p.LastName, p.Gender, p.DateOfBirth,
		p.Nationality, nullableString(p.CitizenID), p.Phone, p.Email, req.Symptoms, req.BookingType, queue)
	if err != nil {
		return nil, fmt.Errorf("insert patient booking info: %w", err)
	}

	for _, a := range req.Attachments {
		content, err := readAttachment(ctx, a)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO appointment_attachments (appointment_id, file_name, size_bytes, content)
			VALUES ($1, $2, $3, $4)
		`, id, a.Name, a.Size, content)
		if err != nil {
			return nil, fmt.Errorf("insert attachment %q: %w", a.Name, err)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"doctor_id":   doctorID.String(),
		"date":        req.Date,
		"time":        req.Time,
		"attachments": len(req.Attachments),
	})
	apptID := id.String()
	if err := r.insertEvent(ctx, tx, EventLog{
		EventType:     EventAppointmentRequested,
		AppointmentID: &apptID,
		Payload:       payload,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	return &Confirmation{
		ID:            apptID,
		Status:        status,
		QueueNumber:   queue,
		AppointmentAt: at,
	}, nil
}

func (r *PgRepository) insertEvent(ctx context.Context, tx pgx.Tx, ev EventLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func readAttachment(ctx context.Context, a Attachment) ([]byte, error) {
	if a.Open == nil {
		return nil, nil
	}
	rc, err := a.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open attachment %q: %w", a.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read attachment %q: %w", a.Name, err)
	}
	return data, nil
}

// queueNumber renders the per-doctor, per-day position, e.g. 20250610-003.
func queueNumber(date string, position int) string {
	return fmt.Sprintf("%s-%03d", strings.ReplaceAll(date, "-", ""), position)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
