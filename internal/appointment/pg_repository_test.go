package appointment

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgRepositoryDoctor(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	specialty := "Cardiology"

	mock.ExpectQuery("FROM doctors").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "specialty", "is_active"}).
			AddRow(id, "Dr. Somchai", &specialty, true))

	doc, err := repo.Doctor(context.Background(), id.String())
	require.NoError(t, err)
	assert.Equal(t, id.String(), doc.ID)
	assert.Equal(t, "Cardiology", doc.Specialty)
	assert.True(t, doc.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryDoctorRejectsMalformedID(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.Doctor(context.Background(), "42")
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestPgRepositoryAvailability(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM doctor_availability").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "day_of_week", "start", "end", "is_active"}).
			AddRow(int64(1), 2, "09:00", "12:00", true).
			AddRow(int64(2), 2, "13:00", "15:00", false))

	windows, err := repo.Availability(context.Background(), id.String())
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, Window{ID: "1", DayOfWeek: 2, Start: "09:00", End: "12:00", Active: true}, windows[0])
	assert.False(t, windows[1].Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryBookedSlots(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	apptID := uuid.New()

	mock.ExpectQuery("FROM appointments").
		WithArgs(id, "2025-06-10").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date", "time", "duration_minutes", "status"}).
			AddRow(apptID, "2025-06-10", "10:30", 30, StatusConfirmed))

	booked, err := repo.BookedSlots(context.Background(), id.String(), "2025-06-10")
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "10:30", booked[0].Time)
	assert.Equal(t, StatusConfirmed, booked[0].Status)
	assert.Equal(t, apptID.String(), booked[0].AppointmentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctorID := uuid.New()
	at := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), doctorID, "user-7", "2025-06-10", "10:00", 60, "fever").
		WillReturnRows(pgxmock.NewRows([]string{"status", "appointment_datetime"}).AddRow(StatusPending, at))
	mock.ExpectQuery("SELECT count").
		WithArgs(doctorID, "2025-06-10").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("INSERT INTO patient_booking_info").
		WithArgs(pgxmock.AnyArg(), "Ms.", "Ploy", "Srisuk", "female", "1990-01-31",
			"Thai", pgxmock.AnyArg(), "0812345678", "ploy@example.com", "fever", BookingTypeManual, "20250610-003").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointment_attachments").
		WithArgs(pgxmock.AnyArg(), "xray.png", int64(4), []byte("scan")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventAppointmentRequested, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	conf, err := repo.CreateAppointment(context.Background(), Request{
		Requester:       Requester{UserID: "user-7"},
		DoctorID:        doctorID.String(),
		Date:            "2025-06-10",
		Time:            "10:00",
		DurationMinutes: 60,
		Symptoms:        "fever",
		BookingType:     BookingTypeManual,
		Patient: PatientInfo{
			Prefix: "Ms.", FirstName: "Ploy", LastName: "Srisuk", Gender: "female",
			DateOfBirth: "1990-01-31", Nationality: "Thai", Phone: "0812345678",
			Email: "ploy@example.com", Consent: true,
		},
		Attachments: []Attachment{{
			Name: "xray.png",
			Size: 4,
			Open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader([]byte("scan"))), nil
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, conf.Status)
	assert.Equal(t, "20250610-003", conf.QueueNumber)
	assert.True(t, conf.AppointmentAt.Equal(at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateAppointmentMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	_, err := repo.CreateAppointment(context.Background(), Request{
		DoctorID: doctorID.String(),
		Date:     "2025-06-10",
		Time:     "10:00",
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusClaimsSlot(t *testing.T) {
	assert.True(t, StatusPending.ClaimsSlot())
	assert.True(t, StatusConfirmed.ClaimsSlot())
	assert.True(t, StatusCompleted.ClaimsSlot())
	assert.False(t, StatusCancelled.ClaimsSlot())
	assert.False(t, StatusRejected.ClaimsSlot())
}
