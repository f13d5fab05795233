package appointment

import (
	"context"
	"io"
	"time"
)

// Status values cross the wire in upper case and must round-trip unchanged.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// ClaimsSlot reports whether a booking in this status occupies its slot.
func (s Status) ClaimsSlot() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted:
		return true
	default:
		return false
	}
}

const (
	BookingTypeManual = "manual"
	BookingTypeAuto   = "auto"
)

type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"doctorName"`
	Specialty string `json:"specialty"`
	Active    bool   `json:"isActive"`
}

// Window is one weekly availability window declared by a doctor.
// DayOfWeek runs 1=Monday .. 7=Sunday; Start and End are "HH:MM" or "HH:MM:SS".
type Window struct {
	ID        string `json:"id"`
	DayOfWeek int    `json:"dayOfWeek"`
	Start     string `json:"startTime"`
	End       string `json:"endTime"`
	Active    bool   `json:"isActive"`
}

// BookedSlot is a (doctor, date, time) already claimed by somebody.
type BookedSlot struct {
	AppointmentID   string `json:"appointmentId"`
	Date            string `json:"date"` // YYYY-MM-DD
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"durationMinutes"`
	Status          Status `json:"status"`
}

type PatientInfo struct {
	Prefix      string `json:"prefix" validate:"required,max=20"`
	FirstName   string `json:"firstName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"required,max=100"`
	Gender      string `json:"gender" validate:"required"`
	DateOfBirth string `json:"dob" validate:"required,datetime=2006-01-02"`
	Nationality string `json:"nationality" validate:"required"`
	CitizenID   string `json:"citizenId,omitempty" validate:"omitempty,numeric,len=13"`
	Phone       string `json:"phone" validate:"required,numeric,min=9,max=10"`
	Email       string `json:"email" validate:"required,email"`
	Consent     bool   `json:"consent" validate:"eq=true"`
}

func (p PatientInfo) FullName() string {
	if p.Prefix == "" {
		return p.FirstName + " " + p.LastName
	}
	return p.Prefix + " " + p.FirstName + " " + p.LastName
}

// Requester identifies the authenticated user a request is made for.
type Requester struct {
	UserID string
	Token  string
}

// Attachment is forwarded opaquely; only Name and Size are inspected.
type Attachment struct {
	Name string
	Size int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}

type Request struct {
	Requester       Requester
	DoctorID        string
	Date            string // YYYY-MM-DD
	Time            string // HH:MM
	DurationMinutes int
	Symptoms        string
	BookingType     string
	Patient         PatientInfo
	Attachments     []Attachment
}

type Confirmation struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	QueueNumber   string    `json:"queueNumber,omitempty"`
	AppointmentAt time.Time `json:"appointmentAt"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *string
	Payload       []byte
	CreatedAt     time.Time
}
