package appointment

import (
	"context"
	"errors"
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrSlotConflict   = errors.New("slot has already been taken")
)

const EventAppointmentRequested = "APPOINTMENT_REQUESTED"

// DoctorDirectory looks up bookable doctors.
type DoctorDirectory interface {
	Doctor(ctx context.Context, id string) (*Doctor, error)
}

// AvailabilityService returns a doctor's declared weekly windows.
type AvailabilityService interface {
	Availability(ctx context.Context, doctorID string) ([]Window, error)
}

// SlotLedger lists slots already claimed for a doctor on a date (YYYY-MM-DD).
type SlotLedger interface {
	BookedSlots(ctx context.Context, doctorID, date string) ([]BookedSlot, error)
}

// Creator submits a finished booking. It returns ErrSlotConflict when the
// slot was claimed by someone else first.
type Creator interface {
	CreateAppointment(ctx context.Context, req Request) (*Confirmation, error)
}

// Backend is everything the booking flow needs from the scheduling system.
type Backend interface {
	DoctorDirectory
	AvailabilityService
	SlotLedger
	Creator
}
