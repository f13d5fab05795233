package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

var resolverTracer = otel.Tracer("booking/slots")

var (
	// ErrAvailabilityUnavailable means the resolver could not load availability.
	// It is retryable and distinct from "no free slots".
	ErrAvailabilityUnavailable = errors.New("availability unavailable")
	ErrDateNotBookable         = errors.New("only dates after today can be booked")
)

// UnavailableError wraps the upstream failure behind ErrAvailabilityUnavailable.
type UnavailableError struct {
	DoctorID string
	Date     string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("availability unavailable for doctor %s on %s: %v", e.DoctorID, e.Date, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrAvailabilityUnavailable
}

// Timeout reports whether the upstream call ran out of time.
func (e *UnavailableError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type ResolverConfig struct {
	SlotLength time.Duration
	Timeout    time.Duration
	Location   *time.Location
	Now        func() time.Time
}

// Resolver computes the free slots for a doctor on a date.
type Resolver struct {
	availability appointment.AvailabilityService
	booked       appointment.SlotLedger
	cfg          ResolverConfig
	metrics      *metrics.BookingMetrics
	logger       *zap.Logger
}

func NewResolver(availability appointment.AvailabilityService, booked appointment.SlotLedger, cfg ResolverConfig, m *metrics.BookingMetrics, logger *zap.Logger) *Resolver {
	if cfg.SlotLength <= 0 {
		cfg.SlotLength = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		availability: availability,
		booked:       booked,
		cfg:          cfg,
		metrics:      m,
		logger:       logging.OrNop(logger),
	}
}

// Location is the clinic time zone dates are interpreted in.
func (r *Resolver) Location() *time.Location { return r.cfg.Location }

// SlotLength is the duration of one slot.
func (r *Resolver) SlotLength() time.Duration { return r.cfg.SlotLength }

// Now returns the resolver's clock.
func (r *Resolver) Now() time.Time { return r.cfg.Now() }

// CheckDate validates a YYYY-MM-DD date against the booking horizon.
func (r *Resolver) CheckDate(date string) (time.Time, error) {
	d, err := ParseDate(date, r.cfg.Location)
	if err != nil {
		return time.Time{}, validation.Field("selectedDate", err.Error())
	}
	if !Bookable(r.cfg.Now(), d) {
		return time.Time{}, validation.FieldCause("selectedDate", ErrDateNotBookable)
	}
	return d, nil
}

// Resolve returns the doctor's free slots on date in declared order. Invalid
// or non-bookable dates are rejected before any upstream call.
func (r *Resolver) Resolve(ctx context.Context, doctorID, date string) ([]Slot, error) {
	if doctorID == "" {
		return nil, validation.Field("doctorId", "is required")
	}
	day, err := r.CheckDate(date)
	if err != nil {
		return nil, err
	}

	ctx, span := resolverTracer.Start(ctx, "slots.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.doctor_id", doctorID),
		attribute.String("booking.date", date),
	)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var (
		windows []appointment.Window
		booked  []appointment.BookedSlot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := r.availability.Availability(gctx, doctorID)
		if err != nil {
			return fmt.Errorf("fetch availability: %w", err)
		}
		windows = w
		return nil
	})
	g.Go(func() error {
		b, err := r.booked.BookedSlots(gctx, doctorID, date)
		if err != nil {
			return fmt.Errorf("fetch booked slots: %w", err)
		}
		booked = b
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, appointment.ErrDoctorNotFound) {
			r.metrics.ObserveAvailability("not_found", time.Since(start).Seconds())
			return nil, validation.FieldCause("doctorId", appointment.ErrDoctorNotFound)
		}
		span.RecordError(err)
		r.metrics.ObserveAvailability("error", time.Since(start).Seconds())
		r.logger.Warn("availability unavailable",
			zap.String("doctor_id", doctorID),
			zap.String("date", date),
			zap.Error(err),
		)
		return nil, &UnavailableError{DoctorID: doctorID, Date: date, Err: err}
	}

	free := Subtract(ExpandWindows(windows, day, r.cfg.SlotLength), booked)
	span.SetAttributes(attribute.Int("booking.free_slots", len(free)))
	r.metrics.ObserveAvailability("ok", time.Since(start).Seconds())
	return free, nil
}
