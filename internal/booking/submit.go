package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
	redisclient "github.com/hackgods/clinic-booking-gateway/internal/redis"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

type PatientDetails struct {
	Symptoms string                  `json:"symptoms"`
	Patient  appointment.PatientInfo `json:"patientInfo"`
	Carried
}

// RequesterFunc resolves the signed-in user at the moment of submission.
// It must fail if the session ended after the wizard was opened.
type RequesterFunc func(ctx context.Context) (appointment.Requester, error)

func (w *Workflow) validateDetails(in PatientDetails) error {
	verr := &validation.Error{}
	if strings.TrimSpace(in.Symptoms) == "" {
		verr.Add("symptoms", "is required")
	}
	if err := validation.Struct(in.Patient, "patientInfo."); err != nil {
		var fe *validation.Error
		if !errors.As(err, &fe) {
			return err
		}
		for name, msg := range fe.Fields {
			verr.Add(name, msg)
		}
	}
	if dob, err := time.Parse(slots.DateLayout, in.Patient.DateOfBirth); err == nil && dob.After(w.now()) {
		verr.Add("patientInfo.dob", "cannot be in the future")
	}
	return verr.OrNil()
}

// rewind sends the wizard back to slot selection, keeping everything else.
func (w *Workflow) rewind(ctx context.Context, sessionID string, d draft.Draft, persistent bool) Transition {
	d, persistent = w.merge(ctx, sessionID, d, persistent, draft.Patch{
		Progress: draft.String(string(StepSelectDoctor)),
	})
	return w.move(StepPatientDetails, StepSelectSlot, d, persistent)
}

// SubmitPatientDetails validates and records the patient's details, then
// creates the appointment. Validation failures never reach the appointment
// service. A slot taken in the meantime rewinds to slot selection; any other
// failure leaves the draft intact on this step. Success clears the draft.
func (w *Workflow) SubmitPatientDetails(ctx context.Context, sessionID string, in PatientDetails, requester RequesterFunc) (Transition, error) {
	const step = StepPatientDetails

	ctx, span := tracer.Start(ctx, "booking.submit")
	defer span.End()

	base, persistent := w.base(ctx, sessionID, in.carried())
	if t, err := w.guardOrder(step, base, persistent); err != nil {
		w.metrics.ObserveSubmission("out_of_order")
		return t, err
	}

	if err := w.validateDetails(in); err != nil {
		w.metrics.ObserveSubmission("invalid")
		return w.stay(step, base, persistent, "invalid"), err
	}

	patient := in.Patient
	d, persistent := w.merge(ctx, sessionID, base, persistent, draft.Patch{
		Symptoms:    draft.String(strings.TrimSpace(in.Symptoms)),
		PatientInfo: &patient,
	})
	span.SetAttributes(
		attribute.String("booking.doctor_id", d.DoctorID),
		attribute.String("booking.date", d.SelectedDate),
		attribute.String("booking.time", d.SelectedTime),
	)

	// The slot may have gone stale while the user filled in the form.
	if _, err := w.resolver.CheckDate(d.SelectedDate); err != nil {
		w.metrics.ObserveSubmission("invalid")
		return w.rewind(ctx, sessionID, d, persistent), err
	}
	free, err := w.resolver.Resolve(ctx, d.DoctorID, d.SelectedDate)
	switch {
	case err == nil && !slots.Contains(free, d.SelectedTime):
		w.metrics.ObserveSubmission("conflict")
		return w.rewind(ctx, sessionID, d, persistent), ErrSlotUnavailable
	case err != nil && errors.Is(err, validation.ErrInvalid):
		w.metrics.ObserveSubmission("invalid")
		return w.rewind(ctx, sessionID, d, persistent), err
	case err != nil:
		// The appointment service has the final word on conflicts.
		w.logger.Warn("slot re-check skipped",
			zap.String("session", shortID(sessionID)),
			zap.Error(err),
		)
	}

	req := w.request(sessionID, d)
	var (
		conf        *appointment.Confirmation
		identityErr error
	)
	err = w.locker.WithSessionLock(ctx, sessionID, func(lockCtx context.Context) error {
		if requester == nil {
			identityErr = errors.New("no requester for submission")
			return identityErr
		}
		who, err := requester(lockCtx)
		if err != nil {
			identityErr = err
			return err
		}
		req.Requester = who

		submitCtx, cancel := context.WithTimeout(lockCtx, w.cfg.SubmitTimeout)
		defer cancel()

		conf, err = w.creator.CreateAppointment(submitCtx, req)
		return err
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			w.metrics.ObserveSubmission("busy")
			return w.stay(step, d, persistent, "busy"), ErrSubmissionInProgress
		case identityErr != nil:
			w.metrics.ObserveSubmission("unauthenticated")
			return w.stay(step, d, persistent, "unauthenticated"), err
		case errors.Is(err, appointment.ErrSlotConflict):
			w.metrics.ObserveSubmission("conflict")
			w.logger.Info("slot taken before submission",
				zap.String("session", shortID(sessionID)),
				zap.String("doctor_id", d.DoctorID),
				zap.String("date", d.SelectedDate),
				zap.String("time", d.SelectedTime),
			)
			return w.rewind(ctx, sessionID, d, persistent), err
		default:
			w.metrics.ObserveSubmission("error")
			w.logger.Error("appointment submission failed",
				zap.String("session", shortID(sessionID)),
				zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
				zap.Error(err),
			)
			return w.stay(step, d, persistent, "error"), fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		}
	}

	if err := w.drafts.Clear(ctx, sessionID); err != nil {
		w.logger.Warn("failed to clear draft after submission",
			zap.String("session", shortID(sessionID)),
			zap.Error(err),
		)
	}
	w.releaseBlobs(ctx, sessionID, d.Attachments)

	w.metrics.ObserveSubmission("ok")
	w.logger.Info("appointment submitted",
		zap.String("session", shortID(sessionID)),
		zap.String("appointment_id", conf.ID),
		zap.String("status", string(conf.Status)),
	)
	w.observe(step, "advanced")
	return Transition{
		From:         step,
		To:           StepSubmitted,
		Draft:        draft.Draft{Attachments: []draft.Attachment{}},
		Confirmation: conf,
		Persistent:   persistent,
	}, nil
}

func (w *Workflow) request(sessionID string, d draft.Draft) appointment.Request {
	req := appointment.Request{
		DoctorID:        d.DoctorID,
		Date:            d.SelectedDate,
		Time:            d.SelectedTime,
		DurationMinutes: int(w.resolver.SlotLength() / time.Minute),
		Symptoms:        d.Symptoms,
		BookingType:     d.BookingType,
		Attachments:     make([]appointment.Attachment, 0, len(d.Attachments)),
	}
	if d.PatientInfo != nil {
		req.Patient = *d.PatientInfo
	}
	for _, a := range d.Attachments {
		att := appointment.Attachment{Name: a.Name, Size: a.Size}
		if key := a.BlobKey; key != "" {
			att.Open = func(ctx context.Context) (io.ReadCloser, error) {
				return w.blobs.Open(ctx, sessionID, key)
			}
		}
		req.Attachments = append(req.Attachments, att)
	}
	return req
}
