// Package booking drives a patient through the booking wizard: pick a
// doctor, pick a free slot, attach documents, enter patient details, submit.
// Every step writes to the session's draft so the wizard can be resumed and
// navigated backwards.
package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/attachments"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-gateway/internal/session"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

var tracer = otel.Tracer("booking/workflow")

var (
	ErrSlotUnavailable      = errors.New("slot no longer available")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrOutOfOrder           = errors.New("booking step not reached yet")
	ErrDoctorInactive       = errors.New("doctor is not accepting bookings")
	ErrSubmitFailed         = errors.New("appointment could not be submitted")
)

// SlotResolver is the part of *slots.Resolver the workflow uses.
type SlotResolver interface {
	Resolve(ctx context.Context, doctorID, date string) ([]slots.Slot, error)
	CheckDate(date string) (time.Time, error)
	SlotLength() time.Duration
}

// SessionLocker serializes work within one browsing session.
type SessionLocker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

type Deps struct {
	Drafts      draft.Store
	Doctors     appointment.DoctorDirectory
	Creator     appointment.Creator
	Resolver    SlotResolver
	Attachments attachments.Store
	Locker      SessionLocker
	Metrics     *metrics.BookingMetrics
	Logger      *zap.Logger
}

type Config struct {
	SubmitTimeout      time.Duration
	MaxAttachmentBytes int64
}

type Workflow struct {
	drafts   draft.Store
	doctors  appointment.DoctorDirectory
	creator  appointment.Creator
	resolver SlotResolver
	blobs    attachments.Store
	locker   SessionLocker
	cfg      Config
	metrics  *metrics.BookingMetrics
	logger   *zap.Logger
	now      func() time.Time
}

func New(deps Deps, cfg Config) *Workflow {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = 10 << 20
	}
	return &Workflow{
		drafts:   deps.Drafts,
		doctors:  deps.Doctors,
		creator:  deps.Creator,
		resolver: deps.Resolver,
		blobs:    deps.Attachments,
		locker:   deps.Locker,
		cfg:      cfg,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger),
		now:      time.Now,
	}
}

// Carried is the draft echoed back by a caller whose session has no
// persistent draft storage. It is ignored when the store is persistent.
type Carried struct {
	Draft *draft.Draft `json:"draft,omitempty"`
}

func (c Carried) carried() *draft.Draft { return c.Draft }

type DoctorSelection struct {
	DoctorID    string `json:"doctorId"`
	BookingType string `json:"bookingType"`
	Department  string `json:"department"`
	Symptoms    string `json:"symptoms"`
	Carried
}

type SlotSelection struct {
	Date     string `json:"selectedDate"`
	Time     string `json:"selectedTime"`
	Symptoms string `json:"symptoms"`
	Carried
}

// File is one uploaded attachment.
type File struct {
	Name    string
	Size    int64
	Content io.Reader
}

type Upload struct {
	Files []File
	Carried
}

// base returns the session's current draft and whether it is stored
// persistently. A failing store degrades to the carried draft.
func (w *Workflow) base(ctx context.Context, sessionID string, carried *draft.Draft) (draft.Draft, bool) {
	persistent := w.drafts.Persistent()
	d, err := w.drafts.Load(ctx, sessionID)
	if err != nil {
		w.logger.Warn("draft store unavailable, continuing without persistence",
			zap.String("session", shortID(sessionID)),
			zap.Error(err),
		)
		d, persistent = draft.Draft{}, false
	}
	if !persistent && carried != nil {
		d = w.adopt(sessionID, *carried)
	}
	if d.Attachments == nil {
		d.Attachments = []draft.Attachment{}
	}
	return d, persistent
}

// adopt accepts a client-carried draft. Blobs issued to other sessions are
// dropped and progress is capped at what the fields show was completed.
func (w *Workflow) adopt(sessionID string, c draft.Draft) draft.Draft {
	kept := make([]draft.Attachment, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		if a.BlobKey != "" && !attachments.Owns(sessionID, a.BlobKey) {
			w.logger.Warn("dropping carried attachment not issued to this session",
				zap.String("session", shortID(sessionID)),
			)
			continue
		}
		kept = append(kept, a)
	}
	c.Attachments = kept

	if ceiling := earned(c); progressOf(c).index() > ceiling.index() {
		c.Progress = string(ceiling)
	}
	return c
}

// merge writes p through the store, or onto base when the store cannot hold it.
func (w *Workflow) merge(ctx context.Context, sessionID string, base draft.Draft, persistent bool, p draft.Patch) (draft.Draft, bool) {
	if persistent {
		d, err := w.drafts.Merge(ctx, sessionID, p)
		if err == nil {
			return d, true
		}
		w.logger.Warn("draft merge failed, continuing without persistence",
			zap.String("session", shortID(sessionID)),
			zap.Error(err),
		)
	}
	return draft.Merge(base, p, w.now()), false
}

func (w *Workflow) observe(step Step, outcome string) {
	w.metrics.ObserveTransition(string(step), outcome)
}

func (w *Workflow) stay(step Step, d draft.Draft, persistent bool, outcome string) Transition {
	w.observe(step, outcome)
	return Transition{From: step, To: step, Draft: d, Persistent: persistent}
}

func (w *Workflow) move(from, to Step, d draft.Draft, persistent bool) Transition {
	outcome := "advanced"
	if to.index() <= from.index() {
		outcome = "redirected"
	}
	w.observe(from, outcome)
	return Transition{From: from, To: to, Draft: d, Persistent: persistent}
}

// guardOrder redirects to the furthest reachable step when step has not
// been unlocked by the draft's progress.
func (w *Workflow) guardOrder(step Step, d draft.Draft, persistent bool) (Transition, error) {
	at := reachable(d)
	if step.index() > at.index() {
		return w.move(step, at, d, persistent), ErrOutOfOrder
	}
	return Transition{}, nil
}

// Start resumes the wizard at the furthest step the draft allows.
func (w *Workflow) Start(ctx context.Context, sessionID string) (Transition, error) {
	d, persistent := w.base(ctx, sessionID, nil)
	at := reachable(d)
	return Transition{From: at, To: at, Draft: d, Persistent: persistent}, nil
}

// View shows step populated from the draft. Steps ahead of the draft's
// progress redirect back to the furthest reachable one.
func (w *Workflow) View(ctx context.Context, sessionID string, step Step) (Transition, error) {
	if step.index() < 0 {
		return Transition{}, fmt.Errorf("view: unknown step %q", step)
	}
	d, persistent := w.base(ctx, sessionID, nil)
	at := reachable(d)
	if step == StepSubmitted || step.index() > at.index() {
		return w.move(step, at, d, persistent), nil
	}
	return Transition{From: step, To: step, Draft: d, Persistent: persistent}, nil
}

// SelectDoctor records the chosen doctor. Choosing a different doctor than
// the draft holds rewinds progress so a slot has to be picked again.
func (w *Workflow) SelectDoctor(ctx context.Context, sessionID string, in DoctorSelection) (Transition, error) {
	const step = StepSelectDoctor
	base, persistent := w.base(ctx, sessionID, in.carried())

	doctorID := strings.TrimSpace(in.DoctorID)
	bookingType := strings.TrimSpace(in.BookingType)
	if bookingType == "" {
		bookingType = appointment.BookingTypeManual
	}

	verr := &validation.Error{}
	if doctorID == "" {
		verr.Add("doctorId", "is required")
	}
	if bookingType != appointment.BookingTypeManual && bookingType != appointment.BookingTypeAuto {
		verr.Add("bookingType", "must be one of manual auto")
	}
	if err := verr.OrNil(); err != nil {
		return w.stay(step, base, persistent, "invalid"), err
	}

	doc, err := w.doctors.Doctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, appointment.ErrDoctorNotFound) {
			return w.stay(step, base, persistent, "invalid"), validation.FieldCause("doctorId", appointment.ErrDoctorNotFound)
		}
		return w.stay(step, base, persistent, "error"), fmt.Errorf("load doctor: %w", err)
	}
	if !doc.Active {
		return w.stay(step, base, persistent, "invalid"), validation.FieldCause("doctorId", ErrDoctorInactive)
	}

	progress := step
	if doctorID == base.DoctorID {
		progress = furthest(progressOf(base), step)
	}
	department := doc.Specialty
	if department == "" {
		department = strings.TrimSpace(in.Department)
	}

	d, persistent := w.merge(ctx, sessionID, base, persistent, draft.Patch{
		DoctorID:    draft.String(doc.ID),
		DoctorName:  draft.String(doc.Name),
		Department:  draft.String(department),
		BookingType: draft.String(bookingType),
		Symptoms:    draft.String(strings.TrimSpace(in.Symptoms)),
		Progress:    draft.String(string(progress)),
	})
	return w.move(step, StepSelectSlot, d, persistent), nil
}

// SelectSlot records the chosen date and time after confirming the slot is
// still free.
func (w *Workflow) SelectSlot(ctx context.Context, sessionID string, in SlotSelection) (Transition, error) {
	const step = StepSelectSlot
	base, persistent := w.base(ctx, sessionID, in.carried())
	if t, err := w.guardOrder(step, base, persistent); err != nil {
		return t, err
	}

	date := strings.TrimSpace(in.Date)
	verr := &validation.Error{}
	if date == "" {
		verr.Add("selectedDate", "is required")
	}
	clock, terr := slots.NormalizeTime(in.Time)
	if strings.TrimSpace(in.Time) == "" {
		verr.Add("selectedTime", "is required")
	} else if terr != nil {
		verr.Add("selectedTime", terr.Error())
	}
	if err := verr.OrNil(); err != nil {
		return w.stay(step, base, persistent, "invalid"), err
	}
	if _, err := w.resolver.CheckDate(date); err != nil {
		return w.stay(step, base, persistent, "invalid"), err
	}

	free, err := w.resolver.Resolve(ctx, base.DoctorID, date)
	if err != nil {
		outcome := "error"
		if errors.Is(err, validation.ErrInvalid) {
			outcome = "invalid"
		}
		return w.stay(step, base, persistent, outcome), err
	}
	if !slots.Contains(free, clock) {
		return w.stay(step, base, persistent, "unavailable"), ErrSlotUnavailable
	}

	d, persistent := w.merge(ctx, sessionID, base, persistent, draft.Patch{
		SelectedDate: draft.String(date),
		SelectedTime: draft.String(clock),
		Symptoms:     draft.String(strings.TrimSpace(in.Symptoms)),
		Progress:     draft.String(string(furthest(progressOf(base), step))),
	})
	return w.move(step, StepAttachDocuments, d, persistent), nil
}

// AttachDocuments stores each file's content and appends its metadata to the
// draft. No files is a valid answer.
func (w *Workflow) AttachDocuments(ctx context.Context, sessionID string, in Upload) (Transition, error) {
	const step = StepAttachDocuments
	base, persistent := w.base(ctx, sessionID, in.carried())
	if t, err := w.guardOrder(step, base, persistent); err != nil {
		return t, err
	}

	verr := &validation.Error{}
	for i, f := range in.Files {
		field := fmt.Sprintf("attachments[%d]", i)
		switch {
		case strings.TrimSpace(f.Name) == "":
			verr.Add(field, "file name is required")
		case f.Size > w.cfg.MaxAttachmentBytes:
			verr.Add(field, fmt.Sprintf("must be at most %d bytes", w.cfg.MaxAttachmentBytes))
		}
	}
	if err := verr.OrNil(); err != nil {
		return w.stay(step, base, persistent, "invalid"), err
	}

	added := make([]draft.Attachment, 0, len(in.Files))
	for _, f := range in.Files {
		key, err := w.blobs.Put(ctx, sessionID, f.Name, f.Content, f.Size)
		if err != nil {
			w.releaseBlobs(ctx, sessionID, added)
			return w.stay(step, base, persistent, "error"), fmt.Errorf("store attachment %q: %w", f.Name, err)
		}
		added = append(added, draft.Attachment{Name: f.Name, Size: f.Size, BlobKey: key})
	}

	d, persistent := w.merge(ctx, sessionID, base, persistent, draft.Patch{
		Attachments: added,
		Progress:    draft.String(string(furthest(progressOf(base), step))),
	})
	return w.move(step, StepPatientDetails, d, persistent), nil
}

func (w *Workflow) releaseBlobs(ctx context.Context, sessionID string, list []draft.Attachment) {
	keys := make([]string, 0, len(list))
	for _, a := range list {
		if a.BlobKey != "" {
			keys = append(keys, a.BlobKey)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := w.blobs.Delete(context.WithoutCancel(ctx), sessionID, keys...); err != nil {
		w.logger.Warn("failed to release attachments",
			zap.String("session", shortID(sessionID)),
			zap.Int("count", len(keys)),
			zap.Error(err),
		)
	}
}

// Forget drops the session's draft and attachments once the session is
// signed out. It has the session.Listener signature.
func (w *Workflow) Forget(ctx context.Context, sessionID string, snap session.Snapshot) {
	if snap.State != session.StateUnauthenticated {
		return
	}
	if d, err := w.drafts.Load(ctx, sessionID); err == nil {
		w.releaseBlobs(ctx, sessionID, d.Attachments)
	}
	if err := w.drafts.Clear(ctx, sessionID); err != nil {
		w.logger.Warn("failed to clear draft on sign out",
			zap.String("session", shortID(sessionID)),
			zap.Error(err),
		)
	}
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
