package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/booking"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
	"github.com/hackgods/clinic-booking-gateway/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-gateway/internal/session"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

type Handlers struct {
	sessions       *session.Sessions
	workflow       *booking.Workflow
	picker         *slots.Picker
	metrics        *metrics.BookingMetrics
	logger         *zap.Logger
	maxUploadBytes int64
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, verr *validation.Error) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation_failed",
		Details: verr.Error(),
		Fields:  verr.Fields,
	})
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req session.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m := h.sessions.Open(GetSessionID(r.Context()))
	if err := m.Register(r.Context(), req); err != nil {
		h.handleAuthError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "registered", Redirect: session.LoginPath})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m := h.sessions.Open(GetSessionID(r.Context()))
	user, err := m.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleAuthError(w, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{User: *user, Redirect: session.LandingPath(user.Role)})
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	m := h.sessions.Open(GetSessionID(r.Context()))
	if err := m.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session_store_unavailable", "could not sign out, please retry")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "signed out", Redirect: session.LoginPath})
}

func (h *Handlers) handleAuthError(w http.ResponseWriter, err error, status int) {
	var (
		verr *validation.Error
		aerr *session.AuthError
	)
	if errors.As(err, &verr) {
		writeValidation(w, verr)
		return
	}
	if errors.As(err, &aerr) {
		writeError(w, status, "auth_failed", aerr.Message)
		return
	}
	h.logger.Error("auth request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "please retry")
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	m := managerFrom(r.Context())
	writeJSON(w, http.StatusOK, session.Guard(m.Snapshot(), session.Policy{View: "me"}))
}

func (h *Handlers) landing(view string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := managerFrom(r.Context()).Snapshot()
		writeJSON(w, http.StatusOK, LandingResponse{View: view, User: *snap.User})
	}
}

func (h *Handlers) bookingStart(w http.ResponseWriter, r *http.Request) {
	t, err := h.workflow.Start(r.Context(), GetSessionID(r.Context()))
	if err != nil {
		h.handleWorkflowError(w, r, t, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse(t))
}

func (h *Handlers) bookingView(w http.ResponseWriter, r *http.Request) {
	step, err := booking.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_step", err.Error())
		return
	}

	t, err := h.workflow.View(r.Context(), GetSessionID(r.Context()), step)
	if err != nil {
		h.handleWorkflowError(w, r, t, err)
		return
	}
	if t.Redirect() != "" {
		writeRedirect(w, t.To.Path(), transitionResponse(t))
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse(t))
}

func (h *Handlers) selectDoctor(w http.ResponseWriter, r *http.Request) {
	var in booking.DoctorSelection
	if !decodeJSON(w, r, &in) {
		return
	}
	t, err := h.workflow.SelectDoctor(r.Context(), GetSessionID(r.Context()), in)
	h.respond(w, r, t, err)
}

func (h *Handlers) selectSlot(w http.ResponseWriter, r *http.Request) {
	var in booking.SlotSelection
	if !decodeJSON(w, r, &in) {
		return
	}
	t, err := h.workflow.SelectSlot(r.Context(), GetSessionID(r.Context()), in)
	h.respond(w, r, t, err)
}

func (h *Handlers) attachDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var in booking.Upload
	err := r.ParseMultipartForm(8 << 20)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		// No files chosen; a plain request moves on with nothing attached.
	case err != nil:
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "attachments exceed the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
		return
	default:
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		if raw := r.FormValue("draft"); raw != "" {
			var d draft.Draft
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_draft", "draft must be JSON")
				return
			}
			in.Draft = &d
		}

		files, closeAll, err := openParts(r.MultipartForm.File["attachments"])
		defer closeAll()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
			return
		}
		in.Files = files
	}

	t, err := h.workflow.AttachDocuments(r.Context(), GetSessionID(r.Context()), in)
	h.respond(w, r, t, err)
}

func openParts(headers []*multipart.FileHeader) ([]booking.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]booking.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, booking.File{Name: fh.Filename, Size: fh.Size, Content: f})
	}
	return files, closeAll, nil
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request) {
	var in booking.PatientDetails
	if !decodeJSON(w, r, &in) {
		return
	}

	sid := GetSessionID(r.Context())
	t, err := h.workflow.SubmitPatientDetails(r.Context(), sid, in, h.requester(sid))
	h.respond(w, r, t, err)
}

// requester re-reads the session at submission time, so a sign-out in
// another tab stops the booking.
func (h *Handlers) requester(sessionID string) booking.RequesterFunc {
	return func(ctx context.Context) (appointment.Requester, error) {
		m := h.sessions.Open(sessionID)
		snap, err := m.Restore(ctx)
		if err != nil && !errors.Is(err, session.ErrRoleChanged) {
			return appointment.Requester{}, err
		}
		d := session.Guard(snap, session.Policy{View: "booking", Allow: []session.Role{session.RolePatient}})
		if !d.Allowed() {
			return appointment.Requester{}, session.ErrUnauthenticated
		}
		return appointment.Requester{UserID: d.User.ID, Token: m.Token()}, nil
	}
}

func (h *Handlers) freeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.picker.Show(r.Context(), GetSessionID(r.Context()), q.Get("doctor_id"), q.Get("date"))
	if err != nil {
		var verr *validation.Error
		switch {
		case errors.Is(err, slots.ErrStaleSelection):
			writeError(w, http.StatusConflict, "selection_changed", err.Error())
		case errors.As(err, &verr):
			writeValidation(w, verr)
		case errors.Is(err, slots.ErrAvailabilityUnavailable):
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "availability_unavailable", "could not load available times, please retry")
		default:
			h.logger.Error("slot lookup failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "please retry")
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// respond writes the outcome of a workflow step. Forward moves answer with
// 303 to the next step; a finished booking answers 201 with the confirmation.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, t booking.Transition, err error) {
	if err != nil {
		h.handleWorkflowError(w, r, t, err)
		return
	}
	if t.To == booking.StepSubmitted {
		writeJSON(w, http.StatusCreated, transitionResponse(t))
		return
	}
	if t.Redirect() != "" {
		writeRedirect(w, t.To.Path(), transitionResponse(t))
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse(t))
}

func (h *Handlers) handleWorkflowError(w http.ResponseWriter, r *http.Request, t booking.Transition, err error) {
	resp := ErrorResponse{Details: err.Error(), Redirect: t.Redirect(), Step: t.To}
	if t.To != "" {
		d := t.Draft
		resp.Draft = &d
	}

	status := http.StatusInternalServerError
	var verr *validation.Error
	switch {
	case errors.Is(err, booking.ErrOutOfOrder):
		resp.Error = "step_not_reached"
		writeRedirect(w, t.To.Path(), resp)
		return
	case errors.As(err, &verr):
		status, resp.Error, resp.Fields = http.StatusUnprocessableEntity, "validation_failed", verr.Fields
	case errors.Is(err, booking.ErrSlotUnavailable):
		status, resp.Error = http.StatusConflict, "slot_unavailable"
	case errors.Is(err, appointment.ErrSlotConflict):
		status, resp.Error = http.StatusConflict, "slot_conflict"
		resp.Details = "This time slot was just taken. Please choose another time."
	case errors.Is(err, booking.ErrSubmissionInProgress):
		status, resp.Error = http.StatusConflict, "submission_in_progress"
	case errors.Is(err, slots.ErrAvailabilityUnavailable):
		w.Header().Set("Retry-After", "5")
		status, resp.Error = http.StatusServiceUnavailable, "availability_unavailable"
	case errors.Is(err, session.ErrUnauthenticated):
		status, resp.Error, resp.Redirect = http.StatusUnauthorized, "unauthenticated", session.LoginPath
	case errors.Is(err, booking.ErrSubmitFailed):
		status, resp.Error = http.StatusBadGateway, "submission_failed"
		resp.Details = "The appointment could not be submitted. Your details are saved, please retry."
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
	default:
		resp.Error = "internal_error"
		resp.Details = "please retry"
		h.logger.Error("booking step failed",
			zap.String("step", string(t.From)),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}
