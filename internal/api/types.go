package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/booking"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
	"github.com/hackgods/clinic-booking-gateway/internal/session"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User     session.User `json:"user"`
	Redirect string       `json:"redirect"`
}

type MessageResponse struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

type LandingResponse struct {
	View string       `json:"view"`
	User session.User `json:"user"`
}

// TransitionResponse describes the wizard after an operation.
type TransitionResponse struct {
	Step         booking.Step              `json:"step"`
	Path         string                    `json:"path"`
	Redirect     string                    `json:"redirect,omitempty"`
	Draft        draft.Draft               `json:"draft"`
	Persistent   bool                      `json:"persistent"`
	Confirmation *appointment.Confirmation `json:"confirmation,omitempty"`
}

func transitionResponse(t booking.Transition) TransitionResponse {
	return TransitionResponse{
		Step:         t.To,
		Path:         t.To.Path(),
		Redirect:     t.Redirect(),
		Draft:        t.Draft,
		Persistent:   t.Persistent,
		Confirmation: t.Confirmation,
	}
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	// Step and Draft let the client re-render the form it came from.
	Step  booking.Step `json:"step,omitempty"`
	Draft *draft.Draft `json:"draft,omitempty"`
	// Actions is only set on the recovery response.
	Actions map[string]string `json:"actions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeRedirect answers with 303 See Other and a body naming the target.
func writeRedirect(w http.ResponseWriter, location string, body any) {
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusSeeOther, body)
}
