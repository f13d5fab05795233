package booking

import (
	"fmt"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
)

// Step is one screen of the booking wizard.
type Step string

const (
	StepSelectDoctor    Step = "select_doctor"
	StepSelectSlot      Step = "select_slot"
	StepAttachDocuments Step = "attach_documents"
	StepPatientDetails  Step = "patient_details"
	StepSubmitted       Step = "submitted"
)

var steps = []Step{
	StepSelectDoctor,
	StepSelectSlot,
	StepAttachDocuments,
	StepPatientDetails,
	StepSubmitted,
}

func ParseStep(s string) (Step, error) {
	for _, st := range steps {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown booking step %q", s)
}

func (s Step) index() int {
	for i, st := range steps {
		if st == s {
			return i
		}
	}
	return -1
}

// Path is the gateway route that renders the step.
func (s Step) Path() string {
	if s == StepSubmitted {
		return "/booking/confirmation"
	}
	return "/booking/steps/" + string(s)
}

// next returns the step after s. Submitted has no successor.
func (s Step) next() Step {
	i := s.index()
	if i < 0 || i+1 >= len(steps) {
		return s
	}
	return steps[i+1]
}

// reachable is the furthest step a draft may be shown at: the one after its
// recorded progress.
func reachable(d draft.Draft) Step {
	done, err := ParseStep(d.Progress)
	if err != nil {
		return StepSelectDoctor
	}
	if n := done.next(); n != StepSubmitted {
		return n
	}
	return StepPatientDetails
}

// furthest returns whichever of a and b is later in the wizard.
func furthest(a, b Step) Step {
	if b.index() > a.index() {
		return b
	}
	return a
}

// earned is the furthest progress the draft's own fields can back up.
func earned(d draft.Draft) Step {
	switch {
	case d.DoctorID == "":
		return ""
	case d.SelectedDate == "" || d.SelectedTime == "":
		return StepSelectDoctor
	default:
		return StepAttachDocuments
	}
}

func progressOf(d draft.Draft) Step {
	s, err := ParseStep(d.Progress)
	if err != nil {
		return ""
	}
	return s
}

// Transition is the outcome of one workflow operation.
type Transition struct {
	From         Step                      `json:"from"`
	To           Step                      `json:"to"`
	Draft        draft.Draft               `json:"draft"`
	Confirmation *appointment.Confirmation `json:"confirmation,omitempty"`
	// Persistent is false when the draft could not be stored between
	// requests and the caller has to carry it forward.
	Persistent bool `json:"persistent"`
}

// Advanced reports whether the wizard moved forward.
func (t Transition) Advanced() bool {
	return t.To.index() > t.From.index()
}

// Redirect is the path to send the user to, or "" to stay on the current view.
func (t Transition) Redirect() string {
	if t.To == t.From {
		return ""
	}
	return t.To.Path()
}
