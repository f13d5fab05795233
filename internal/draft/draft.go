package draft

import (
	"time"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
)

// Attachment is the metadata kept for an accepted file. The raw content lives
// in the attachment store under BlobKey.
type Attachment struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	BlobKey string `json:"blobKey,omitempty"`
}

// Draft is the not-yet-submitted booking accumulated across wizard steps.
type Draft struct {
	DoctorID     string                   `json:"doctorId,omitempty"`
	DoctorName   string                   `json:"doctorName,omitempty"`
	Department   string                   `json:"department,omitempty"`
	BookingType  string                   `json:"bookingType,omitempty"`
	Symptoms     string                   `json:"symptoms,omitempty"`
	SelectedDate string                   `json:"selectedDate,omitempty"`
	SelectedTime string                   `json:"selectedTime,omitempty"`
	Attachments  []Attachment             `json:"attachments"`
	PatientInfo  *appointment.PatientInfo `json:"patientInfo,omitempty"`
	// Progress is the furthest step completed, used to stop forward skipping.
	Progress  string    `json:"progress,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Empty reports whether nothing has been written yet.
func (d Draft) Empty() bool {
	return d.UpdatedAt.IsZero()
}

// Patch is a partial update. Nil and empty-string fields are absent and leave
// the draft untouched; Attachments are appended.
type Patch struct {
	DoctorID     *string
	DoctorName   *string
	Department   *string
	BookingType  *string
	Symptoms     *string
	SelectedDate *string
	SelectedTime *string
	Attachments  []Attachment
	PatientInfo  *appointment.PatientInfo
	Progress     *string
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

func set(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// Merge applies p onto d field by field and stamps UpdatedAt. d is not modified.
func Merge(d Draft, p Patch, now time.Time) Draft {
	out := d
	set(&out.DoctorID, p.DoctorID)
	set(&out.DoctorName, p.DoctorName)
	set(&out.Department, p.Department)
	set(&out.BookingType, p.BookingType)
	set(&out.Symptoms, p.Symptoms)
	set(&out.SelectedDate, p.SelectedDate)
	set(&out.SelectedTime, p.SelectedTime)
	set(&out.Progress, p.Progress)

	out.Attachments = make([]Attachment, 0, len(d.Attachments)+len(p.Attachments))
	out.Attachments = append(out.Attachments, d.Attachments...)
	out.Attachments = append(out.Attachments, p.Attachments...)

	if p.PatientInfo != nil {
		info := *p.PatientInfo
		out.PatientInfo = &info
	}
	out.UpdatedAt = now.UTC()
	return out
}

// Fields returns the names of the populated fields, for logging.
func (d Draft) Fields() []string {
	var f []string
	add := func(name string, ok bool) {
		if ok {
			f = append(f, name)
		}
	}
	add("doctorId", d.DoctorID != "")
	add("bookingType", d.BookingType != "")
	add("symptoms", d.Symptoms != "")
	add("selectedDate", d.SelectedDate != "")
	add("selectedTime", d.SelectedTime != "")
	add("attachments", len(d.Attachments) > 0)
	add("patientInfo", d.PatientInfo != nil)
	return f
}
