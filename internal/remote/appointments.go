package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
)

var _ appointment.Backend = (*Client)(nil)

type doctorResponse struct {
	ID         id              `json:"id"`
	DoctorName string          `json:"doctorName"`
	Specialty  json.RawMessage `json:"specialty"`
	IsActive   *bool           `json:"isActive"`
}

// specialtyName accepts {"name": "..."} or a bare string.
func specialtyName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

func (c *Client) Doctor(ctx context.Context, doctorID string) (*appointment.Doctor, error) {
	r, err := jsonRequest(http.MethodGet, "/api/doctors/"+url.PathEscape(doctorID), "", nil)
	if err != nil {
		return nil, err
	}

	var resp doctorResponse
	if err := c.do(ctx, r, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", appointment.ErrDoctorNotFound, doctorID)
		}
		return nil, err
	}

	return &appointment.Doctor{
		ID:        string(resp.ID),
		Name:      resp.DoctorName,
		Specialty: specialtyName(resp.Specialty),
		Active:    resp.IsActive == nil || *resp.IsActive,
	}, nil
}

type windowResponse struct {
	ID        id     `json:"id"`
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	IsActive  *bool  `json:"isActive"`
}

func (c *Client) Availability(ctx context.Context, doctorID string) ([]appointment.Window, error) {
	r, err := jsonRequest(http.MethodGet, "/api/availability/doctor/"+url.PathEscape(doctorID), "", nil)
	if err != nil {
		return nil, err
	}

	var resp []windowResponse
	if err := c.do(ctx, r, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", appointment.ErrDoctorNotFound, doctorID)
		}
		return nil, err
	}

	windows := make([]appointment.Window, 0, len(resp))
	for _, w := range resp {
		windows = append(windows, appointment.Window{
			ID:        string(w.ID),
			DayOfWeek: w.DayOfWeek,
			Start:     w.StartTime,
			End:       w.EndTime,
			Active:    w.IsActive == nil || *w.IsActive,
		})
	}
	return windows, nil
}

type bookedSlotsResponse struct {
	BookedSlots []struct {
		AppointmentID   id                 `json:"appointmentId"`
		StartTime       string             `json:"startTime"`
		DurationMinutes int                `json:"durationMinutes"`
		Status          appointment.Status `json:"status"`
	} `json:"bookedSlots"`
}

var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
}

func parseLocalDateTime(s string) (time.Time, error) {
	for _, layout := range localDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("remote: unrecognised datetime %q", s)
}

func (c *Client) BookedSlots(ctx context.Context, doctorID, date string) ([]appointment.BookedSlot, error) {
	path := fmt.Sprintf("/api/appointments/doctor/%s/booked-slots?%s",
		url.PathEscape(doctorID), url.Values{"date": {date}}.Encode())
	r, err := jsonRequest(http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	var resp bookedSlotsResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}

	booked := make([]appointment.BookedSlot, 0, len(resp.BookedSlots))
	for _, b := range resp.BookedSlots {
		at, err := parseLocalDateTime(b.StartTime)
		if err != nil {
			return nil, err
		}
		booked = append(booked, appointment.BookedSlot{
			AppointmentID:   string(b.AppointmentID),
			Date:            at.Format("2006-01-02"),
			Time:            at.Format("15:04"),
			DurationMinutes: b.DurationMinutes,
			Status:          b.Status,
		})
	}
	return booked, nil
}

// createRequest is the "appointment" part of the multipart submission.
type createRequest struct {
	DoctorID            string `json:"doctorId"`
	AppointmentDateTime string `json:"appointmentDateTime"`
	DurationMinutes     int    `json:"durationMinutes,omitempty"`
	Notes               string `json:"notes,omitempty"`

	PatientPrefix      string `json:"patientPrefix,omitempty"`
	PatientFirstName   string `json:"patientFirstName"`
	PatientLastName    string `json:"patientLastName"`
	PatientGender      string `json:"patientGender"`
	PatientDateOfBirth string `json:"patientDateOfBirth"`
	PatientNationality string `json:"patientNationality"`
	PatientCitizenID   string `json:"patientCitizenId,omitempty"`
	PatientPhone       string `json:"patientPhone"`
	PatientEmail       string `json:"patientEmail"`

	Symptoms    string `json:"symptoms,omitempty"`
	BookingType string `json:"bookingType,omitempty"`
}

type createResponse struct {
	Message     string `json:"message"`
	Appointment struct {
		ID                  id                 `json:"id"`
		Status              appointment.Status `json:"status"`
		AppointmentDatetime string             `json:"appointmentDatetime"`
	} `json:"appointment"`
	PatientInfo struct {
		QueueNumber string `json:"queueNumber"`
	} `json:"patientInfo"`
}

// CreateAppointment posts the booking as multipart/form-data: an
// "appointment" JSON part followed by one "attachments" part per file.
func (c *Client) CreateAppointment(ctx context.Context, req appointment.Request) (*appointment.Confirmation, error) {
	body, contentType, err := encodeCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp createResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/appointments/with-patient-info",
		token:       req.Requester.Token,
		body:        body,
		contentType: contentType,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isSlotConflict(apiErr) {
			return nil, fmt.Errorf("%w: %s", appointment.ErrSlotConflict, apiErr.Message)
		}
		return nil, err
	}

	conf := &appointment.Confirmation{
		ID:          string(resp.Appointment.ID),
		Status:      resp.Appointment.Status,
		QueueNumber: resp.PatientInfo.QueueNumber,
	}
	if at, err := parseLocalDateTime(resp.Appointment.AppointmentDatetime); err == nil {
		conf.AppointmentAt = at
	}
	if conf.Status == "" {
		conf.Status = appointment.StatusPending
	}
	return conf, nil
}

// isSlotConflict recognises both a 409 and the API's 400 "slot is not
// available" refusal.
func isSlotConflict(e *APIError) bool {
	if e.Status == http.StatusConflict {
		return true
	}
	return e.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "not available")
}

func encodeCreate(ctx context.Context, req appointment.Request) (io.Reader, string, error) {
	p := req.Patient
	payload := createRequest{
		DoctorID:            req.DoctorID,
		AppointmentDateTime: req.Date + "T" + req.Time + ":00",
		DurationMinutes:     req.DurationMinutes,
		Notes:               req.Symptoms,
		PatientPrefix:       p.Prefix,
		PatientFirstName:    p.FirstName,
		PatientLastName:     p.LastName,
		PatientGender:       p.Gender,
		PatientDateOfBirth:  p.DateOfBirth,
		PatientNationality:  p.Nationality,
		PatientCitizenID:    p.CitizenID,
		PatientPhone:        p.Phone,
		PatientEmail:        p.Email,
		Symptoms:            req.Symptoms,
		BookingType:         req.BookingType,
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="appointment"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("remote: create appointment part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(payload); err != nil {
		return nil, "", fmt.Errorf("remote: encode appointment: %w", err)
	}

	for _, a := range req.Attachments {
		if err := writeAttachment(ctx, mw, a); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("remote: close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func writeAttachment(ctx context.Context, mw *multipart.Writer, a appointment.Attachment) error {
	part, err := mw.CreateFormFile("attachments", a.Name)
	if err != nil {
		return fmt.Errorf("remote: create attachment part %q: %w", a.Name, err)
	}
	if a.Open == nil {
		return nil
	}

	rc, err := a.Open(ctx)
	if err != nil {
		return fmt.Errorf("remote: open attachment %q: %w", a.Name, err)
	}
	defer rc.Close()

	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("remote: copy attachment %q: %w", a.Name, err)
	}
	return nil
}
