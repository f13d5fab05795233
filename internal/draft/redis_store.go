package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
)

const (
	fieldDoctorID     = "doctorId"
	fieldDoctorName   = "doctorName"
	fieldDepartment   = "department"
	fieldBookingType  = "bookingType"
	fieldSymptoms     = "symptoms"
	fieldSelectedDate = "selectedDate"
	fieldSelectedTime = "selectedTime"
	fieldPatientInfo  = "patientInfo"
	fieldProgress     = "progress"
	fieldUpdatedAt    = "updatedAt"
)

// RedisStore keeps each draft in a hash plus a list of attachment entries.
// Writing only the patch's present fields makes every write a merge. Both
// keys expire after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func draftKey(sessionID string) string       { return "draft:" + sessionID }
func attachmentsKey(sessionID string) string { return "draft:" + sessionID + ":attachments" }

func (s *RedisStore) Persistent() bool { return true }

func (s *RedisStore) Load(ctx context.Context, sessionID string) (Draft, error) {
	if sessionID == "" {
		return Draft{}, ErrNoSession
	}

	var (
		fields *redis.MapStringStringCmd
		items  *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, draftKey(sessionID))
		items = pipe.LRange(ctx, attachmentsKey(sessionID), 0, -1)
		return nil
	})
	if err != nil && err != redis.Nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}

	return decodeDraft(fields.Val(), items.Val())
}

func (s *RedisStore) Merge(ctx context.Context, sessionID string, p Patch) (Draft, error) {
	if sessionID == "" {
		return Draft{}, ErrNoSession
	}

	values, err := encodePatch(p)
	if err != nil {
		return Draft{}, err
	}
	values[fieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	attachments := make([]any, 0, len(p.Attachments))
	for _, a := range p.Attachments {
		raw, err := json.Marshal(a)
		if err != nil {
			return Draft{}, fmt.Errorf("encode attachment: %w", err)
		}
		attachments = append(attachments, raw)
	}

	hkey, lkey := draftKey(sessionID), attachmentsKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hkey, values)
		if len(attachments) > 0 {
			pipe.RPush(ctx, lkey, attachments...)
		}
		pipe.Expire(ctx, hkey, s.ttl)
		pipe.Expire(ctx, lkey, s.ttl)
		return nil
	})
	if err != nil {
		return Draft{}, fmt.Errorf("merge draft: %w", err)
	}

	return s.Load(ctx, sessionID)
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, draftKey(sessionID), attachmentsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func encodePatch(p Patch) (map[string]any, error) {
	values := make(map[string]any)
	put := func(field string, v *string) {
		if v != nil && *v != "" {
			values[field] = *v
		}
	}
	put(fieldDoctorID, p.DoctorID)
	put(fieldDoctorName, p.DoctorName)
	put(fieldDepartment, p.Department)
	put(fieldBookingType, p.BookingType)
	put(fieldSymptoms, p.Symptoms)
	put(fieldSelectedDate, p.SelectedDate)
	put(fieldSelectedTime, p.SelectedTime)
	put(fieldProgress, p.Progress)

	if p.PatientInfo != nil {
		raw, err := json.Marshal(p.PatientInfo)
		if err != nil {
			return nil, fmt.Errorf("encode patient info: %w", err)
		}
		values[fieldPatientInfo] = raw
	}
	return values, nil
}

func decodeDraft(fields map[string]string, items []string) (Draft, error) {
	d := Draft{
		DoctorID:     fields[fieldDoctorID],
		DoctorName:   fields[fieldDoctorName],
		Department:   fields[fieldDepartment],
		BookingType:  fields[fieldBookingType],
		Symptoms:     fields[fieldSymptoms],
		SelectedDate: fields[fieldSelectedDate],
		SelectedTime: fields[fieldSelectedTime],
		Progress:     fields[fieldProgress],
		Attachments:  make([]Attachment, 0, len(items)),
	}

	if raw, ok := fields[fieldPatientInfo]; ok {
		var info appointment.PatientInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return Draft{}, fmt.Errorf("decode patient info: %w", err)
		}
		d.PatientInfo = &info
	}
	if raw, ok := fields[fieldUpdatedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Draft{}, fmt.Errorf("decode updatedAt: %w", err)
		}
		d.UpdatedAt = t
	}
	for _, item := range items {
		var a Attachment
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return Draft{}, fmt.Errorf("decode attachment: %w", err)
		}
		d.Attachments = append(d.Attachments, a)
	}
	return d, nil
}
