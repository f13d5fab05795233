package slots

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/validation"
)

type fakeSchedule struct {
	windows   []appointment.Window
	booked    []appointment.BookedSlot
	availErr  error
	bookedErr error
	block     bool
	onFetch   func()
	calls     atomic.Int32
}

func (f *fakeSchedule) Availability(ctx context.Context, _ string) ([]appointment.Window, error) {
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.windows, f.availErr
}

func (f *fakeSchedule) BookedSlots(_ context.Context, _, _ string) ([]appointment.BookedSlot, error) {
	f.calls.Add(1)
	return f.booked, f.bookedErr
}

func newTestResolver(f *fakeSchedule, length time.Duration) *Resolver {
	return NewResolver(f, f, ResolverConfig{
		SlotLength: length,
		Timeout:    50 * time.Millisecond,
		Location:   bangkok,
		Now:        func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, bangkok) },
	}, nil, nil)
}

func TestResolveRemovesBookedSlots(t *testing.T) {
	// Tuesday 2025-06-10: [10:00, 10:30, 11:00] offered, 10:30 booked.
	f := &fakeSchedule{
		windows: []appointment.Window{{DayOfWeek: 2, Start: "10:00", End: "11:30", Active: true}},
		booked:  []appointment.BookedSlot{{Date: "2025-06-10", Time: "10:30", Status: appointment.StatusConfirmed}},
	}
	r := newTestResolver(f, 30*time.Minute)

	got, err := r.Resolve(context.Background(), "doc-1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00"}, times(got))
}

func TestResolveOutputIsSubsetAndDisjoint(t *testing.T) {
	f := &fakeSchedule{
		windows: []appointment.Window{
			{DayOfWeek: 2, Start: "08:00", End: "12:00", Active: true},
			{DayOfWeek: 2, Start: "13:00", End: "17:00", Active: true},
		},
		booked: []appointment.BookedSlot{
			{Time: "08:00", Status: appointment.StatusPending},
			{Time: "14:00", Status: appointment.StatusCompleted},
			{Time: "16:00", Status: appointment.StatusConfirmed},
		},
	}
	r := newTestResolver(f, time.Hour)
	day, err := ParseDate("2025-06-10", bangkok)
	require.NoError(t, err)
	declared := ExpandWindows(f.windows, day, time.Hour)

	got, err := r.Resolve(context.Background(), "doc-1", "2025-06-10")
	require.NoError(t, err)

	for _, s := range got {
		assert.True(t, Contains(declared, s.Time), s.Time)
		for _, b := range f.booked {
			assert.NotEqual(t, b.Time, s.Time)
		}
	}
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "13:00", "15:00"}, times(got))
}

func TestResolveEmptyIsNotFailure(t *testing.T) {
	r := newTestResolver(&fakeSchedule{}, time.Hour)

	got, err := r.Resolve(context.Background(), "doc-1", "2025-06-10")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestResolveRejectsDatesBeforeCalling(t *testing.T) {
	f := &fakeSchedule{}
	r := newTestResolver(f, time.Hour)

	for _, date := range []string{"2025-05-31", "2025-06-01", "not-a-date"} {
		_, err := r.Resolve(context.Background(), "doc-1", date)
		assert.ErrorIs(t, err, validation.ErrInvalid, date)
	}
	_, err := r.Resolve(context.Background(), "doc-1", "2025-06-01")
	assert.ErrorIs(t, err, ErrDateNotBookable)

	_, err = r.Resolve(context.Background(), "", "2025-06-10")
	assert.ErrorIs(t, err, validation.ErrInvalid)

	assert.Zero(t, f.calls.Load())
}

func TestResolveUpstreamFailureIsUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	r := newTestResolver(&fakeSchedule{bookedErr: boom}, time.Hour)

	_, err := r.Resolve(context.Background(), "doc-1", "2025-06-10")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAvailabilityUnavailable)
	assert.ErrorIs(t, err, boom)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.False(t, ue.Timeout())
}

func TestResolveTimeout(t *testing.T) {
	r := newTestResolver(&fakeSchedule{block: true}, time.Hour)

	_, err := r.Resolve(context.Background(), "doc-1", "2025-06-10")
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.Timeout())
}

func TestResolveUnknownDoctor(t *testing.T) {
	r := newTestResolver(&fakeSchedule{availErr: appointment.ErrDoctorNotFound}, time.Hour)

	_, err := r.Resolve(context.Background(), "ghost", "2025-06-10")
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)
	assert.NotErrorIs(t, err, ErrAvailabilityUnavailable)
}
