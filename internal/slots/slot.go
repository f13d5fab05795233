package slots

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrInvalidDate = errors.New("date must be formatted YYYY-MM-DD")
	ErrInvalidTime = errors.New("time must be formatted HH:MM")
)

// Slot is one bookable unit for a doctor on a date.
type Slot struct {
	Time string `json:"time"` // HH:MM start
	End  string `json:"end"`  // HH:MM end
}

// Label renders the slot as "HH:MM-HH:MM".
func (s Slot) Label() string {
	return s.Time + "-" + s.End
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// Today returns local midnight of now in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
}

// Bookable reports whether date is strictly after today. Same-day and past
// dates are never bookable.
func Bookable(now, date time.Time) bool {
	loc := date.Location()
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return day.After(Today(now, loc))
}

// FirstBookableDate is the earliest date a patient may pick.
func FirstBookableDate(now time.Time, loc *time.Location) time.Time {
	return Today(now, loc).AddDate(0, 0, 1)
}

// NormalizeTime accepts "HH:MM", "HH:MM:SS" or a "HH:MM-HH:MM" label and
// returns the "HH:MM" start.
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	m, err := clockMinutes(s)
	if err != nil {
		return "", err
	}
	return formatClock(m), nil
}

// isoWeekday maps time.Weekday to 1=Monday .. 7=Sunday.
func isoWeekday(d time.Time) int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ExpandWindows cuts the active windows declared for date's weekday into
// slots of the given length. A slot never runs past its window's end.
// The result is ordered by start time without duplicates.
func ExpandWindows(windows []appointment.Window, date time.Time, length time.Duration) []Slot {
	step := int(length / time.Minute)
	if step <= 0 {
		return []Slot{}
	}
	dow := isoWeekday(date)

	seen := make(map[int]bool)
	var starts []int
	for _, w := range windows {
		if !w.Active || w.DayOfWeek != dow {
			continue
		}
		start, err := clockMinutes(w.Start)
		if err != nil {
			continue
		}
		end, err := clockMinutes(w.End)
		if err != nil {
			continue
		}
		for m := start; m+step <= end; m += step {
			if !seen[m] {
				seen[m] = true
				starts = append(starts, m)
			}
		}
	}
	sort.Ints(starts)

	out := make([]Slot, 0, len(starts))
	for _, m := range starts {
		out = append(out, Slot{Time: formatClock(m), End: formatClock(m + step)})
	}
	return out
}

// Subtract removes every slot whose start is claimed by a booked slot.
// Declared order is preserved.
func Subtract(available []Slot, booked []appointment.BookedSlot) []Slot {
	claimed := make(map[string]bool, len(booked))
	for _, b := range booked {
		if !b.Status.ClaimsSlot() {
			continue
		}
		t, err := NormalizeTime(b.Time)
		if err != nil {
			continue
		}
		claimed[t] = true
	}

	free := make([]Slot, 0, len(available))
	for _, s := range available {
		if claimed[s.Time] {
			continue
		}
		free = append(free, s)
	}
	return free
}

// Contains reports whether a slot starting at t is in slots.
func Contains(slots []Slot, t string) bool {
	for _, s := range slots {
		if s.Time == t {
			return true
		}
	}
	return false
}

func clockMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, ErrInvalidTime
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, ErrInvalidTime
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidTime
	}
	if h == 24 && m != 0 {
		return 0, ErrInvalidTime
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
