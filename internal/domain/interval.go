package domain

import (
	"fmt"
	"time"

	"shelfmarket-backend/internal/errs"
)

const DateLayout = "2006-01-02"

// Date truncates t to midnight UTC. All interval bounds are dates.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errs.Invalid("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// MustDate parses a YYYY-MM-DD literal and panics on failure.
func MustDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func DatePtr(t time.Time) *time.Time {
	d := Date(t)
	return &d
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// Interval is a half-open date range [From, To). A nil To is open-ended.
type Interval struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to,omitempty"`
}

// NewInterval validates that To is nil or strictly after From.
func NewInterval(from time.Time, to *time.Time) (Interval, error) {
	from = Date(from)
	if to == nil {
		return Interval{From: from}, nil
	}
	end := Date(*to)
	if !end.After(from) {
		return Interval{}, errs.Invalid("interval end %s must be after start %s", FormatDate(end), FormatDate(from))
	}
	return Interval{From: from, To: &end}, nil
}

// ForDays builds [start, start+days). Durations are always whole days.
func ForDays(start time.Time, days int) (Interval, error) {
	if days <= 0 {
		return Interval{}, errs.Invalid("duration must be at least one day, got %d", days)
	}
	start = Date(start)
	end := start.AddDate(0, 0, days)
	return Interval{From: start, To: &end}, nil
}

func (i Interval) OpenEnded() bool {
	return i.To == nil
}

// Empty reports a zero-length range. Only terminated contracts carry one.
func (i Interval) Empty() bool {
	return i.To != nil && !i.To.After(i.From)
}

// Overlaps is the half-open overlap test. Touching ranges do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	if i.Empty() || o.Empty() {
		return false
	}
	return beforeEnd(i.From, o.To) && beforeEnd(o.From, i.To)
}

// Contains reports whether the day d falls inside the range.
func (i Interval) Contains(d time.Time) bool {
	d = Date(d)
	return !d.Before(i.From) && beforeEnd(d, i.To)
}

// TruncateAt moves To back to d. It never extends the range and never moves To
// before From.
func (i Interval) TruncateAt(d time.Time) Interval {
	d = Date(d)
	if i.To != nil && !d.Before(*i.To) {
		return i
	}
	if d.Before(i.From) {
		d = i.From
	}
	return Interval{From: i.From, To: &d}
}

// Bound returns the smallest range covering both i and o.
func (i Interval) Bound(o Interval) Interval {
	out := Interval{From: i.From, To: i.To}
	if o.From.Before(out.From) {
		out.From = o.From
	}
	if out.To == nil || o.To == nil {
		out.To = nil
	} else if o.To.After(*out.To) {
		end := *o.To
		out.To = &end
	}
	return out
}

// EndsAfter orders range ends with nil as +infinity.
func (i Interval) EndsAfter(o Interval) bool {
	if i.To == nil {
		return o.To != nil
	}
	if o.To == nil {
		return false
	}
	return i.To.After(*o.To)
}

func (i Interval) Equal(o Interval) bool {
	if !i.From.Equal(o.From) {
		return false
	}
	if i.To == nil || o.To == nil {
		return i.To == nil && o.To == nil
	}
	return i.To.Equal(*o.To)
}

func (i Interval) String() string {
	if i.To == nil {
		return fmt.Sprintf("[%s, open)", FormatDate(i.From))
	}
	return fmt.Sprintf("[%s, %s)", FormatDate(i.From), FormatDate(*i.To))
}

func beforeEnd(t time.Time, end *time.Time) bool {
	return end == nil || t.Before(*end)
}
