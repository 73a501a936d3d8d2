package availability

import (
	"fmt"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/config"
)

// ParseClock turns "HH:MM" (or "HH:MM:SS") into minutes after midnight.
func ParseClock(s string) (int, error) {
	layout := config.CLOCK_FORMAT
	if len(s) == 8 {
		layout = time.TimeOnly
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Overlaps treats windows as open intervals: touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// Window is a time range on one day, in minutes after midnight.
type Window struct {
	Date  string
	Start int
	End   int
}

func NewWindow(date, start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Date: date, Start: s, End: e}, nil
}

func (w Window) Overlaps(o Window) bool {
	return w.Date == o.Date && Overlaps(w.Start, w.End, o.Start, o.End)
}

// overlapsClock reports whether the HH:MM range overlaps w. Unparseable
// ranges are treated as overlapping so bad data blocks instead of double books.
func (w Window) overlapsClock(start, end string) bool {
	s, err := ParseClock(start)
	if err != nil {
		return true
	}
	e, err := ParseClock(end)
	if err != nil {
		return true
	}
	return Overlaps(w.Start, w.End, s, e)
}
