package availability

import (
	"slices"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/models/scopes"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"gorm.io/gorm"
)

// CheckTiming validates a private lesson window against its course occurrence
// and the school's lead time.
func CheckTiming(now time.Time, school models.School, occurrence models.CourseDate, start, end string) error {
	timingErr := func(reason string) error {
		return &types.TimingError{Date: occurrence.Date, HourStart: start, HourEnd: end, Reason: reason}
	}
	w, err := NewWindow(occurrence.Date, start, end)
	if err != nil {
		return timingErr(err.Error())
	}
	if w.End <= w.Start {
		return timingErr("end must be after start")
	}
	if occurrence.HourStart != "" && occurrence.HourEnd != "" {
		bounds, err := NewWindow(occurrence.Date, occurrence.HourStart, occurrence.HourEnd)
		if err == nil && (w.Start < bounds.Start || w.End > bounds.End) {
			return timingErr("outside course hours " + occurrence.HourStart + "-" + occurrence.HourEnd)
		}
	}
	day, err := time.ParseInLocation(config.DATE_FORMAT, occurrence.Date, school.Location())
	if err != nil {
		return timingErr("invalid date")
	}
	lessonStart := day.Add(time.Duration(w.Start) * time.Minute)
	if lessonStart.Before(now.Add(school.LeadTime())) {
		return timingErr("starts too soon")
	}
	return nil
}

// ConcurrentPrivate counts the private lessons of the school and sport
// overlapping w, staffed or not. Lines added by one cart item share a group id
// and count once.
func ConcurrentPrivate(tx *gorm.DB, schoolID, sportID uint, w Window) (int, error) {
	var lines []models.BookingLine
	err := tx.
		Model(&models.BookingLine{}).
		Scopes(scopes.HoldingLines).
		Select("booking_lines.group_id", "booking_lines.hour_start", "booking_lines.hour_end").
		Where("booking_lines.school_id = ?", schoolID).
		Where("booking_lines.sport_id = ?", sportID).
		Where("booking_lines.course_type = ?", types.COURSE_PRIVATE).
		Where("booking_lines.date = ?", w.Date).
		Find(&lines).
		Error
	if err != nil {
		return 0, err
	}
	groups := map[string]bool{}
	for _, l := range lines {
		if w.overlapsClock(l.HourStart, l.HourEnd) {
			groups[l.GroupID] = true
		}
	}
	return len(groups), nil
}

// CheckOverbooking rejects a private lesson once available monitors plus the
// school's allowance no longer exceed the lessons already sold in the window.
// pending counts overlapping lessons from the same cart not yet persisted and
// assigned lists the monitors those lessons already claim.
func CheckOverbooking(tx *gorm.DB, school models.School, q Query, pending int, assigned ...uint) error {
	free, err := Available(tx, q)
	if err != nil {
		return err
	}
	monitors := free[:0]
	for _, m := range free {
		if !slices.Contains(assigned, m.ID) {
			monitors = append(monitors, m)
		}
	}
	concurrent, err := ConcurrentPrivate(tx, school.ID, q.SportID, q.Window)
	if err != nil {
		return err
	}
	concurrent += pending
	if len(monitors)+school.OverbookingAllowance <= concurrent {
		return &types.OverbookingError{
			SportID:    q.SportID,
			Date:       q.Window.Date,
			HourStart:  clock(q.Window.Start),
			HourEnd:    clock(q.Window.End),
			Available:  len(monitors),
			Allowance:  school.OverbookingAllowance,
			Concurrent: concurrent,
		}
	}
	return nil
}

func clock(minutes int) string {
	return time.Date(0, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format(config.CLOCK_FORMAT)
}
