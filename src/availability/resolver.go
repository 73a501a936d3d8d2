// Package availability decides which instructors can take a private lesson and
// whether a school may sell another lesson in a window.
package availability

import (
	"slices"

	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/models/scopes"
	"gorm.io/gorm"
)

type Query struct {
	SchoolID       uint
	SportID        uint
	Window         Window
	MinDegreeOrder int
	Languages      []uint
	HasAdult       bool
}

// Eligible returns active monitors of the school authorized for the sport at or
// above the minimum degree, accepting adults when needed and sharing a language
// with the clients when languages are known.
func Eligible(tx *gorm.DB, q Query) ([]models.Monitor, error) {
	authorized := tx.
		Model(&models.MonitorSportAuthorization{}).
		Select("monitor_sport_authorizations.monitor_id").
		Joins("JOIN degrees ON degrees.id = monitor_sport_authorizations.degree_id").
		Where("monitor_sport_authorizations.school_id = ?", q.SchoolID).
		Where("monitor_sport_authorizations.sport_id = ?", q.SportID).
		Where("degrees.degree_order >= ?", q.MinDegreeOrder)

	stmt := tx.
		Model(&models.Monitor{}).
		Joins("JOIN monitor_schools ON monitor_schools.monitor_id = monitors.id").
		Where("monitor_schools.school_id = ?", q.SchoolID).
		Where("monitor_schools.active_school = ?", true).
		Where("monitors.active = ?", true).
		Where("monitors.id IN (?)", authorized)
	if q.HasAdult {
		stmt = stmt.Where("monitors.allow_adults = ?", true)
	}

	var monitors []models.Monitor
	if err := stmt.Distinct("monitors.*").Order("monitors.id").Find(&monitors).Error; err != nil {
		return nil, err
	}
	if len(q.Languages) == 0 {
		return monitors, nil
	}
	out := monitors[:0]
	for _, m := range monitors {
		if speaksAny(m.Languages(), q.Languages) {
			out = append(out, m)
		}
	}
	return out, nil
}

func speaksAny(monitor, clients []uint) bool {
	for _, l := range clients {
		if slices.Contains(monitor, l) {
			return true
		}
	}
	return false
}

// Busy returns the ids among candidates already committed in the window by a
// booking line, an absence, or a collective subgroup assignment.
func Busy(tx *gorm.DB, w Window, candidates []uint) (map[uint]bool, error) {
	busy := map[uint]bool{}
	if len(candidates) == 0 {
		return busy, nil
	}

	var lines []models.BookingLine
	err := tx.
		Model(&models.BookingLine{}).
		Scopes(scopes.HoldingLines).
		Select("booking_lines.monitor_id", "booking_lines.hour_start", "booking_lines.hour_end").
		Where("booking_lines.monitor_id IN ?", candidates).
		Where("booking_lines.date = ?", w.Date).
		Find(&lines).
		Error
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.MonitorID != nil && w.overlapsClock(l.HourStart, l.HourEnd) {
			busy[*l.MonitorID] = true
		}
	}

	var nwds []models.MonitorNwd
	err = tx.
		Where("monitor_id IN ?", candidates).
		Where("start_date <= ? AND end_date >= ?", w.Date, w.Date).
		Find(&nwds).
		Error
	if err != nil {
		return nil, err
	}
	for _, n := range nwds {
		if n.FullDay || w.overlapsClock(n.StartTime, n.EndTime) {
			busy[n.MonitorID] = true
		}
	}

	var assigned []struct {
		MonitorID uint
		HourStart string
		HourEnd   string
	}
	err = tx.
		Model(&models.CourseSubgroup{}).
		Select("course_subgroups.monitor_id, course_dates.hour_start, course_dates.hour_end").
		Joins("JOIN course_dates ON course_dates.id = course_subgroups.course_date_id AND course_dates.deleted_at IS NULL").
		Where("course_subgroups.monitor_id IN ?", candidates).
		Where("course_dates.date = ?", w.Date).
		Scan(&assigned).
		Error
	if err != nil {
		return nil, err
	}
	for _, a := range assigned {
		if w.overlapsClock(a.HourStart, a.HourEnd) {
			busy[a.MonitorID] = true
		}
	}
	return busy, nil
}

// Available resolves the monitors that can teach in the window right now.
func Available(tx *gorm.DB, q Query) ([]models.Monitor, error) {
	eligible, err := Eligible(tx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(eligible))
	for _, m := range eligible {
		ids = append(ids, m.ID)
	}
	busy, err := Busy(tx, q.Window, ids)
	if err != nil {
		return nil, err
	}
	free := make([]models.Monitor, 0, len(eligible))
	for _, m := range eligible {
		if !busy[m.ID] {
			free = append(free, m)
		}
	}
	return free, nil
}
