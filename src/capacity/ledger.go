// Package capacity counts and reserves seats on collective course subgroups.
package capacity

import (
	"errors"
	"hash/fnv"
	"math"

	"github.com/neuron-e/api-boukii-sub005/src/db"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/models/scopes"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Unlimited is returned for subgroups without a participant cap.
const Unlimited = math.MaxInt32

var ErrSubgroupNotFound = errors.New("subgroup not found")

// Occupied counts the lines holding a seat on the subgroup for date.
func Occupied(tx *gorm.DB, subgroupID uint, date string) (int64, error) {
	var n int64
	err := tx.
		Model(&models.BookingLine{}).
		Scopes(scopes.HoldingLines).
		Where("booking_lines.course_subgroup_id = ?", subgroupID).
		Where("booking_lines.date = ?", date).
		Count(&n).
		Error
	return n, err
}

func remaining(sg models.CourseSubgroup, occupied int64) int {
	if sg.MaxParticipants == nil {
		return Unlimited
	}
	return *sg.MaxParticipants - int(occupied)
}

// AvailableSlots is a plain read. Use Reserve when the answer decides a write.
func AvailableSlots(tx *gorm.DB, subgroupID uint, date string) (int, error) {
	var sg models.CourseSubgroup
	if err := tx.Scopes(scopes.WithID(subgroupID)).First(&sg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSubgroupNotFound
		}
		return 0, err
	}
	occupied, err := Occupied(tx, subgroupID, date)
	if err != nil {
		return 0, err
	}
	return remaining(sg, occupied), nil
}

// Reserve locks the subgroup row and checks that seats are still free. The lock
// is held until tx ends, so the caller must insert its lines in the same tx.
func Reserve(tx *gorm.DB, subgroupID uint, date string, seats int) (*models.CourseSubgroup, error) {
	var sg models.CourseSubgroup
	err := tx.
		Clauses(clause.Locking{
			Strength: "UPDATE",
			Table:    clause.Table{Name: clause.CurrentTable},
		}).
		Scopes(scopes.WithID(subgroupID)).
		First(&sg).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubgroupNotFound
		}
		return nil, err
	}
	occupied, err := Occupied(tx, subgroupID, date)
	if err != nil {
		return nil, err
	}
	available := remaining(sg, occupied)
	if available <= 0 || available < seats {
		return nil, &types.CapacityError{SubgroupID: subgroupID, Date: date, Available: max(available, 0), Requested: seats}
	}
	return &sg, nil
}

// LockWindow serializes private bookings of one school, sport and day. On
// postgres it takes a transaction scoped advisory lock; other dialects rely on
// their own transaction isolation.
func LockWindow(tx *gorm.DB, schoolID, sportID uint, date string) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", WindowKey(schoolID, sportID, date)).Error
}

func WindowKey(schoolID, sportID uint, date string) int64 {
	h := fnv.New64a()
	h.Write([]byte("private"))
	h.Write([]byte{byte(schoolID), byte(schoolID >> 8), byte(schoolID >> 16), byte(schoolID >> 24)})
	h.Write([]byte{byte(sportID), byte(sportID >> 8), byte(sportID >> 16), byte(sportID >> 24)})
	h.Write([]byte(date))
	return int64(h.Sum64())
}
