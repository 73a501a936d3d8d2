package scopes

import (
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"gorm.io/gorm"
)

func WithID(id uint) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithIDs(ids ...uint) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id IN (?)", ids)
	}
}

func WithSchool(schoolID uint) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("school_id = ?", schoolID)
	}
}

// HoldingLines keeps booking lines that occupy capacity: active or provisional
// lines whose parent booking is not fully cancelled.
func HoldingLines(db *gorm.DB) *gorm.DB {
	return db.
		Joins("JOIN bookings ON bookings.id = booking_lines.booking_id AND bookings.deleted_at IS NULL").
		Where("booking_lines.status IN ?", types.HoldingStatuses).
		Where("bookings.status <> ?", types.BOOKING_FULLY_CANCELLED)
}

func WithProvisionalStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", types.BOOKING_PROVISIONAL)
}
