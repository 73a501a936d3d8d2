package models

import (
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

type Sport struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Name string `json:"name"`
}

// Degree is a skill tier. Higher DegreeOrder means a more advanced level.
type Degree struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	SchoolID    uint   `gorm:"index" json:"school_id"`
	SportID     uint   `json:"sport_id"`
	Name        string `json:"name"`
	DegreeOrder int    `json:"degree_order"`
}

type Course struct {
	ID                uint                     `gorm:"primarykey" json:"id"`
	SchoolID          uint                     `gorm:"index" json:"school_id"`
	SportID           uint                     `json:"sport_id"`
	Name              string                   `json:"name"`
	CourseType        types.CourseType         `json:"course_type"`
	IsFlexible        bool                     `json:"is_flexible"`
	Price             decimal.Decimal          `gorm:"type:decimal(12,2)" json:"price"`
	Currency          string                   `gorm:"size:3" json:"currency"`
	IntervalDiscounts []types.IntervalDiscount `gorm:"serializer:json" json:"interval_discounts,omitempty"`

	CourseDates []CourseDate `json:"course_dates,omitempty"`

	types.Timestamps
}

// CourseDate is one occurrence of a course. Date is YYYY-MM-DD, hours are HH:MM.
type CourseDate struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	CourseID  uint   `gorm:"index" json:"course_id"`
	Date      string `gorm:"size:10;index" json:"date"`
	HourStart string `gorm:"size:5" json:"hour_start"`
	HourEnd   string `gorm:"size:5" json:"hour_end"`

	types.Timestamps
}

type CourseGroup struct {
	ID           uint  `gorm:"primarykey" json:"id"`
	CourseID     uint  `gorm:"index" json:"course_id"`
	CourseDateID uint  `gorm:"index" json:"course_date_id"`
	DegreeID     *uint `json:"degree_id,omitempty"`

	types.Timestamps
}

// CourseSubgroup is the capacity unit of a collective course occurrence.
// A nil MaxParticipants means unlimited seats.
type CourseSubgroup struct {
	ID              uint  `gorm:"primarykey" json:"id"`
	CourseID        uint  `gorm:"index" json:"course_id"`
	CourseDateID    uint  `gorm:"index" json:"course_date_id"`
	CourseGroupID   uint  `gorm:"index" json:"course_group_id"`
	DegreeID        *uint `json:"degree_id,omitempty"`
	MonitorID       *uint `gorm:"index" json:"monitor_id,omitempty"`
	MaxParticipants *int  `json:"max_participants,omitempty"`

	types.Timestamps
}
