package models

import "github.com/neuron-e/api-boukii-sub005/src/types"

// Monitor is an instructor. A monitor can work for several schools.
type Monitor struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`
	AllowAdults bool   `json:"allow_adults"`
	Language1ID *uint  `json:"language1_id,omitempty"`
	Language2ID *uint  `json:"language2_id,omitempty"`
	Language3ID *uint  `json:"language3_id,omitempty"`

	types.Timestamps
}

func (m Monitor) Languages() []uint {
	return collectLanguages(m.Language1ID, m.Language2ID, m.Language3ID)
}

type MonitorSchool struct {
	ID           uint `gorm:"primarykey" json:"id"`
	MonitorID    uint `gorm:"index" json:"monitor_id"`
	SchoolID     uint `gorm:"index" json:"school_id"`
	ActiveSchool bool `json:"active_school"`
}

// MonitorSportAuthorization grants a monitor a sport up to the given degree.
type MonitorSportAuthorization struct {
	ID        uint `gorm:"primarykey" json:"id"`
	MonitorID uint `gorm:"index" json:"monitor_id"`
	SchoolID  uint `json:"school_id"`
	SportID   uint `json:"sport_id"`
	DegreeID  uint `json:"degree_id"`
}

// MonitorNwd is a non-working period (leave, absence, blocked time).
type MonitorNwd struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	MonitorID uint   `gorm:"index" json:"monitor_id"`
	SchoolID  uint   `json:"school_id"`
	StartDate string `gorm:"size:10" json:"start_date"`
	EndDate   string `gorm:"size:10" json:"end_date"`
	FullDay   bool   `json:"full_day"`
	StartTime string `gorm:"size:5" json:"start_time,omitempty"`
	EndTime   string `gorm:"size:5" json:"end_time,omitempty"`
	Reason    string `json:"reason,omitempty"`

	types.Timestamps
}
