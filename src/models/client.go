package models

import (
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/types"
)

const AdultAge = 18

type Client struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	SchoolID    uint   `gorm:"index" json:"school_id"`
	UserID      *uint  `json:"user_id,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	BirthDate   string `gorm:"size:10" json:"birth_date,omitempty"`
	Language1ID *uint  `json:"language1_id,omitempty"`
	Language2ID *uint  `json:"language2_id,omitempty"`
	Language3ID *uint  `json:"language3_id,omitempty"`

	types.Timestamps
}

func (c Client) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

func (c Client) Languages() []uint {
	return collectLanguages(c.Language1ID, c.Language2ID, c.Language3ID)
}

// IsAdultOn reports whether the client is of age on the given day. Clients
// without a birth date are treated as adults.
func (c Client) IsAdultOn(day time.Time) bool {
	if c.BirthDate == "" {
		return true
	}
	born, err := time.Parse(time.DateOnly, c.BirthDate)
	if err != nil {
		return true
	}
	return !born.AddDate(AdultAge, 0, 0).After(day)
}

func collectLanguages(ids ...*uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != nil && *id > 0 {
			out = append(out, *id)
		}
	}
	return out
}
