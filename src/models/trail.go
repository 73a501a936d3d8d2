package models

import (
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

type BookingLog struct {
	ID          uint        `gorm:"primarykey" json:"id"`
	BookingID   uint        `gorm:"index" json:"booking_id"`
	Action      string      `gorm:"size:64" json:"action"`
	Description string      `json:"description,omitempty"`
	Initiator   string      `json:"initiator,omitempty"`
	Metadata    types.JSONB `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PriceSnapshot records a computed breakdown so total changes can be traced.
type PriceSnapshot struct {
	ID         uint                `gorm:"primarykey" json:"id"`
	BookingID  uint                `gorm:"index" json:"booking_id"`
	Reason     string              `gorm:"size:64" json:"reason"`
	Note       string              `json:"note,omitempty"`
	Stored     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"stored"`
	Calculated decimal.Decimal     `gorm:"type:decimal(12,2)" json:"calculated"`
	Breakdown  types.JSONB         `gorm:"type:text" json:"breakdown"`
	CreatedAt  time.Time           `json:"created_at"`
}
