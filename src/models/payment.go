package models

import (
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

// Payment rows are never edited once settled; a refund is a new row.
type Payment struct {
	ID        uint                `gorm:"primarykey" json:"id"`
	BookingID uint                `gorm:"index" json:"booking_id"`
	SchoolID  uint                `gorm:"index" json:"school_id"`
	Amount    decimal.Decimal     `gorm:"type:decimal(12,2)" json:"amount"`
	Status    types.PaymentStatus `gorm:"size:32" json:"status"`
	Method    types.PaymentMethod `gorm:"size:32" json:"method"`
	Reference *string             `json:"reference,omitempty"`
	Notes     string              `json:"notes,omitempty"`

	types.Timestamps
}
