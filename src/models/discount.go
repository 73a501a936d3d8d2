package models

import (
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

// DiscountCode scope lists are unrestricted when empty. Remaining nil means unlimited.
type DiscountCode struct {
	ID                uint                `gorm:"primarykey" json:"id"`
	SchoolID          uint                `gorm:"index" json:"school_id"`
	Code              string              `gorm:"size:64;index" json:"code"`
	DiscountType      types.DiscountType  `gorm:"size:32" json:"discount_type"`
	DiscountValue     decimal.Decimal     `gorm:"type:decimal(12,2)" json:"discount_value"`
	MaxDiscountAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"max_discount_amount"`
	MinPurchaseAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"min_purchase_amount"`
	SportIDs          []uint              `gorm:"serializer:json" json:"sport_ids,omitempty"`
	CourseIDs         []uint              `gorm:"serializer:json" json:"course_ids,omitempty"`
	DegreeIDs         []uint              `gorm:"serializer:json" json:"degree_ids,omitempty"`
	ClientIDs         []uint              `gorm:"serializer:json" json:"client_ids,omitempty"`
	Total             *int                `json:"total,omitempty"`
	Remaining         *int                `json:"remaining,omitempty"`
	MaxUsesPerUser    *int                `json:"max_uses_per_user,omitempty"`
	UsesCount         int                 `json:"uses_count"`
	ValidFrom         *time.Time          `json:"valid_from,omitempty"`
	ValidTo           *time.Time          `json:"valid_to,omitempty"`
	Stackable         bool                `json:"stackable"`
	Active            bool                `json:"active"`

	types.Timestamps
}

type DiscountCodeUsage struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	DiscountCodeID uint            `gorm:"index" json:"discount_code_id"`
	BookingID      uint            `gorm:"index" json:"booking_id"`
	ClientID       uint            `gorm:"index" json:"client_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}
