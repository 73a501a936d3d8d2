package models

import (
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
)

type Booking struct {
	ID                         uint                `gorm:"primarykey" json:"id"`
	SchoolID                   uint                `gorm:"index" json:"school_id"`
	ClientMainID               uint                `gorm:"index" json:"client_main_id"`
	Currency                   string              `gorm:"size:3" json:"currency"`
	Status                     types.BookingStatus `gorm:"size:32;index" json:"status"`
	PriceTotal                 decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"price_total"`
	PaidTotal                  decimal.Decimal     `gorm:"type:decimal(12,2)" json:"paid_total"`
	Paid                       bool                `json:"paid"`
	HasCancellationInsurance   bool                `json:"has_cancellation_insurance"`
	PriceCancellationInsurance decimal.Decimal     `gorm:"type:decimal(12,2)" json:"price_cancellation_insurance"`
	HasTVA                     bool                `json:"has_tva"`
	PriceTVA                   decimal.Decimal     `gorm:"type:decimal(12,2)" json:"price_tva"`
	DiscountCodeID             *uint               `json:"discount_code_id,omitempty"`
	DiscountCodeValue          decimal.Decimal     `gorm:"type:decimal(12,2)" json:"discount_code_value"`
	Basket                     *string             `gorm:"type:text" json:"basket,omitempty"`
	Source                     string              `json:"source,omitempty"`
	Notes                      string              `json:"notes,omitempty"`
	PaymentIntentID            *string             `json:"payment_intent_id,omitempty"`
	RequestID                  *string             `gorm:"index" json:"request_id,omitempty"`

	ClientMain   *Client       `gorm:"foreignKey:ClientMainID" json:"client_main,omitempty"`
	BookingLines []BookingLine `json:"booking_lines,omitempty"`

	types.Timestamps
}

func (b Booking) IsCancelled() bool {
	return b.Status == types.BOOKING_FULLY_CANCELLED
}

// BookingLine is a reserved seat. SportID and CourseType are copied from the
// course so availability queries avoid a join.
type BookingLine struct {
	ID               uint             `gorm:"primarykey" json:"id"`
	BookingID        uint             `gorm:"index" json:"booking_id"`
	SchoolID         uint             `gorm:"index" json:"school_id"`
	ClientID         uint             `gorm:"index" json:"client_id"`
	CourseID         uint             `gorm:"index" json:"course_id"`
	CourseType       types.CourseType `json:"course_type"`
	SportID          uint             `json:"sport_id"`
	CourseDateID     uint             `gorm:"index" json:"course_date_id"`
	CourseGroupID    *uint            `json:"course_group_id,omitempty"`
	CourseSubgroupID *uint            `gorm:"index" json:"course_subgroup_id,omitempty"`
	MonitorID        *uint            `gorm:"index" json:"monitor_id,omitempty"`
	DegreeID         *uint            `json:"degree_id,omitempty"`
	Date             string           `gorm:"size:10;index" json:"date"`
	HourStart        string           `gorm:"size:5" json:"hour_start"`
	HourEnd          string           `gorm:"size:5" json:"hour_end"`
	Price            decimal.Decimal  `gorm:"type:decimal(12,2)" json:"price"`
	Currency         string           `gorm:"size:3" json:"currency"`
	Status           types.LineStatus `gorm:"size:32;index" json:"status"`
	GroupID          string           `gorm:"size:36;index" json:"group_id"`

	Extras []BookingLineExtra `json:"extras,omitempty"`

	types.Timestamps
}

func (l BookingLine) IsCancelled() bool {
	return l.Status == types.LINE_CANCELLED
}

type BookingLineExtra struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	BookingLineID uint            `gorm:"index" json:"booking_line_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Quantity      int             `json:"quantity"`
}

func (e BookingLineExtra) Total() decimal.Decimal {
	return e.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}
