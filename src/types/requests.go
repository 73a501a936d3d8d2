package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type CartItemKind string

const (
	CART_COLLECTIVE CartItemKind = "collective"
	CART_PRIVATE    CartItemKind = "private"
	CART_ACTIVITY   CartItemKind = "activity"
)

// CourseType maps the cart kind onto the course type it may reference.
func (k CartItemKind) CourseType() CourseType {
	switch k {
	case CART_PRIVATE:
		return COURSE_PRIVATE
	case CART_ACTIVITY:
		return COURSE_ACTIVITY
	}
	return COURSE_COLLECTIVE
}

type CartExtra struct {
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" binding:"min=1"`
}

// CartLine is one seat for one client on one course occurrence.
type CartLine struct {
	ClientID         uint            `json:"client_id" binding:"required"`
	CourseDateID     uint            `json:"course_date_id" binding:"required"`
	CourseGroupID    *uint           `json:"course_group_id,omitempty"`
	CourseSubgroupID *uint           `json:"course_subgroup_id,omitempty"`
	MonitorID        *uint           `json:"monitor_id,omitempty"`
	DegreeID         *uint           `json:"degree_id,omitempty"`
	HourStart        string          `json:"hour_start,omitempty" binding:"omitempty,clock"`
	HourEnd          string          `json:"hour_end,omitempty" binding:"omitempty,clock"`
	Price            decimal.Decimal `json:"price"`
	Extras           []CartExtra     `json:"extras,omitempty" binding:"dive"`
}

// CartItem is one "add to cart" action. Kind selects which CartLine fields are required.
type CartItem struct {
	Kind     CartItemKind `json:"kind" binding:"required,oneof=collective private activity"`
	CourseID uint         `json:"course_id" binding:"required"`
	Lines    []CartLine   `json:"lines" binding:"required,min=1,dive"`
}

type VoucherApplication struct {
	VoucherID uint            `json:"voucher_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type CreateBookingRequest struct {
	SchoolID                   uint                 `json:"-"`
	ClientMainID               uint                 `json:"client_main_id" binding:"required"`
	Items                      []CartItem           `json:"cart" binding:"required,min=1,dive"`
	DiscountCodeID             *uint                `json:"discount_code_id,omitempty"`
	Vouchers                   []VoucherApplication `json:"vouchers,omitempty" binding:"dive"`
	PriceTotal                 *decimal.Decimal     `json:"price_total,omitempty"`
	Basket                     json.RawMessage      `json:"basket,omitempty"`
	HasCancellationInsurance   bool                 `json:"has_cancellation_insurance"`
	PriceCancellationInsurance decimal.Decimal      `json:"price_cancellation_insurance"`
	HasTVA                     bool                 `json:"has_tva"`
	PriceTVA                   decimal.Decimal      `json:"price_tva"`
	Source                     string               `json:"source,omitempty"`
	Notes                      string               `json:"notes,omitempty"`
	RequestID                  string               `json:"request_id,omitempty"`
}

type CancelBookingRequest struct {
	LineIDs    []uint     `json:"line_ids,omitempty"`
	RefundMode RefundMode `json:"refund_mode,omitempty" binding:"omitempty,oneof=none refund refund_voucher no_refund"`
	Reason     string     `json:"reason,omitempty"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method" binding:"required,oneof=cash card stripe"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

type PaymentLinkRequest struct {
	ReturnURL string `json:"return_url" binding:"required,url"`
}

type AvailableMonitorsRequest struct {
	SportID        uint   `json:"sport_id" binding:"required"`
	Date           string `json:"date" binding:"required,datetime=2006-01-02"`
	HourStart      string `json:"hour_start" binding:"required,clock"`
	HourEnd        string `json:"hour_end" binding:"required,clock"`
	MinDegreeOrder int    `json:"min_degree_order"`
	ClientIDs      []uint `json:"client_ids,omitempty"`
}
