package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}

// Scan accepts both []byte (postgres) and string (sqlite) payloads.
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}

type AppEnv string

const (
	Local      AppEnv = "local"
	Test       AppEnv = "test"
	Production AppEnv = "production"
)

type BookingStatus string

const (
	BOOKING_PROVISIONAL         BookingStatus = "provisional"
	BOOKING_ACTIVE              BookingStatus = "active"
	BOOKING_PARTIALLY_CANCELLED BookingStatus = "partially_cancelled"
	BOOKING_FULLY_CANCELLED     BookingStatus = "fully_cancelled"
)

type LineStatus string

const (
	LINE_PROVISIONAL LineStatus = "provisional"
	LINE_ACTIVE      LineStatus = "active"
	LINE_CANCELLED   LineStatus = "cancelled"
)

// HoldingStatuses are the line states that occupy capacity.
var HoldingStatuses = []LineStatus{LINE_ACTIVE, LINE_PROVISIONAL}

type CourseType int

const (
	COURSE_COLLECTIVE CourseType = 1
	COURSE_PRIVATE    CourseType = 2
	COURSE_ACTIVITY   CourseType = 3
)

func (c CourseType) String() string {
	switch c {
	case COURSE_COLLECTIVE:
		return "collective"
	case COURSE_PRIVATE:
		return "private"
	case COURSE_ACTIVITY:
		return "activity"
	}
	return "unknown"
}

type DiscountType string

const (
	DISCOUNT_PERCENTAGE   DiscountType = "percentage"
	DISCOUNT_FIXED_AMOUNT DiscountType = "fixed_amount"
)

type PaymentStatus string

const (
	PAYMENT_PAID           PaymentStatus = "paid"
	PAYMENT_REFUND         PaymentStatus = "refund"
	PAYMENT_PARTIAL_REFUND PaymentStatus = "partial_refund"
	PAYMENT_NO_REFUND      PaymentStatus = "no_refund"
	PAYMENT_PENDING        PaymentStatus = "pending"
	PAYMENT_REFUND_PENDING PaymentStatus = "refund_pending"
)

type PaymentMethod string

const (
	PAYMENT_METHOD_CASH    PaymentMethod = "cash"
	PAYMENT_METHOD_CARD    PaymentMethod = "card"
	PAYMENT_METHOD_STRIPE  PaymentMethod = "stripe"
	PAYMENT_METHOD_VOUCHER PaymentMethod = "voucher"
)

type RefundMode string

const (
	REFUND_NONE    RefundMode = "none"
	REFUND_GATEWAY RefundMode = "refund"
	REFUND_VOUCHER RefundMode = "refund_voucher"
	REFUND_WAIVED  RefundMode = "no_refund"
)

// IntervalDiscount reduces a flexible course when a client books at least Dates occurrences.
type IntervalDiscount struct {
	Dates      int     `json:"dates"`
	Percentage float64 `json:"percentage"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}
