package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateRequest = errors.New("duplicate booking request")
	ErrBookingFailed    = errors.New("booking could not be created")
	ErrGatewayFailed    = errors.New("payment gateway returned no result")
	ErrNothingPending   = errors.New("booking has no pending amount")
)

// ValidationError reports malformed or missing input. Item and Line are -1 when the
// problem is not tied to a cart position.
type ValidationError struct {
	Field   string
	Item    int
	Line    int
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Item: -1, Line: -1, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Item >= 0 {
		return fmt.Sprintf("cart[%d].lines[%d].%s: %s", e.Item, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type CapacityError struct {
	SubgroupID uint
	Date       string
	Available  int
	Requested  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("subgroup %d is full on %s (available %d, requested %d)", e.SubgroupID, e.Date, e.Available, e.Requested)
}

type TimingError struct {
	Date      string
	HourStart string
	HourEnd   string
	Reason    string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("invalid window %s %s-%s: %s", e.Date, e.HourStart, e.HourEnd, e.Reason)
}

type OverbookingError struct {
	SportID    uint
	Date       string
	HourStart  string
	HourEnd    string
	Available  int
	Allowance  int
	Concurrent int
}

func (e *OverbookingError) Error() string {
	return fmt.Sprintf("no instructor capacity for sport %d on %s %s-%s (available %d, allowance %d, booked %d)",
		e.SportID, e.Date, e.HourStart, e.HourEnd, e.Available, e.Allowance, e.Concurrent)
}

type MonitorUnavailableError struct {
	MonitorID uint
	Date      string
	HourStart string
	HourEnd   string
}

func (e *MonitorUnavailableError) Error() string {
	return fmt.Sprintf("monitor %d is not available on %s %s-%s", e.MonitorID, e.Date, e.HourStart, e.HourEnd)
}

// LineError attaches a cart position to a capacity or availability conflict.
type LineError struct {
	Item int
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("cart[%d].lines[%d]: %s", e.Item, e.Line, e.Err.Error())
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type DiscountRejection string

const (
	DISCOUNT_NOT_FOUND       DiscountRejection = "not_found"
	DISCOUNT_SCHOOL_MISMATCH DiscountRejection = "school_mismatch"
	DISCOUNT_NOT_STACKABLE   DiscountRejection = "not_stackable"
	DISCOUNT_SPORT_MISMATCH  DiscountRejection = "sport_mismatch"
	DISCOUNT_COURSE_MISMATCH DiscountRejection = "course_mismatch"
	DISCOUNT_DEGREE_MISMATCH DiscountRejection = "degree_mismatch"
	DISCOUNT_CLIENT_MISMATCH DiscountRejection = "client_mismatch"
	DISCOUNT_MIN_PURCHASE    DiscountRejection = "min_purchase"
	DISCOUNT_NOT_STARTED     DiscountRejection = "not_started"
	DISCOUNT_EXPIRED         DiscountRejection = "expired"
	DISCOUNT_EXHAUSTED       DiscountRejection = "exhausted"
	DISCOUNT_USER_LIMIT      DiscountRejection = "user_limit"
	DISCOUNT_INACTIVE        DiscountRejection = "inactive"
)

type DiscountError struct {
	CodeID uint
	Reason DiscountRejection
}

func (e *DiscountError) Error() string {
	return fmt.Sprintf("discount code %d rejected: %s", e.CodeID, e.Reason)
}

type VoucherRejection string

const (
	VOUCHER_NOT_FOUND       VoucherRejection = "not_found"
	VOUCHER_SCHOOL_MISMATCH VoucherRejection = "school_mismatch"
	VOUCHER_INVALID_AMOUNT  VoucherRejection = "invalid_amount"
	VOUCHER_INSUFFICIENT    VoucherRejection = "insufficient_balance"
	VOUCHER_INACTIVE        VoucherRejection = "inactive"
	VOUCHER_EXPIRED         VoucherRejection = "expired"
	VOUCHER_DRAINED         VoucherRejection = "no_balance"
	VOUCHER_MAX_USES        VoucherRejection = "max_uses_reached"
	VOUCHER_DELETED         VoucherRejection = "deleted"
	VOUCHER_WRONG_CLIENT    VoucherRejection = "client_mismatch"
	VOUCHER_OVER_REFUND     VoucherRejection = "refund_exceeds_usage"
)

type VoucherError struct {
	VoucherID uint
	Reason    VoucherRejection
}

func (e VoucherError) Error() string {
	return fmt.Sprintf("voucher %d: %s", e.VoucherID, e.Reason)
}

// VoucherBatchError carries every voucher problem found in one request.
type VoucherBatchError struct {
	Errors []VoucherError
}

func (e *VoucherBatchError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.Error())
	}
	return "voucher validation failed: " + strings.Join(msgs, "; ")
}

func (e *VoucherBatchError) Has(reason VoucherRejection) bool {
	for _, v := range e.Errors {
		if v.Reason == reason {
			return true
		}
	}
	return false
}
