// Package balance reports what a booking has received against what it owes.
package balance

import (
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/pricing"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var Tolerance = decimal.NewFromFloat(0.01)

type ExpectedSource string

const (
	SOURCE_STORED     ExpectedSource = "stored"
	SOURCE_CANONICAL  ExpectedSource = "canonical"
	SOURCE_CALCULATED ExpectedSource = "calculated"
)

type Balance struct {
	BookingID        uint            `json:"booking_id"`
	Expected         decimal.Decimal `json:"expected_total"`
	ExpectedSource   ExpectedSource  `json:"expected_source"`
	Paid             decimal.Decimal `json:"paid"`
	Refunded         decimal.Decimal `json:"refunded"`
	VouchersUsed     decimal.Decimal `json:"vouchers_used"`
	VouchersRefunded decimal.Decimal `json:"vouchers_refunded"`
	Current          decimal.Decimal `json:"current_balance"`
	Pending          decimal.Decimal `json:"pending_amount"`
	FullyPaid        bool            `json:"is_fully_paid"`
}

// FromRecords folds payments and voucher logs into a balance. no_refund,
// pending and refund_pending payments never move it.
func FromRecords(expected decimal.Decimal, payments []models.Payment, logs []models.VoucherUsageLog) Balance {
	b := Balance{
		Expected:         expected,
		Paid:             decimal.Zero,
		Refunded:         decimal.Zero,
		VouchersUsed:     decimal.Zero,
		VouchersRefunded: decimal.Zero,
	}
	for _, p := range payments {
		switch p.Status {
		case types.PAYMENT_PAID:
			b.Paid = b.Paid.Add(p.Amount)
		case types.PAYMENT_REFUND, types.PAYMENT_PARTIAL_REFUND:
			b.Refunded = b.Refunded.Add(p.Amount.Abs())
		}
	}
	for _, l := range logs {
		if l.Amount.IsNegative() {
			b.VouchersRefunded = b.VouchersRefunded.Add(l.Amount.Neg())
		} else {
			b.VouchersUsed = b.VouchersUsed.Add(l.Amount)
		}
	}
	b.Current = b.Paid.Add(b.VouchersUsed).Sub(b.Refunded).Sub(b.VouchersRefunded)
	b.Pending = decimal.Max(decimal.Zero, expected.Sub(b.Current))
	b.FullyPaid = b.Pending.LessThanOrEqual(Tolerance)
	return b
}

// CanonicalTotal sums raw line prices grouped by (client, course). A collective
// course is charged once per client, so only the first line of the group counts.
func CanonicalTotal(lines []models.BookingLine) (decimal.Decimal, bool) {
	type key struct{ client, course uint }
	seen := map[key]bool{}
	total := decimal.Zero
	for _, l := range lines {
		if l.IsCancelled() {
			continue
		}
		k := key{l.ClientID, l.CourseID}
		if l.CourseType == types.COURSE_COLLECTIVE && seen[k] {
			continue
		}
		seen[k] = true
		total = total.Add(l.Price)
	}
	return total, total.IsPositive()
}

func Compute(tx *gorm.DB, bookingID uint) (*Balance, error) {
	booking, courses, err := pricing.LoadBooking(tx, bookingID)
	if err != nil {
		return nil, err
	}

	var payments []models.Payment
	if err := tx.Where("booking_id = ?", bookingID).Find(&payments).Error; err != nil {
		return nil, err
	}
	var logs []models.VoucherUsageLog
	if err := tx.Where("booking_id = ?", bookingID).Find(&logs).Error; err != nil {
		return nil, err
	}

	expected, source := booking.PriceTotal.Decimal, SOURCE_STORED
	if !booking.PriceTotal.Valid {
		if canonical, ok := CanonicalTotal(booking.BookingLines); ok {
			expected, source = canonical, SOURCE_CANONICAL
		} else {
			expected = pricing.Calculate(*booking, booking.BookingLines, courses).Total
			source = SOURCE_CALCULATED
		}
	}

	b := FromRecords(expected, payments, logs)
	b.BookingID = booking.ID
	b.ExpectedSource = source
	return &b, nil
}
