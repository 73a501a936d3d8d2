// Package settlement validates and applies discount codes and store-value
// vouchers against a booking.
package settlement

import (
	"errors"
	"slices"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// DiscountContext is what a code is checked against: the ids resolved from
// the cart and the amount it applies to.
type DiscountContext struct {
	SchoolID    uint
	ClientID    uint
	SportIDs    []uint
	CourseIDs   []uint
	DegreeIDs   []uint
	ClientIDs   []uint
	Amount      decimal.Decimal
	HasVouchers bool
	Now         time.Time
}

func LoadDiscountCode(tx *gorm.DB, id uint) (*models.DiscountCode, error) {
	var code models.DiscountCode
	if err := tx.Where("id = ?", id).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &types.DiscountError{CodeID: id, Reason: types.DISCOUNT_NOT_FOUND}
		}
		return nil, err
	}
	return &code, nil
}

// CheckStackable fails when a non-stackable code meets vouchers.
func CheckStackable(code *models.DiscountCode, hasVouchers bool) error {
	if !code.Stackable && hasVouchers {
		return &types.DiscountError{CodeID: code.ID, Reason: types.DISCOUNT_NOT_STACKABLE}
	}
	return nil
}

// Preflight runs the checks that need no cart: tenant first, then stacking.
func Preflight(code *models.DiscountCode, schoolID uint, hasVouchers bool) error {
	if code.SchoolID != schoolID {
		return &types.DiscountError{CodeID: code.ID, Reason: types.DISCOUNT_SCHOOL_MISMATCH}
	}
	return CheckStackable(code, hasVouchers)
}

// scopeMatches: an empty filter is unrestricted, otherwise one of the cart ids
// must be listed.
func scopeMatches(filter, cart []uint) bool {
	if len(filter) == 0 {
		return true
	}
	for _, id := range cart {
		if slices.Contains(filter, id) {
			return true
		}
	}
	return false
}

// ValidateDiscount runs the checks in a fixed order and stops at the first
// failure, since only one code applies per booking.
func ValidateDiscount(tx *gorm.DB, code *models.DiscountCode, c DiscountContext) error {
	reject := func(reason types.DiscountRejection) error {
		return &types.DiscountError{CodeID: code.ID, Reason: reason}
	}
	if code.SchoolID != c.SchoolID {
		return reject(types.DISCOUNT_SCHOOL_MISMATCH)
	}
	if !code.Active {
		return reject(types.DISCOUNT_INACTIVE)
	}
	if err := CheckStackable(code, c.HasVouchers); err != nil {
		return err
	}
	if !scopeMatches(code.SportIDs, c.SportIDs) {
		return reject(types.DISCOUNT_SPORT_MISMATCH)
	}
	if !scopeMatches(code.CourseIDs, c.CourseIDs) {
		return reject(types.DISCOUNT_COURSE_MISMATCH)
	}
	if !scopeMatches(code.DegreeIDs, c.DegreeIDs) {
		return reject(types.DISCOUNT_DEGREE_MISMATCH)
	}
	if !scopeMatches(code.ClientIDs, append([]uint{c.ClientID}, c.ClientIDs...)) {
		return reject(types.DISCOUNT_CLIENT_MISMATCH)
	}
	if code.MinPurchaseAmount.Valid && c.Amount.LessThan(code.MinPurchaseAmount.Decimal) {
		return reject(types.DISCOUNT_MIN_PURCHASE)
	}
	if code.ValidFrom != nil && c.Now.Before(*code.ValidFrom) {
		return reject(types.DISCOUNT_NOT_STARTED)
	}
	if code.ValidTo != nil && c.Now.After(*code.ValidTo) {
		return reject(types.DISCOUNT_EXPIRED)
	}
	if code.Remaining != nil && *code.Remaining <= 0 {
		return reject(types.DISCOUNT_EXHAUSTED)
	}
	if code.MaxUsesPerUser != nil {
		var used int64
		err := tx.
			Model(&models.DiscountCodeUsage{}).
			Where("discount_code_id = ?", code.ID).
			Where("client_id = ?", c.ClientID).
			Count(&used).
			Error
		if err != nil {
			return err
		}
		if used >= int64(*code.MaxUsesPerUser) {
			return reject(types.DISCOUNT_USER_LIMIT)
		}
	}
	return nil
}

// DiscountAmount is the money a valid code takes off amount. It never exceeds amount.
func DiscountAmount(code *models.DiscountCode, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	var off decimal.Decimal
	switch code.DiscountType {
	case types.DISCOUNT_PERCENTAGE:
		off = amount.Mul(code.DiscountValue).Div(hundred).Round(2)
		if code.MaxDiscountAmount.Valid && off.GreaterThan(code.MaxDiscountAmount.Decimal) {
			off = code.MaxDiscountAmount.Decimal
		}
	default:
		off = decimal.Min(code.DiscountValue, amount)
	}
	if off.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(off, amount)
}

// RecordDiscountUsage consumes one use of the code and appends the usage row.
// The decrement is conditional so two bookings cannot take the last use.
func RecordDiscountUsage(tx *gorm.DB, code *models.DiscountCode, bookingID, clientID uint, amount decimal.Decimal) error {
	res := tx.
		Model(&models.DiscountCode{}).
		Where("id = ?", code.ID).
		Where("remaining IS NULL OR remaining > 0").
		Updates(map[string]any{
			"uses_count": gorm.Expr("uses_count + 1"),
			"remaining":  gorm.Expr("CASE WHEN remaining IS NULL THEN NULL ELSE remaining - 1 END"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &types.DiscountError{CodeID: code.ID, Reason: types.DISCOUNT_EXHAUSTED}
	}
	return tx.Create(&models.DiscountCodeUsage{
		DiscountCodeID: code.ID,
		BookingID:      bookingID,
		ClientID:       clientID,
		Amount:         amount,
	}).Error
}
