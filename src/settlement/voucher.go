package settlement

import (
	"errors"
	"slices"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VoucherContext struct {
	SchoolID uint
	ClientID uint
	Now      time.Time
}

// PreparedVoucher is a locked voucher and the total requested from it.
type PreparedVoucher struct {
	Voucher models.Voucher
	Amount  decimal.Decimal
}

func Total(prepared []PreparedVoucher) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range prepared {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// Cap trims the prepared amounts, in order, so their sum does not exceed
// limit. Vouchers left with nothing to debit are dropped.
func Cap(prepared []PreparedVoucher, limit decimal.Decimal) []PreparedVoucher {
	out := make([]PreparedVoucher, 0, len(prepared))
	left := limit
	for _, p := range prepared {
		if !left.IsPositive() {
			break
		}
		p.Amount = decimal.Min(p.Amount, left)
		left = left.Sub(p.Amount)
		out = append(out, p)
	}
	return out
}

func lockVouchers(tx *gorm.DB, ids []uint) (map[uint]models.Voucher, error) {
	var vouchers []models.Voucher
	err := tx.
		Unscoped().
		Clauses(clause.Locking{
			Strength: "UPDATE",
			Table:    clause.Table{Name: clause.CurrentTable},
		}).
		Where("id IN ?", ids).
		Order("id").
		Find(&vouchers).
		Error
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Voucher, len(vouchers))
	for _, v := range vouchers {
		byID[v.ID] = v
	}
	return byID, nil
}

func checkVoucher(v models.Voucher, amount decimal.Decimal, c VoucherContext) []types.VoucherRejection {
	var out []types.VoucherRejection
	if v.SchoolID != c.SchoolID {
		out = append(out, types.VOUCHER_SCHOOL_MISMATCH)
	}
	if !amount.IsPositive() {
		out = append(out, types.VOUCHER_INVALID_AMOUNT)
	} else if amount.GreaterThan(v.RemainingBalance) {
		out = append(out, types.VOUCHER_INSUFFICIENT)
	}
	if !v.Active {
		out = append(out, types.VOUCHER_INACTIVE)
	}
	if v.ExpiresAt != nil && !c.Now.Before(*v.ExpiresAt) {
		out = append(out, types.VOUCHER_EXPIRED)
	}
	if !v.RemainingBalance.IsPositive() {
		out = append(out, types.VOUCHER_DRAINED)
	}
	if v.MaxUses != nil && v.Uses >= *v.MaxUses {
		out = append(out, types.VOUCHER_MAX_USES)
	}
	if v.DeletedAt.Valid {
		out = append(out, types.VOUCHER_DELETED)
	}
	if !usableBy(v, c.ClientID) {
		out = append(out, types.VOUCHER_WRONG_CLIENT)
	}
	return out
}

// usableBy: a transferred voucher belongs to the transferee only, an assigned
// voucher to its client, a generic voucher to anyone.
func usableBy(v models.Voucher, clientID uint) bool {
	if v.TransferredToClientID != nil {
		return *v.TransferredToClientID == clientID
	}
	if v.ClientID != nil {
		return *v.ClientID == clientID
	}
	return true
}

// PrepareVouchers locks every requested voucher in id order and validates all
// of them, returning a VoucherBatchError listing each problem found.
// Applications of the same voucher are summed.
func PrepareVouchers(tx *gorm.DB, apps []types.VoucherApplication, c VoucherContext) ([]PreparedVoucher, error) {
	if len(apps) == 0 {
		return nil, nil
	}
	requested := map[uint]decimal.Decimal{}
	ids := []uint{}
	for _, a := range apps {
		if _, ok := requested[a.VoucherID]; !ok {
			ids = append(ids, a.VoucherID)
		}
		requested[a.VoucherID] = requested[a.VoucherID].Add(a.Amount)
	}
	slices.Sort(ids)

	vouchers, err := lockVouchers(tx, ids)
	if err != nil {
		return nil, err
	}

	batch := &types.VoucherBatchError{}
	prepared := make([]PreparedVoucher, 0, len(ids))
	for _, id := range ids {
		v, ok := vouchers[id]
		if !ok {
			batch.Errors = append(batch.Errors, types.VoucherError{VoucherID: id, Reason: types.VOUCHER_NOT_FOUND})
			continue
		}
		for _, reason := range checkVoucher(v, requested[id], c) {
			batch.Errors = append(batch.Errors, types.VoucherError{VoucherID: id, Reason: reason})
		}
		prepared = append(prepared, PreparedVoucher{Voucher: v, Amount: requested[id]})
	}
	if len(batch.Errors) > 0 {
		return nil, batch
	}
	return prepared, nil
}

// ApplyVouchers debits the prepared vouchers for the booking and logs each use.
// The rows are still locked from PrepareVouchers.
func ApplyVouchers(tx *gorm.DB, prepared []PreparedVoucher, bookingID, clientID uint) error {
	for _, p := range prepared {
		balance := p.Voucher.RemainingBalance.Sub(p.Amount)
		if balance.IsNegative() {
			return &types.VoucherBatchError{Errors: []types.VoucherError{{VoucherID: p.Voucher.ID, Reason: types.VOUCHER_INSUFFICIENT}}}
		}
		err := tx.
			Model(&models.Voucher{}).
			Where("id = ?", p.Voucher.ID).
			Updates(map[string]any{
				"remaining_balance": balance,
				"uses":              p.Voucher.Uses + 1,
				"payed":             balance.IsZero(),
			}).
			Error
		if err != nil {
			return err
		}
		err = tx.Create(&models.VoucherUsageLog{
			VoucherID: p.Voucher.ID,
			BookingID: bookingID,
			ClientID:  clientID,
			Amount:    p.Amount,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// NetUsed is what the booking currently owes back to the voucher: uses minus refunds.
func NetUsed(tx *gorm.DB, voucherID, bookingID uint) (decimal.Decimal, error) {
	var logs []models.VoucherUsageLog
	err := tx.
		Where("voucher_id = ?", voucherID).
		Where("booking_id = ?", bookingID).
		Find(&logs).
		Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, l := range logs {
		sum = sum.Add(l.Amount)
	}
	return sum, nil
}

// RefundVoucher credits amount from a prior use by the booking back to the
// voucher. The balance never rises above the voucher's original quantity.
func RefundVoucher(tx *gorm.DB, voucherID, bookingID uint, amount decimal.Decimal) error {
	reject := func(reason types.VoucherRejection) error {
		return &types.VoucherBatchError{Errors: []types.VoucherError{{VoucherID: voucherID, Reason: reason}}}
	}
	if !amount.IsPositive() {
		return reject(types.VOUCHER_INVALID_AMOUNT)
	}
	vouchers, err := lockVouchers(tx, []uint{voucherID})
	if err != nil {
		return err
	}
	v, ok := vouchers[voucherID]
	if !ok {
		return reject(types.VOUCHER_NOT_FOUND)
	}
	used, err := NetUsed(tx, voucherID, bookingID)
	if err != nil {
		return err
	}
	balance := v.RemainingBalance.Add(amount)
	if amount.GreaterThan(used) || balance.GreaterThan(v.Quantity) {
		return reject(types.VOUCHER_OVER_REFUND)
	}
	err = tx.
		Model(&models.Voucher{}).
		Unscoped().
		Where("id = ?", voucherID).
		Updates(map[string]any{
			"remaining_balance": balance,
			"payed":             false,
		}).
		Error
	if err != nil {
		return err
	}
	var booking models.Booking
	if err := tx.Unscoped().Select("id", "client_main_id").Where("id = ?", bookingID).First(&booking).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(&models.VoucherUsageLog{
		VoucherID: voucherID,
		BookingID: bookingID,
		ClientID:  booking.ClientMainID,
		Amount:    amount.Neg(),
	}).Error
}
