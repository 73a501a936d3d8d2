package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/neuron-e/api-boukii-sub005/src/balance"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/pricing"
	"github.com/neuron-e/api-boukii-sub005/src/settlement"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CancelResult struct {
	Booking   models.Booking       `json:"booking"`
	Cancelled []models.BookingLine `json:"cancelled_lines"`
	Refunded  decimal.Decimal      `json:"refunded"`
	Balance   balance.Balance      `json:"balance"`
}

func lockBooking(tx *gorm.DB, schoolID, bookingID uint) (*models.Booking, error) {
	var b models.Booking
	err := tx.
		Clauses(clause.Locking{
			Strength: "UPDATE",
			Table:    clause.Table{Name: clause.CurrentTable},
		}).
		Where("id = ?", bookingID).
		Where("school_id = ?", schoolID).
		First(&b).
		Error
	if err != nil {
		return nil, err
	}
	if err := tx.Preload("Extras").Where("booking_id = ?", b.ID).Order("id").Find(&b.BookingLines).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func loadParties(tx *gorm.DB, b models.Booking) (models.School, models.Client, error) {
	var school models.School
	var buyer models.Client
	if err := tx.Where("id = ?", b.SchoolID).First(&school).Error; err != nil {
		return school, buyer, err
	}
	if err := tx.Unscoped().Where("id = ?", b.ClientMainID).First(&buyer).Error; err != nil {
		return school, buyer, err
	}
	return school, buyer, nil
}

func records(tx *gorm.DB, bookingID uint) ([]models.Payment, []models.VoucherUsageLog, error) {
	var payments []models.Payment
	if err := tx.Where("booking_id = ?", bookingID).Find(&payments).Error; err != nil {
		return nil, nil, err
	}
	var logs []models.VoucherUsageLog
	if err := tx.Where("booking_id = ?", bookingID).Order("id").Find(&logs).Error; err != nil {
		return nil, nil, err
	}
	return payments, logs, nil
}

// returnVoucherUse credits up to amount back to the vouchers the booking used,
// most recent first. It returns what is left to refund.
func returnVoucherUse(tx *gorm.DB, bookingID uint, logs []models.VoucherUsageLog, amount decimal.Decimal) (decimal.Decimal, error) {
	var voucherIDs []uint
	for i := len(logs) - 1; i >= 0; i-- {
		if !slices.Contains(voucherIDs, logs[i].VoucherID) {
			voucherIDs = append(voucherIDs, logs[i].VoucherID)
		}
	}
	for _, id := range voucherIDs {
		if !amount.IsPositive() {
			break
		}
		used, err := settlement.NetUsed(tx, id, bookingID)
		if err != nil {
			return amount, err
		}
		credit := decimal.Min(used, amount)
		if !credit.IsPositive() {
			continue
		}
		if err := settlement.RefundVoucher(tx, id, bookingID, credit); err != nil {
			return amount, err
		}
		amount = amount.Sub(credit)
	}
	return amount, nil
}

// Cancel cancels the selected lines, or every open line when none are given,
// reprices the booking and settles any overpayment according to the refund mode.
func (o *Orchestrator) Cancel(ctx context.Context, schoolID, bookingID uint, req types.CancelBookingRequest) (*CancelResult, error) {
	if err := o.Validate.Struct(req); err != nil {
		return nil, AsValidationError(err)
	}
	mode := req.RefundMode
	if mode == "" {
		mode = types.REFUND_NONE
	}

	var (
		result *CancelResult
		owed   *models.Payment
		school models.School
		buyer  models.Client
	)
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, schoolID, bookingID)
		if err != nil {
			return err
		}
		if b.IsCancelled() {
			return types.NewValidationError("booking", "already cancelled")
		}
		school, buyer, err = loadParties(tx, *b)
		if err != nil {
			return err
		}

		var targets []models.BookingLine
		for _, l := range b.BookingLines {
			if l.IsCancelled() {
				continue
			}
			if len(req.LineIDs) == 0 || slices.Contains(req.LineIDs, l.ID) {
				targets = append(targets, l)
			}
		}
		if len(targets) == 0 || (len(req.LineIDs) > 0 && len(targets) != len(req.LineIDs)) {
			return types.NewValidationError("line_ids", "no matching open lines")
		}
		targetIDs := make([]uint, 0, len(targets))
		for i := range targets {
			targetIDs = append(targetIDs, targets[i].ID)
			targets[i].Status = types.LINE_CANCELLED
		}
		err = tx.
			Model(&models.BookingLine{}).
			Where("id IN ?", targetIDs).
			Update("status", types.LINE_CANCELLED).
			Error
		if err != nil {
			return err
		}

		fresh, calc, err := pricing.CalculateForBooking(tx, b.ID)
		if err != nil {
			return err
		}
		open := 0
		for _, l := range fresh.BookingLines {
			if !l.IsCancelled() {
				open++
			}
		}
		status := types.BOOKING_PARTIALLY_CANCELLED
		total := calc.Total
		if open == 0 {
			status = types.BOOKING_FULLY_CANCELLED
			total = decimal.Zero
		} else if b.PriceTotal.Valid {
			total = decimal.Min(total, b.PriceTotal.Decimal)
		}

		payments, logs, err := records(tx, b.ID)
		if err != nil {
			return err
		}
		before := balance.FromRecords(total, payments, logs)
		over := before.Current.Sub(total)
		refunded := decimal.Zero
		if over.IsPositive() {
			refunded, owed, err = o.settleOverpayment(tx, *b, buyer, mode, status, over, before, logs)
			if err != nil {
				return err
			}
		}

		payments, logs, err = records(tx, b.ID)
		if err != nil {
			return err
		}
		after := balance.FromRecords(total, payments, logs)
		b.Status = status
		b.PriceTotal = decimal.NewNullDecimal(total)
		b.PaidTotal = after.Current
		b.Paid = after.FullyPaid
		err = tx.
			Model(&models.Booking{}).
			Where("id = ?", b.ID).
			Updates(map[string]any{
				"status":      b.Status,
				"price_total": b.PriceTotal,
				"paid_total":  b.PaidTotal,
				"paid":        b.Paid,
			}).
			Error
		if err != nil {
			return err
		}

		err = tx.Create(&models.BookingLog{
			BookingID:   b.ID,
			Action:      "cancelled",
			Description: req.Reason,
			Metadata: types.JSONB{
				"lines":       targetIDs,
				"refund_mode": string(mode),
				"refunded":    refunded.StringFixed(2),
				"status":      string(status),
			},
		}).Error
		if err != nil {
			return err
		}
		if err := pricing.RecordSnapshot(tx, *b, calc, "cancelled", req.Reason); err != nil {
			return err
		}

		after.BookingID = b.ID
		after.ExpectedSource = balance.SOURCE_STORED
		b.BookingLines = fresh.BookingLines
		result = &CancelResult{Booking: *b, Cancelled: targets, Refunded: refunded, Balance: after}
		return nil
	})
	if err != nil {
		if !IsRejection(err) {
			o.Logger.Error("Booking cancellation failed", zap.Uint("booking", bookingID), zap.Error(err))
		}
		return nil, err
	}

	o.Logger.Info("Booking cancelled", zap.Uint("booking", bookingID), zap.String("status", string(result.Booking.Status)))
	// the card refund runs once the cancellation is durable
	var refundErr error
	if owed != nil {
		bal, err := o.settleRefund(ctx, result.Booking, *owed)
		if err != nil {
			refundErr = err
		} else {
			result.Booking.PaidTotal = bal.Current
			result.Booking.Paid = bal.FullyPaid
			result.Balance = *bal
		}
	}

	var notes []notification
	for _, l := range result.Cancelled {
		if l.CourseType == types.COURSE_PRIVATE && l.MonitorID != nil {
			notes = append(notes, notification{
				monitorID: *l.MonitorID,
				event:     EVENT_MONITOR_UNASSIGNED,
				payload:   map[string]any{"booking_id": bookingID, "line_id": l.ID, "date": l.Date, "hour_start": l.HourStart},
			})
		}
	}
	o.dispatch(notes)
	if o.Notifier != nil {
		booking, cancelled := result.Booking, result.Cancelled
		o.Async(func() {
			_ = o.Notifier.SendCancellationEmail(school, booking, cancelled, buyer)
		})
	}
	if refundErr != nil {
		return nil, refundErr
	}
	return result, nil
}

// settleOverpayment returns over to the buyer according to mode. Card refunds
// are only recorded here as refund_pending; the caller hands them to the
// gateway after commit.
func (o *Orchestrator) settleOverpayment(tx *gorm.DB, b models.Booking, buyer models.Client, mode types.RefundMode, status types.BookingStatus, over decimal.Decimal, bal balance.Balance, logs []models.VoucherUsageLog) (decimal.Decimal, *models.Payment, error) {
	refundStatus := types.PAYMENT_PARTIAL_REFUND
	if status == types.BOOKING_FULLY_CANCELLED {
		refundStatus = types.PAYMENT_REFUND
	}
	switch mode {
	case types.REFUND_NONE:
		return decimal.Zero, nil, nil
	case types.REFUND_WAIVED:
		err := tx.Create(&models.Payment{
			BookingID: b.ID,
			SchoolID:  b.SchoolID,
			Amount:    over,
			Status:    types.PAYMENT_NO_REFUND,
			Notes:     "overpayment kept on cancellation",
		}).Error
		return decimal.Zero, nil, err
	}

	left, err := returnVoucherUse(tx, b.ID, logs, over)
	if err != nil {
		return decimal.Zero, nil, err
	}
	refunded := over.Sub(left)
	cash := decimal.Min(left, bal.Paid.Sub(bal.Refunded))
	if !cash.IsPositive() {
		return refunded, nil, nil
	}

	payment := models.Payment{BookingID: b.ID, SchoolID: b.SchoolID, Amount: cash, Status: refundStatus}
	switch mode {
	case types.REFUND_GATEWAY:
		if b.PaymentIntentID == nil {
			return decimal.Zero, nil, types.NewValidationError("refund_mode", "booking has no card payment to refund")
		}
		if o.Gateway == nil {
			return decimal.Zero, nil, types.ErrGatewayFailed
		}
		payment.Method = types.PAYMENT_METHOD_STRIPE
		payment.Status = types.PAYMENT_REFUND_PENDING
		payment.Notes = "awaiting gateway refund"
	case types.REFUND_VOUCHER:
		code := "REFUND-" + strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
		voucher := models.Voucher{
			SchoolID:         b.SchoolID,
			Code:             code,
			Quantity:         cash,
			RemainingBalance: cash,
			Active:           true,
			ClientID:         &buyer.ID,
		}
		if err := tx.Create(&voucher).Error; err != nil {
			return decimal.Zero, nil, err
		}
		payment.Method = types.PAYMENT_METHOD_VOUCHER
		payment.Reference = &voucher.Code
	default:
		return decimal.Zero, nil, types.NewValidationError("refund_mode", "unknown refund mode")
	}
	if err := tx.Create(&payment).Error; err != nil {
		return decimal.Zero, nil, err
	}
	if payment.Status == types.PAYMENT_REFUND_PENDING {
		return refunded.Add(cash), &payment, nil
	}
	return refunded.Add(cash), nil, nil
}

// settleRefund sends a refund_pending payment to the gateway and records the
// receipt. The payment id keys the gateway call, so retrying a row that
// failed halfway never refunds twice.
func (o *Orchestrator) settleRefund(ctx context.Context, b models.Booking, p models.Payment) (*balance.Balance, error) {
	if o.Gateway == nil {
		return nil, types.ErrGatewayFailed
	}
	receipt, err := o.Gateway.Refund(ctx, b, p.Amount, fmt.Sprintf("refund-%d", p.ID))
	if err != nil {
		o.Logger.Error("Gateway refund failed", zap.Uint("booking", b.ID), zap.Uint("payment", p.ID), zap.Error(err))
		return nil, errors.Join(types.ErrGatewayFailed, fmt.Errorf("refund booking %d: %w", b.ID, err))
	}
	if receipt == nil {
		o.Logger.Error("Gateway refund returned no receipt", zap.Uint("booking", b.ID), zap.Uint("payment", p.ID))
		return nil, types.ErrGatewayFailed
	}

	status := types.PAYMENT_PARTIAL_REFUND
	if b.Status == types.BOOKING_FULLY_CANCELLED {
		status = types.PAYMENT_REFUND
	}
	var bal *balance.Balance
	err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockBooking(tx, b.SchoolID, b.ID)
		if err != nil {
			return err
		}
		res := tx.
			Model(&models.Payment{}).
			Where("id = ?", p.ID).
			Where("status = ?", types.PAYMENT_REFUND_PENDING).
			Updates(map[string]any{"status": status, "reference": *receipt, "notes": ""})
		if res.Error != nil {
			return res.Error
		}
		bal, err = balance.Compute(tx, locked.ID)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return nil
		}
		err = tx.
			Model(&models.Booking{}).
			Where("id = ?", locked.ID).
			Updates(map[string]any{"paid_total": bal.Current, "paid": bal.FullyPaid}).
			Error
		if err != nil {
			return err
		}
		return tx.Create(&models.BookingLog{
			BookingID: locked.ID,
			Action:    "refund",
			Metadata:  types.JSONB{"payment_id": p.ID, "receipt": *receipt, "amount": p.Amount.StringFixed(2)},
		}).Error
	})
	if err != nil {
		o.Logger.Error("Could not record gateway refund", zap.Uint("payment", p.ID), zap.String("receipt", *receipt), zap.Error(err))
		return nil, err
	}
	o.Logger.Info("Gateway refund settled", zap.Uint("booking", b.ID), zap.Uint("payment", p.ID), zap.String("receipt", *receipt))
	return bal, nil
}

// RetryRefunds hands every refund_pending payment back to the gateway. It
// returns how many were settled.
func (o *Orchestrator) RetryRefunds(ctx context.Context) (int, error) {
	var pending []models.Payment
	err := o.DB.WithContext(ctx).
		Where("status = ?", types.PAYMENT_REFUND_PENDING).
		Order("id").
		Find(&pending).
		Error
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range pending {
		var b models.Booking
		if err := o.DB.WithContext(ctx).Where("id = ?", p.BookingID).First(&b).Error; err != nil {
			return settled, err
		}
		if _, err := o.settleRefund(ctx, b, p); err != nil {
			continue
		}
		settled++
	}
	return settled, nil
}

// RecordPayment stores a received payment. Once the balance is settled the
// booking and its provisional lines become active.
func (o *Orchestrator) RecordPayment(ctx context.Context, schoolID, bookingID uint, req types.RecordPaymentRequest) (*balance.Balance, error) {
	if err := o.Validate.Struct(req); err != nil {
		return nil, AsValidationError(err)
	}
	if !req.Amount.IsPositive() {
		return nil, types.NewValidationError("amount", "must be positive")
	}
	var bal *balance.Balance
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBooking(tx, schoolID, bookingID)
		if err != nil {
			return err
		}
		if b.IsCancelled() {
			return types.NewValidationError("booking", "is cancelled")
		}
		payment := models.Payment{
			BookingID: b.ID,
			SchoolID:  b.SchoolID,
			Amount:    req.Amount,
			Status:    types.PAYMENT_PAID,
			Method:    req.Method,
			Notes:     req.Notes,
		}
		if req.Reference != "" {
			payment.Reference = &req.Reference
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		bal, err = balance.Compute(tx, b.ID)
		if err != nil {
			return err
		}
		updates := map[string]any{"paid_total": bal.Current, "paid": bal.FullyPaid}
		if bal.FullyPaid && b.Status == types.BOOKING_PROVISIONAL {
			updates["status"] = types.BOOKING_ACTIVE
			err := tx.
				Model(&models.BookingLine{}).
				Where("booking_id = ?", b.ID).
				Where("status = ?", types.LINE_PROVISIONAL).
				Update("status", types.LINE_ACTIVE).
				Error
			if err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Booking{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Create(&models.BookingLog{
			BookingID:   b.ID,
			Action:      "payment",
			Description: fmt.Sprintf("%s %s by %s", req.Amount.StringFixed(2), b.Currency, req.Method),
			Metadata:    types.JSONB{"payment_id": payment.ID, "pending": bal.Pending.StringFixed(2)},
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// PaymentLink asks the gateway for a hosted payment page covering the pending amount.
func (o *Orchestrator) PaymentLink(ctx context.Context, schoolID, bookingID uint, returnURL string) (string, error) {
	tx := o.DB.WithContext(ctx)
	var b models.Booking
	if err := tx.Where("id = ?", bookingID).Where("school_id = ?", schoolID).First(&b).Error; err != nil {
		return "", err
	}
	if b.IsCancelled() {
		return "", types.NewValidationError("booking", "is cancelled")
	}
	school, buyer, err := loadParties(tx, b)
	if err != nil {
		return "", err
	}
	bal, err := balance.Compute(tx, b.ID)
	if err != nil {
		return "", err
	}
	if !bal.Pending.IsPositive() {
		return "", types.ErrNothingPending
	}
	if o.Gateway == nil {
		return "", types.ErrGatewayFailed
	}
	url, err := o.Gateway.CreatePaymentLink(ctx, school, b, buyer, bal.Pending, returnURL)
	if err != nil {
		o.Logger.Error("Payment link failed", zap.Uint("booking", b.ID), zap.Error(err))
		return "", errors.Join(types.ErrGatewayFailed, err)
	}
	if url == nil {
		return "", types.ErrGatewayFailed
	}
	err = tx.Create(&models.BookingLog{
		BookingID: b.ID,
		Action:    "payment_link",
		Metadata:  types.JSONB{"amount": bal.Pending.StringFixed(2)},
	}).Error
	if err != nil {
		o.Logger.Warn("Could not log payment link", zap.Uint("booking", b.ID), zap.Error(err))
	}
	return *url, nil
}
