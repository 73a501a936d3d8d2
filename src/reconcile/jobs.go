// Package reconcile holds the background jobs that keep bookings honest:
// drift detection on stored totals and release of expired provisional holds.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/pricing"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SNAPSHOT_DRIFT = "drift"
	batchSize      = 100
)

type Report struct {
	Scanned int
	Drifted int
	Flagged int
}

func voucherTotal(tx *gorm.DB, bookingID uint) (decimal.Decimal, error) {
	var logs []models.VoucherUsageLog
	if err := tx.Where("booking_id = ?", bookingID).Find(&logs).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, l := range logs {
		sum = sum.Add(l.Amount)
	}
	return sum, nil
}

// alreadyReported is true when the latest drift snapshot saw the same numbers.
func alreadyReported(tx *gorm.DB, b models.Booking, calc pricing.Breakdown) (bool, error) {
	var last models.PriceSnapshot
	err := tx.
		Where("booking_id = ?", b.ID).
		Where("reason = ?", SNAPSHOT_DRIFT).
		Order("id desc").
		First(&last).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return last.Calculated.Equal(calc.Total) && last.Stored.Decimal.Equal(b.PriceTotal.Decimal), nil
}

// ScanDrift recomputes every open booking with a stored total and records a
// snapshot for each one whose total drifted. Findings are logged, never fixed.
func ScanDrift(ctx context.Context, db *gorm.DB, logger *zap.Logger) (Report, error) {
	var report Report
	var rows []models.Booking
	res := db.WithContext(ctx).
		Select("id").
		Where("status <> ?", types.BOOKING_FULLY_CANCELLED).
		Where("price_total IS NOT NULL").
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, batch int) error {
			for _, row := range rows {
				report.Scanned++
				b, calc, err := pricing.CalculateForBooking(db.WithContext(ctx), row.ID)
				if err != nil {
					return err
				}
				if d, drifted := pricing.DetectDrift(*b, calc); drifted {
					report.Drifted++
					vouchers, err := voucherTotal(db, b.ID)
					if err != nil {
						return err
					}
					kind := pricing.ClassifyStoredTotal(d.Stored, d.Calculated, vouchers)
					logger.Warn("Booking total drift",
						zap.Uint("booking", b.ID),
						zap.String("stored", d.Stored.StringFixed(2)),
						zap.String("calculated", d.Calculated.StringFixed(2)),
						zap.String("stored_kind", string(kind)),
					)
					if kind == pricing.STORED_AMBIGUOUS || kind == pricing.STORED_UNEXPLAINED {
						report.Flagged++
					}
					seen, err := alreadyReported(db, *b, calc)
					if err != nil {
						return err
					}
					if !seen {
						if err := pricing.RecordSnapshot(db, *b, calc, SNAPSHOT_DRIFT, string(kind)); err != nil {
							return err
						}
					}
				}
			}
			return nil
		})
	return report, res.Error
}

// ReleaseExpiredHolds cancels provisional bookings older than their school's
// hold time. Voucher uses go back to the vouchers and any cash taken becomes
// a credit voucher for the buyer.
func ReleaseExpiredHolds(ctx context.Context, o *booking.Orchestrator) (int, error) {
	var schools []models.School
	if err := o.DB.WithContext(ctx).Where("hold_minutes > 0").Find(&schools).Error; err != nil {
		return 0, err
	}
	now := o.Now()
	released := 0
	for _, school := range schools {
		cutoff := now.Add(-time.Duration(school.HoldMinutes) * time.Minute)
		var expired []uint
		err := o.DB.WithContext(ctx).
			Model(&models.Booking{}).
			Where("school_id = ?", school.ID).
			Where("status = ?", types.BOOKING_PROVISIONAL).
			Where("created_at < ?", cutoff).
			Pluck("id", &expired).
			Error
		if err != nil {
			return released, err
		}
		for _, id := range expired {
			_, err := o.Cancel(ctx, school.ID, id, types.CancelBookingRequest{
				RefundMode: types.REFUND_VOUCHER,
				Reason:     "hold expired",
			})
			if err != nil {
				o.Logger.Warn("Could not release hold", zap.Uint("booking", id), zap.Error(err))
				continue
			}
			released++
		}
	}
	return released, nil
}

// Register adds the drift scan, hold release and refund retry jobs to s.
// Refund retries share the hold interval. A zero interval disables its jobs.
func Register(s gocron.Scheduler, o *booking.Orchestrator, driftEvery, holdsEvery time.Duration) error {
	if driftEvery > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(driftEvery),
			gocron.NewTask(func() {
				r, err := ScanDrift(context.Background(), o.DB, o.Logger)
				if err != nil {
					o.Logger.Error("Drift scan failed", zap.Error(err))
					return
				}
				o.Logger.Info("Drift scan finished", zap.Int("scanned", r.Scanned), zap.Int("drifted", r.Drifted), zap.Int("flagged", r.Flagged))
			}),
			gocron.WithName("drift-scan"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}
	if holdsEvery > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(holdsEvery),
			gocron.NewTask(func() {
				n, err := ReleaseExpiredHolds(context.Background(), o)
				if err != nil {
					o.Logger.Error("Hold release failed", zap.Error(err))
					return
				}
				if n > 0 {
					o.Logger.Info("Released expired holds", zap.Int("bookings", n))
				}
			}),
			gocron.WithName("hold-release"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
		_, err = s.NewJob(
			gocron.DurationJob(holdsEvery),
			gocron.NewTask(func() {
				n, err := o.RetryRefunds(context.Background())
				if err != nil {
					o.Logger.Error("Refund retry failed", zap.Error(err))
					return
				}
				if n > 0 {
					o.Logger.Info("Settled pending refunds", zap.Int("payments", n))
				}
			}),
			gocron.WithName("refund-retry"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
