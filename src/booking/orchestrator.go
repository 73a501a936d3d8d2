// Package booking turns a validated cart into a committed booking and runs the
// later cancellation and payment flows against it.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/neuron-e/api-boukii-sub005/src/availability"
	"github.com/neuron-e/api-boukii-sub005/src/capacity"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/pricing"
	"github.com/neuron-e/api-boukii-sub005/src/settlement"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EVENT_MONITOR_ASSIGNED   = "booking.assigned"
	EVENT_MONITOR_UNASSIGNED = "booking.cancelled"
)

type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, school models.School, booking models.Booking, buyer models.Client, amount decimal.Decimal, returnURL string) (*string, error)
	// Refund returns amount to the booking's card. Calls repeating key must
	// not refund twice.
	Refund(ctx context.Context, booking models.Booking, amount decimal.Decimal, key string) (*string, error)
}

type Notifier interface {
	NotifyInstructorAssignment(monitorID uint, eventType string, payload map[string]any) error
	SendCancellationEmail(school models.School, booking models.Booking, lines []models.BookingLine, buyer models.Client) error
}

type RequestStore interface {
	Claim(ctx context.Context, requestID string) (bool, error)
	Complete(ctx context.Context, requestID string, bookingID uint) error
	Release(ctx context.Context, requestID string) error
}

type Orchestrator struct {
	DB       *gorm.DB
	Gateway  PaymentGateway
	Notifier Notifier
	Requests RequestStore
	Validate *validator.Validate
	Logger   *zap.Logger
	Now      func() time.Time
	// Async runs post-commit side effects.
	Async func(fn func())
}

func New(db *gorm.DB, gateway PaymentGateway, notifier Notifier, requests RequestStore) *Orchestrator {
	return &Orchestrator{
		DB:       db,
		Gateway:  gateway,
		Notifier: notifier,
		Requests: requests,
		Validate: NewValidator(),
		Logger:   lib.GetLogger(),
		Now:      time.Now,
		Async:    func(fn func()) { go fn() },
	}
}

// IsRejection reports whether err is a business rule failure the caller can
// act on, as opposed to an internal failure.
func IsRejection(err error) bool {
	var (
		ve  *types.ValidationError
		ce  *types.CapacityError
		te  *types.TimingError
		oe  *types.OverbookingError
		me  *types.MonitorUnavailableError
		de  *types.DiscountError
		vbe *types.VoucherBatchError
	)
	return errors.As(err, &ve) ||
		errors.As(err, &ce) ||
		errors.As(err, &te) ||
		errors.As(err, &oe) ||
		errors.As(err, &me) ||
		errors.As(err, &de) ||
		errors.As(err, &vbe) ||
		errors.Is(err, types.ErrDuplicateRequest) ||
		errors.Is(err, types.ErrNothingPending) ||
		errors.Is(err, types.ErrGatewayFailed) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

type notification struct {
	monitorID uint
	event     string
	payload   map[string]any
}

func (o *Orchestrator) dispatch(notes []notification) {
	if o.Notifier == nil || len(notes) == 0 {
		return
	}
	o.Async(func() {
		for _, n := range notes {
			_ = o.Notifier.NotifyInstructorAssignment(n.monitorID, n.event, n.payload)
		}
	})
}

// Create validates the cart and commits the booking in one transaction. Any
// failure leaves no booking, line, seat or voucher debit behind.
func (o *Orchestrator) Create(ctx context.Context, req types.CreateBookingRequest) (*models.Booking, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}
	claimed := false
	if req.RequestID != "" && o.Requests != nil {
		ok, err := o.Requests.Claim(ctx, req.RequestID)
		if err != nil {
			o.Logger.Warn("Idempotency store unavailable", zap.String("request", req.RequestID), zap.Error(err))
		} else if !ok {
			return nil, types.ErrDuplicateRequest
		} else {
			claimed = true
		}
	}

	var (
		booking *models.Booking
		notes   []notification
	)
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		booking, notes, err = o.create(tx, req)
		return err
	})
	if err != nil {
		if claimed {
			if rerr := o.Requests.Release(context.WithoutCancel(ctx), req.RequestID); rerr != nil {
				o.Logger.Warn("Could not release booking request", zap.String("request", req.RequestID), zap.Error(rerr))
			}
		}
		if IsRejection(err) {
			return nil, err
		}
		o.Logger.Error("Booking creation failed", zap.Uint("school", req.SchoolID), zap.Uint("client", req.ClientMainID), zap.Error(err))
		return nil, types.ErrBookingFailed
	}
	if claimed {
		if err := o.Requests.Complete(context.WithoutCancel(ctx), req.RequestID, booking.ID); err != nil {
			o.Logger.Warn("Could not complete booking request", zap.String("request", req.RequestID), zap.Error(err))
		}
	}
	o.Logger.Info("Booking created", zap.Uint("booking", booking.ID), zap.Uint("school", booking.SchoolID), zap.String("total", booking.PriceTotal.Decimal.String()))
	o.dispatch(notes)
	return booking, nil
}

func (o *Orchestrator) buyer(tx *gorm.DB, schoolID, clientID uint) (models.School, models.Client, error) {
	var school models.School
	var buyer models.Client
	err := tx.Where("id = ?", schoolID).Where("active = ?", true).First(&school).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return school, buyer, types.NewValidationError("school_id", "school not found")
	}
	if err != nil {
		return school, buyer, err
	}
	err = tx.Where("id = ?", clientID).Where("school_id = ?", schoolID).First(&buyer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return school, buyer, types.NewValidationError("client_main_id", "client not found")
	}
	if err != nil {
		return school, buyer, err
	}
	if buyer.UserID == nil {
		return school, buyer, types.NewValidationError("client_main_id", "client has no linked account")
	}
	return school, buyer, nil
}

// checkPrivate runs timing, monitor and overbooking checks for every private
// lesson in the cart. Lessons are checked in cart order and each one sees the
// earlier ones as already sold.
func (o *Orchestrator) checkPrivate(tx *gorm.DB, school models.School, planned []plannedLine, now time.Time) error {
	lessons, err := privateLessons(planned)
	if err != nil {
		return err
	}
	locked := map[string]bool{}
	var checked []*lesson
	for _, l := range lessons {
		lineErr := func(err error) error {
			return &types.LineError{Item: l.first.item, Line: l.first.line, Err: err}
		}
		if err := availability.CheckTiming(now, school, l.first.date, l.first.hourStart, l.first.hourEnd); err != nil {
			return lineErr(err)
		}
		sportID := l.first.course.SportID
		key := fmt.Sprintf("%d|%s", sportID, l.window.Date)
		if !locked[key] {
			if err := capacity.LockWindow(tx, school.ID, sportID, l.window.Date); err != nil {
				return err
			}
			locked[key] = true
		}
		q, err := l.query(tx, school)
		if err != nil {
			return err
		}

		pending := 0
		var taken []uint
		for _, prev := range checked {
			if prev.first.course.SportID != sportID || !prev.window.Overlaps(l.window) {
				continue
			}
			pending++
			if prev.monitorID != nil {
				taken = append(taken, *prev.monitorID)
			}
		}

		if l.monitorID != nil {
			free, err := availability.Available(tx, q)
			if err != nil {
				return err
			}
			ok := !slices.Contains(taken, *l.monitorID) && slices.ContainsFunc(free, func(m models.Monitor) bool { return m.ID == *l.monitorID })
			if !ok {
				return lineErr(&types.MonitorUnavailableError{
					MonitorID: *l.monitorID,
					Date:      l.window.Date,
					HourStart: l.first.hourStart,
					HourEnd:   l.first.hourEnd,
				})
			}
			for _, i := range l.lines {
				planned[i].monitorID = l.monitorID
			}
		}
		if err := availability.CheckOverbooking(tx, school, q, pending, taken...); err != nil {
			return lineErr(err)
		}
		checked = append(checked, l)
	}
	return nil
}

// reserveSeats locks each subgroup once, in id order, for all seats the cart
// wants on it.
func reserveSeats(tx *gorm.DB, planned []plannedLine) error {
	type key struct {
		subgroup uint
		date     string
	}
	seats := map[key]int{}
	first := map[key]plannedLine{}
	var keys []key
	for _, p := range planned {
		if p.subgroup == nil {
			continue
		}
		k := key{p.subgroup.ID, p.date.Date}
		if _, ok := seats[k]; !ok {
			keys = append(keys, k)
			first[k] = p
		}
		seats[k]++
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subgroup != keys[j].subgroup {
			return keys[i].subgroup < keys[j].subgroup
		}
		return keys[i].date < keys[j].date
	})
	for _, k := range keys {
		if _, err := capacity.Reserve(tx, k.subgroup, k.date, seats[k]); err != nil {
			p := first[k]
			return &types.LineError{Item: p.item, Line: p.line, Err: err}
		}
	}
	return nil
}

func ids(planned []plannedLine) (sports, courses, degrees, clients []uint) {
	add := func(list []uint, id uint) []uint {
		if id == 0 || slices.Contains(list, id) {
			return list
		}
		return append(list, id)
	}
	for _, p := range planned {
		sports = add(sports, p.course.SportID)
		courses = add(courses, p.course.ID)
		if p.degreeID != nil {
			degrees = add(degrees, *p.degreeID)
		}
		clients = add(clients, p.client.ID)
	}
	return
}

func (o *Orchestrator) create(tx *gorm.DB, req types.CreateBookingRequest) (*models.Booking, []notification, error) {
	now := o.Now()

	// 1. buyer, discount stacking and cart
	school, buyer, err := o.buyer(tx, req.SchoolID, req.ClientMainID)
	if err != nil {
		return nil, nil, err
	}
	var code *models.DiscountCode
	if req.DiscountCodeID != nil {
		code, err = settlement.LoadDiscountCode(tx, *req.DiscountCodeID)
		if err != nil {
			return nil, nil, err
		}
		if err := settlement.Preflight(code, school.ID, len(req.Vouchers) > 0); err != nil {
			return nil, nil, err
		}
	}
	resolver := &cartResolver{tx: tx, school: school, clients: map[uint]models.Client{buyer.ID: buyer}}
	planned, err := resolver.resolve(req.Items)
	if err != nil {
		return nil, nil, err
	}

	// 2. private lessons
	if err := o.checkPrivate(tx, school, planned, now); err != nil {
		return nil, nil, err
	}

	// 3. collective seats
	if err := reserveSeats(tx, planned); err != nil {
		return nil, nil, err
	}

	// 4. gross, discount and vouchers
	courses := map[uint]models.Course{}
	draft := make([]models.BookingLine, 0, len(planned))
	for _, p := range planned {
		courses[p.course.ID] = p.course
		draft = append(draft, p.model(models.Booking{}, types.LINE_PROVISIONAL))
	}
	booking := models.Booking{
		SchoolID:                   school.ID,
		ClientMainID:               buyer.ID,
		Currency:                   school.Currency,
		HasCancellationInsurance:   req.HasCancellationInsurance,
		PriceCancellationInsurance: req.PriceCancellationInsurance,
		HasTVA:                     req.HasTVA,
		PriceTVA:                   req.PriceTVA,
		Source:                     req.Source,
		Notes:                      req.Notes,
	}
	gross := pricing.Calculate(booking, draft, courses).Total

	discount := decimal.Zero
	if code != nil {
		sports, courseIDs, degrees, clients := ids(planned)
		err := settlement.ValidateDiscount(tx, code, settlement.DiscountContext{
			SchoolID:    school.ID,
			ClientID:    buyer.ID,
			SportIDs:    sports,
			CourseIDs:   courseIDs,
			DegreeIDs:   degrees,
			ClientIDs:   clients,
			Amount:      gross,
			HasVouchers: len(req.Vouchers) > 0,
			Now:         now,
		})
		if err != nil {
			return nil, nil, err
		}
		discount = settlement.DiscountAmount(code, gross)
		booking.DiscountCodeID = &code.ID
		booking.DiscountCodeValue = discount
	}
	net := gross.Sub(discount)

	prepared, err := settlement.PrepareVouchers(tx, req.Vouchers, settlement.VoucherContext{SchoolID: school.ID, ClientID: buyer.ID, Now: now})
	if err != nil {
		return nil, nil, err
	}

	// 5. final total
	total, prepaid := finalTotal(net, req.PriceTotal, req.Basket)
	requested := settlement.Total(prepared)
	paid := prepaid || (requested.IsPositive() && requested.GreaterThanOrEqual(total))
	// vouchers only cover what is owed, the rest stays on them
	prepared = settlement.Cap(prepared, total)
	vouchers := settlement.Total(prepared)

	// 6. persist
	booking.PriceTotal = decimal.NewNullDecimal(total)
	booking.PaidTotal = vouchers
	booking.Paid = paid
	booking.Status = types.BOOKING_PROVISIONAL
	lineStatus := types.LINE_PROVISIONAL
	if paid {
		booking.Status = types.BOOKING_ACTIVE
		lineStatus = types.LINE_ACTIVE
	}
	if len(req.Basket) > 0 {
		basket := string(req.Basket)
		booking.Basket = &basket
	}
	if req.RequestID != "" {
		booking.RequestID = &req.RequestID
	}
	if err := tx.Omit(clause.Associations).Create(&booking).Error; err != nil {
		return nil, nil, err
	}

	lines := make([]models.BookingLine, 0, len(planned))
	var notes []notification
	notified := map[string]bool{}
	for _, p := range planned {
		line := p.model(booking, lineStatus)
		if err := tx.Omit(clause.Associations).Create(&line).Error; err != nil {
			return nil, nil, err
		}
		for k := range line.Extras {
			line.Extras[k].BookingLineID = line.ID
		}
		if len(line.Extras) > 0 {
			if err := tx.Create(&line.Extras).Error; err != nil {
				return nil, nil, err
			}
		}
		lines = append(lines, line)

		if p.kind == types.CART_PRIVATE && line.MonitorID != nil && !notified[line.GroupID+line.Date+line.HourStart] {
			notified[line.GroupID+line.Date+line.HourStart] = true
			notes = append(notes, notification{
				monitorID: *line.MonitorID,
				event:     EVENT_MONITOR_ASSIGNED,
				payload: map[string]any{
					"booking_id": booking.ID,
					"school_id":  school.ID,
					"course_id":  line.CourseID,
					"date":       line.Date,
					"hour_start": line.HourStart,
					"hour_end":   line.HourEnd,
				},
			})
		}
	}
	if err := settlement.ApplyVouchers(tx, prepared, booking.ID, buyer.ID); err != nil {
		return nil, nil, err
	}

	// 7. discount usage and audit
	if code != nil {
		if err := settlement.RecordDiscountUsage(tx, code, booking.ID, buyer.ID, discount); err != nil {
			return nil, nil, err
		}
	}
	voucherIDs := make([]uint, 0, len(prepared))
	for _, p := range prepared {
		voucherIDs = append(voucherIDs, p.Voucher.ID)
	}
	err = tx.Create(&models.BookingLog{
		BookingID:   booking.ID,
		Action:      "created",
		Description: fmt.Sprintf("%d lines, total %s %s", len(lines), total.StringFixed(2), booking.Currency),
		Initiator:   req.Source,
		Metadata: types.JSONB{
			"gross":    gross.StringFixed(2),
			"discount": discount.StringFixed(2),
			"vouchers": voucherIDs,
			"paid":     paid,
		},
	}).Error
	if err != nil {
		return nil, nil, err
	}

	// 8. price snapshot
	calc := pricing.Calculate(booking, lines, courses)
	note := ""
	if !calc.Total.Equal(total) {
		note = fmt.Sprintf("stored total %s differs from calculated %s", total.StringFixed(2), calc.Total.StringFixed(2))
	}
	if err := pricing.RecordSnapshot(tx, booking, calc, "created", note); err != nil {
		return nil, nil, err
	}

	booking.BookingLines = lines
	return &booking, notes, nil
}
