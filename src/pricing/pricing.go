// Package pricing recomputes a booking's total from its lines. Everything here
// is read-only except RecordSnapshot.
package pricing

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	DriftTolerance   = decimal.NewFromFloat(0.01)
	VoucherTolerance = decimal.NewFromInt(1)

	hundred = decimal.NewFromInt(100)
)

// CourseAmount is the priced contribution of one course to the booking.
type CourseAmount struct {
	CourseID     uint             `json:"course_id"`
	CourseType   types.CourseType `json:"course_type"`
	Flexible     bool             `json:"flexible"`
	Participants int              `json:"participants"`
	Occurrences  int              `json:"occurrences"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	Discount     decimal.Decimal  `json:"interval_discount"`
	Amount       decimal.Decimal  `json:"amount"`
}

type Breakdown struct {
	Courses   []CourseAmount  `json:"courses"`
	Extras    decimal.Decimal `json:"extras"`
	Insurance decimal.Decimal `json:"insurance"`
	TVA       decimal.Decimal `json:"tva"`
	Discount  decimal.Decimal `json:"discount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
}

func (b Breakdown) JSON() (types.JSONB, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	out := types.JSONB{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	return out, nil
}

// intervalPercentage picks the highest tier whose date threshold is reached.
func intervalPercentage(tiers []types.IntervalDiscount, occurrences int) decimal.Decimal {
	best := 0
	pct := 0.0
	for _, t := range tiers {
		if t.Dates <= occurrences && t.Dates >= best && t.Percentage > 0 {
			best = t.Dates
			pct = t.Percentage
		}
	}
	return decimal.NewFromFloat(pct)
}

func priceCourse(course models.Course, lines []models.BookingLine) CourseAmount {
	out := CourseAmount{
		CourseID:   course.ID,
		CourseType: course.CourseType,
		Flexible:   course.IsFlexible,
		UnitPrice:  course.Price,
		Amount:     decimal.Zero,
		Discount:   decimal.Zero,
	}
	clients := map[uint]map[uint]bool{}
	dates := map[uint]bool{}
	groups := map[string]bool{}
	lineSum := decimal.Zero
	for _, l := range lines {
		if clients[l.ClientID] == nil {
			clients[l.ClientID] = map[uint]bool{}
		}
		clients[l.ClientID][l.CourseDateID] = true
		dates[l.CourseDateID] = true
		groups[l.GroupID] = true
		lineSum = lineSum.Add(l.Price)
	}
	out.Participants = len(clients)
	out.Occurrences = len(dates)

	switch {
	case course.CourseType == types.COURSE_COLLECTIVE && !course.IsFlexible:
		out.Amount = course.Price.Mul(decimal.NewFromInt(int64(len(clients))))
	case course.CourseType == types.COURSE_COLLECTIVE:
		for _, booked := range clients {
			n := len(booked)
			gross := course.Price.Mul(decimal.NewFromInt(int64(n)))
			off := gross.Mul(intervalPercentage(course.IntervalDiscounts, n)).Div(hundred).Round(2)
			out.Discount = out.Discount.Add(off)
			out.Amount = out.Amount.Add(gross.Sub(off))
		}
	default:
		if lineSum.IsPositive() {
			out.Amount = lineSum
		} else {
			out.Amount = course.Price.Mul(decimal.NewFromInt(int64(len(groups))))
		}
	}
	return out
}

// Calculate prices the non-cancelled lines of a booking. Courses missing from
// the map fall back to the stored line prices.
func Calculate(b models.Booking, lines []models.BookingLine, courses map[uint]models.Course) Breakdown {
	byCourse := map[uint][]models.BookingLine{}
	extras := decimal.Zero
	for _, l := range lines {
		if l.IsCancelled() {
			continue
		}
		byCourse[l.CourseID] = append(byCourse[l.CourseID], l)
		for _, e := range l.Extras {
			extras = extras.Add(e.Total())
		}
	}
	ids := make([]uint, 0, len(byCourse))
	for id := range byCourse {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := Breakdown{Extras: extras, Insurance: decimal.Zero, TVA: decimal.Zero, Discount: b.DiscountCodeValue}
	subtotal := extras
	for _, id := range ids {
		course, ok := courses[id]
		if !ok {
			first := byCourse[id][0]
			course = models.Course{ID: id, CourseType: first.CourseType, Price: decimal.Zero}
			if course.CourseType == types.COURSE_COLLECTIVE {
				course.CourseType = types.COURSE_ACTIVITY
			}
		}
		ca := priceCourse(course, byCourse[id])
		out.Courses = append(out.Courses, ca)
		subtotal = subtotal.Add(ca.Amount)
	}
	if b.HasCancellationInsurance {
		out.Insurance = b.PriceCancellationInsurance
	}
	if b.HasTVA {
		out.TVA = b.PriceTVA
	}
	out.Subtotal = subtotal.Round(2)
	total := subtotal.Add(out.Insurance).Add(out.TVA).Sub(out.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	out.Total = total.Round(2)
	return out
}

// LoadBooking fetches a booking with lines, extras and the courses they reference.
// Soft-deleted courses are included so old bookings still price.
func LoadBooking(tx *gorm.DB, bookingID uint) (*models.Booking, map[uint]models.Course, error) {
	var booking models.Booking
	err := tx.
		Preload("BookingLines.Extras").
		Where("id = ?", bookingID).
		First(&booking).
		Error
	if err != nil {
		return nil, nil, err
	}
	ids := []uint{}
	seen := map[uint]bool{}
	for _, l := range booking.BookingLines {
		if !seen[l.CourseID] {
			seen[l.CourseID] = true
			ids = append(ids, l.CourseID)
		}
	}
	courses := map[uint]models.Course{}
	if len(ids) > 0 {
		var rows []models.Course
		if err := tx.Unscoped().Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, nil, err
		}
		for _, c := range rows {
			courses[c.ID] = c
		}
	}
	return &booking, courses, nil
}

func CalculateForBooking(tx *gorm.DB, bookingID uint) (*models.Booking, Breakdown, error) {
	booking, courses, err := LoadBooking(tx, bookingID)
	if err != nil {
		return nil, Breakdown{}, err
	}
	return booking, Calculate(*booking, booking.BookingLines, courses), nil
}

type Drift struct {
	BookingID  uint            `json:"booking_id"`
	Stored     decimal.Decimal `json:"stored"`
	Calculated decimal.Decimal `json:"calculated"`
	Difference decimal.Decimal `json:"difference"`
}

// DetectDrift compares the stored total with the calculated one. A booking
// without a stored total has nothing to drift from.
func DetectDrift(b models.Booking, calc Breakdown) (Drift, bool) {
	if !b.PriceTotal.Valid {
		return Drift{}, false
	}
	diff := calc.Total.Sub(b.PriceTotal.Decimal)
	d := Drift{BookingID: b.ID, Stored: b.PriceTotal.Decimal, Calculated: calc.Total, Difference: diff}
	return d, diff.Abs().GreaterThan(DriftTolerance)
}

type StoredTotalKind string

const (
	STORED_GROSS       StoredTotalKind = "gross"
	STORED_NET         StoredTotalKind = "net_of_vouchers"
	STORED_AMBIGUOUS   StoredTotalKind = "ambiguous"
	STORED_UNEXPLAINED StoredTotalKind = "unexplained"
)

// ClassifyStoredTotal guesses whether stored already has the voucher amount
// taken off. The answer is diagnostic only.
func ClassifyStoredTotal(stored, calculated, vouchers decimal.Decimal) StoredTotalKind {
	gross := stored.Sub(calculated).Abs().LessThanOrEqual(VoucherTolerance)
	net := vouchers.IsPositive() && stored.Add(vouchers).Sub(calculated).Abs().LessThanOrEqual(VoucherTolerance)
	switch {
	case gross && net:
		return STORED_AMBIGUOUS
	case net:
		return STORED_NET
	case gross:
		return STORED_GROSS
	}
	return STORED_UNEXPLAINED
}

func RecordSnapshot(tx *gorm.DB, b models.Booking, calc Breakdown, reason, note string) error {
	breakdown, err := calc.JSON()
	if err != nil {
		return err
	}
	return tx.Create(&models.PriceSnapshot{
		BookingID:  b.ID,
		Reason:     reason,
		Note:       note,
		Stored:     b.PriceTotal,
		Calculated: calc.Total,
		Breakdown:  breakdown,
	}).Error
}
