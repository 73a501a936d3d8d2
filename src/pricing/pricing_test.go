package pricing

import (
	"testing"

	"github.com/neuron-e/api-boukii-sub005/src/db/dbtest"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(course models.Course, client, date uint, group, price string) models.BookingLine {
	return models.BookingLine{
		CourseID:     course.ID,
		CourseType:   course.CourseType,
		ClientID:     client,
		CourseDateID: date,
		GroupID:      group,
		Price:        dec(price),
		Status:       types.LINE_ACTIVE,
	}
}

func TestCalculate(t *testing.T) {
	collective := models.Course{ID: 1, CourseType: types.COURSE_COLLECTIVE, Price: dec("100")}
	flexible := models.Course{ID: 2, CourseType: types.COURSE_COLLECTIVE, IsFlexible: true, Price: dec("50"),
		IntervalDiscounts: []types.IntervalDiscount{{Dates: 2, Percentage: 10}, {Dates: 3, Percentage: 20}}}
	private := models.Course{ID: 3, CourseType: types.COURSE_PRIVATE, Price: dec("80")}
	courses := map[uint]models.Course{1: collective, 2: flexible, 3: private}

	t.Run("collective counts participants once", func(t *testing.T) {
		lines := []models.BookingLine{
			line(collective, 1, 10, "a", "100"),
			line(collective, 1, 11, "a", "0"),
			line(collective, 2, 10, "a", "100"),
		}
		got := Calculate(models.Booking{}, lines, courses)
		assert.True(t, dec("200").Equal(got.Total), got.Total.String())
	})

	t.Run("flexible applies the best reached tier", func(t *testing.T) {
		lines := []models.BookingLine{
			line(flexible, 1, 10, "a", "50"),
			line(flexible, 1, 11, "a", "50"),
			line(flexible, 1, 12, "a", "50"),
			line(flexible, 2, 10, "b", "50"),
		}
		got := Calculate(models.Booking{}, lines, courses)
		// client 1: 150 - 20% = 120; client 2: 50, no tier
		assert.True(t, dec("170").Equal(got.Total), got.Total.String())
		assert.True(t, dec("30").Equal(got.Courses[0].Discount))
	})

	t.Run("private sums line prices with course fallback", func(t *testing.T) {
		lines := []models.BookingLine{line(private, 1, 10, "a", "90"), line(private, 2, 10, "a", "90")}
		assert.True(t, dec("180").Equal(Calculate(models.Booking{}, lines, courses).Total))

		lines = []models.BookingLine{line(private, 1, 10, "a", "0"), line(private, 2, 10, "a", "0"), line(private, 1, 11, "b", "0")}
		assert.True(t, dec("160").Equal(Calculate(models.Booking{}, lines, courses).Total), "two lessons at base price")
	})

	t.Run("adjustments and cancelled lines", func(t *testing.T) {
		l := line(private, 1, 10, "a", "90")
		l.Extras = []models.BookingLineExtra{{Name: "Helmet", Price: dec("5"), Quantity: 2}}
		cancelled := line(private, 2, 10, "a", "90")
		cancelled.Status = types.LINE_CANCELLED
		b := models.Booking{
			HasCancellationInsurance:   true,
			PriceCancellationInsurance: dec("7.5"),
			HasTVA:                     true,
			PriceTVA:                   dec("2.5"),
			DiscountCodeValue:          dec("10"),
		}
		got := Calculate(b, []models.BookingLine{l, cancelled}, courses)
		assert.True(t, dec("100").Equal(got.Total), got.Total.String())
		assert.True(t, dec("10").Equal(got.Extras))
	})

	t.Run("never negative", func(t *testing.T) {
		b := models.Booking{DiscountCodeValue: dec("500")}
		got := Calculate(b, []models.BookingLine{line(private, 1, 10, "a", "90")}, courses)
		assert.True(t, got.Total.IsZero())
	})
}

func TestDetectDrift(t *testing.T) {
	calc := Breakdown{Total: dec("100")}
	_, drift := DetectDrift(models.Booking{}, calc)
	assert.False(t, drift, "no stored total")

	_, drift = DetectDrift(models.Booking{PriceTotal: decimal.NewNullDecimal(dec("100.01"))}, calc)
	assert.False(t, drift)

	d, drift := DetectDrift(models.Booking{ID: 4, PriceTotal: decimal.NewNullDecimal(dec("90"))}, calc)
	assert.True(t, drift)
	assert.True(t, dec("10").Equal(d.Difference))
}

func TestClassifyStoredTotal(t *testing.T) {
	cases := []struct {
		stored, calculated, vouchers string
		want                         StoredTotalKind
	}{
		{"100", "100", "0", STORED_GROSS},
		{"70", "100", "30", STORED_NET},
		{"99.5", "100", "0.5", STORED_AMBIGUOUS},
		{"40", "100", "30", STORED_UNEXPLAINED},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyStoredTotal(dec(c.stored), dec(c.calculated), dec(c.vouchers)), c)
	}
}

func TestCalculateForBookingIsIdempotent(t *testing.T) {
	db := dbtest.New(t)
	f := dbtest.NewFixture(t, db)
	course := f.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := f.AddDate(course, "2026-02-01", "09:00", "12:00")

	booking := models.Booking{SchoolID: f.School.ID, ClientMainID: f.Client.ID, Status: types.BOOKING_ACTIVE, PriceTotal: decimal.NewNullDecimal(dec("120"))}
	f.Create(&booking)
	l := line(course, f.Client.ID, date.ID, "g", "120")
	l.BookingID = booking.ID
	f.Create(&l)

	_, first, err := CalculateForBooking(db, booking.ID)
	require.NoError(t, err)
	_, second, err := CalculateForBooking(db, booking.ID)
	require.NoError(t, err)
	assert.True(t, first.Total.Equal(second.Total))
	assert.True(t, dec("120").Equal(first.Total))

	b, _, err := LoadBooking(db, booking.ID)
	require.NoError(t, err)
	require.NoError(t, RecordSnapshot(db, *b, first, "created", ""))
	assert.Equal(t, int64(1), dbtest.Count(t, db, &models.PriceSnapshot{}))

	var snap models.PriceSnapshot
	require.NoError(t, db.First(&snap).Error)
	total, ok := snap.Breakdown["total"].(string)
	require.True(t, ok, "breakdown keeps the total")
	assert.True(t, first.Total.Equal(dec(total)))
	courses, ok := snap.Breakdown["courses"].([]any)
	require.True(t, ok, "breakdown keeps the course list")
	assert.Len(t, courses, 1)
}

func TestBreakdownJSON(t *testing.T) {
	out, err := Breakdown{Total: dec("42.5"), Courses: []CourseAmount{{CourseID: 7, Amount: dec("42.5")}}}.JSON()
	require.NoError(t, err)
	assert.Equal(t, "42.5", out["total"])
	assert.Len(t, out["courses"], 1)
}
