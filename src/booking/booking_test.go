package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neuron-e/api-boukii-sub005/src/balance"
	"github.com/neuron-e/api-boukii-sub005/src/db/dbtest"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	url     *string
	receipt *string
	err     error
	refunds []decimal.Decimal
	keys    []string
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, school models.School, booking models.Booking, buyer models.Client, amount decimal.Decimal, returnURL string) (*string, error) {
	return g.url, nil
}

func (g *fakeGateway) Refund(ctx context.Context, booking models.Booking, amount decimal.Decimal, key string) (*string, error) {
	g.keys = append(g.keys, key)
	if g.err != nil {
		return nil, g.err
	}
	g.refunds = append(g.refunds, amount)
	return g.receipt, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	events        []string
	cancellations int
}

func (n *fakeNotifier) NotifyInstructorAssignment(monitorID uint, eventType string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
	return nil
}

func (n *fakeNotifier) SendCancellationEmail(school models.School, booking models.Booking, lines []models.BookingLine, buyer models.Client) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancellations++
	return nil
}

type memoryRequests struct {
	mu   sync.Mutex
	keys map[string]uint
}

func (m *memoryRequests) Claim(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[id]; ok {
		return false, nil
	}
	m.keys[id] = 0
	return true, nil
}

func (m *memoryRequests) Complete(ctx context.Context, id string, bookingID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = bookingID
	return nil
}

func (m *memoryRequests) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type BookingSuite struct {
	suite.Suite
	DB       *gorm.DB
	F        *dbtest.Fixture
	O        *Orchestrator
	Gateway  *fakeGateway
	Notifier *fakeNotifier
	Requests *memoryRequests
	Now      time.Time
}

func (s *BookingSuite) SetupTest() {
	s.DB = dbtest.New(s.T())
	s.F = dbtest.NewFixture(s.T(), s.DB)
	s.Now = time.Date(2026, 1, 15, 9, 45, 0, 0, time.UTC)
	s.Gateway = &fakeGateway{}
	s.Notifier = &fakeNotifier{}
	s.Requests = &memoryRequests{keys: map[string]uint{}}
	s.O = &Orchestrator{
		DB:       s.DB,
		Gateway:  s.Gateway,
		Notifier: s.Notifier,
		Requests: s.Requests,
		Validate: NewValidator(),
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return s.Now },
		Async:    func(fn func()) { fn() },
	}
}

func (s *BookingSuite) request(items ...types.CartItem) types.CreateBookingRequest {
	return types.CreateBookingRequest{
		SchoolID:     s.F.School.ID,
		ClientMainID: s.F.Client.ID,
		Items:        items,
		Source:       "test",
	}
}

func (s *BookingSuite) collective(course models.Course, date models.CourseDate, subgroups ...models.CourseSubgroup) types.CartItem {
	item := types.CartItem{Kind: types.CART_COLLECTIVE, CourseID: course.ID}
	for _, sg := range subgroups {
		item.Lines = append(item.Lines, types.CartLine{
			ClientID:         s.F.Client.ID,
			CourseDateID:     date.ID,
			CourseSubgroupID: ptr(sg.ID),
			Price:            course.Price,
		})
	}
	return item
}

func (s *BookingSuite) private(course models.Course, date models.CourseDate, start, end string, monitorID *uint) types.CartItem {
	return types.CartItem{
		Kind:     types.CART_PRIVATE,
		CourseID: course.ID,
		Lines: []types.CartLine{{
			ClientID:     s.F.Client.ID,
			CourseDateID: date.ID,
			MonitorID:    monitorID,
			HourStart:    start,
			HourEnd:      end,
			Price:        course.Price,
		}},
	}
}

func (s *BookingSuite) count(model any) int64 {
	return dbtest.Count(s.T(), s.DB, model)
}

// Two concurrent requests fill a two seat subgroup, the third is turned away.
func (s *BookingSuite) TestConcurrentCollectiveSeats() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 100)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 2, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.O.Create(context.Background(), s.request(s.collective(course, date, sg)))
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			var ce *types.CapacityError
			s.True(errors.As(err, &ce), err.Error())
			failed++
		}
	}
	s.Equal(1, failed)
	s.Equal(int64(2), s.count(&models.BookingLine{}))
}

func (s *BookingSuite) TestPrivateLeadTime() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	today := s.F.AddDate(course, "2026-01-15", "08:00", "17:00")
	tomorrow := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	s.F.AddMonitor("Max", s.F.High, true)

	_, err := s.O.Create(context.Background(), s.request(s.private(course, today, "09:00", "10:00", nil)))
	var te *types.TimingError
	s.Require().True(errors.As(err, &te), "got %v", err)

	b, err := s.O.Create(context.Background(), s.request(s.private(course, tomorrow, "09:00", "10:00", nil)))
	s.Require().NoError(err)
	s.Equal(types.BOOKING_PROVISIONAL, b.Status)
	s.True(dec("80").Equal(b.PriceTotal.Decimal))
}

func (s *BookingSuite) TestPrivateOverbooking() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	s.F.AddMonitor("Max", s.F.High, true)

	_, err := s.O.Create(context.Background(), s.request(s.private(course, date, "09:00", "10:00", nil)))
	s.Require().NoError(err)

	_, err = s.O.Create(context.Background(), s.request(s.private(course, date, "09:30", "10:30", nil)))
	var oe *types.OverbookingError
	s.Require().True(errors.As(err, &oe), "got %v", err)

	_, err = s.O.Create(context.Background(), s.request(s.private(course, date, "10:00", "11:00", nil)))
	s.NoError(err, "touching windows do not overlap")

	// 09:00 and 10:00 lessons both overlap, one monitor plus two of slack leaves room
	s.Require().NoError(s.DB.Model(&s.F.School).Update("overbooking_allowance", 2).Error)
	_, err = s.O.Create(context.Background(), s.request(s.private(course, date, "09:30", "10:30", nil)))
	s.NoError(err)
}

func (s *BookingSuite) TestPrivateOverbookingWithinOneCart() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	s.F.AddMonitor("Max", s.F.High, true)

	req := s.request(
		s.private(course, date, "09:00", "10:00", nil),
		s.private(course, date, "09:00", "10:00", nil),
	)
	_, err := s.O.Create(context.Background(), req)
	var oe *types.OverbookingError
	s.Require().True(errors.As(err, &oe), "got %v", err)
	s.Equal(int64(0), s.count(&models.Booking{}))
}

func (s *BookingSuite) TestExplicitMonitor() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	m := s.F.AddMonitor("Max", s.F.High, true)
	s.F.AddMonitor("Lea", s.F.High, true)

	b, err := s.O.Create(context.Background(), s.request(s.private(course, date, "09:00", "10:00", &m.ID)))
	s.Require().NoError(err)
	s.Equal(m.ID, *b.BookingLines[0].MonitorID)
	s.Equal([]string{EVENT_MONITOR_ASSIGNED}, s.Notifier.events)

	_, err = s.O.Create(context.Background(), s.request(s.private(course, date, "09:30", "10:30", &m.ID)))
	var me *types.MonitorUnavailableError
	s.Require().True(errors.As(err, &me), "got %v", err)
	s.Equal(m.ID, me.MonitorID)
}

func (s *BookingSuite) TestStaffedLessonCountsTowardOverbooking() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	m := s.F.AddMonitor("Max", s.F.High, true)
	s.F.AddMonitor("Lea", s.F.High, true)

	_, err := s.O.Create(context.Background(), s.request(s.private(course, date, "09:00", "10:00", &m.ID)))
	s.Require().NoError(err)

	_, err = s.O.Create(context.Background(), s.request(s.private(course, date, "09:00", "10:00", nil)))
	var oe *types.OverbookingError
	s.Require().True(errors.As(err, &oe), "got %v", err)
	s.Equal(1, oe.Available)
	s.Equal(1, oe.Concurrent)
}

func (s *BookingSuite) TestStaffedLessonInCartCountsTowardOverbooking() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	m := s.F.AddMonitor("Max", s.F.High, true)
	s.F.AddMonitor("Lea", s.F.High, true)

	req := s.request(
		s.private(course, date, "09:00", "10:00", &m.ID),
		s.private(course, date, "09:00", "10:00", nil),
	)
	_, err := s.O.Create(context.Background(), req)
	var oe *types.OverbookingError
	s.Require().True(errors.As(err, &oe), "got %v", err)
	s.Equal(int64(0), s.count(&models.Booking{}))
}

// A voucher covering the full price settles the booking.
func (s *BookingSuite) TestVoucherPaysBooking() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	v := s.F.AddVoucher(50)

	req := s.request(s.collective(course, date, sg))
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("50")}}
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(b.Paid)
	s.Equal(types.BOOKING_ACTIVE, b.Status)

	bal, err := balance.Compute(s.DB, b.ID)
	s.Require().NoError(err)
	s.True(bal.Pending.IsZero())

	var reloaded models.Voucher
	s.Require().NoError(s.DB.First(&reloaded, v.ID).Error)
	s.True(reloaded.RemainingBalance.IsZero())
	s.True(reloaded.Payed)
}

// Vouchers worth more than the total settle the booking and are only debited
// up to the total.
func (s *BookingSuite) TestVouchersAboveTotalAreCapped() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	v := s.F.AddVoucher(100)
	other := s.F.AddVoucher(30)

	req := s.request(s.collective(course, date, sg))
	req.Vouchers = []types.VoucherApplication{
		{VoucherID: v.ID, Amount: dec("60")},
		{VoucherID: other.ID, Amount: dec("30")},
	}
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(b.Paid)
	s.Equal(types.BOOKING_ACTIVE, b.Status)
	s.True(dec("50").Equal(b.PriceTotal.Decimal))
	s.True(dec("50").Equal(b.PaidTotal))

	var reloaded models.Voucher
	s.Require().NoError(s.DB.First(&reloaded, v.ID).Error)
	s.True(dec("50").Equal(reloaded.RemainingBalance), "got %s", reloaded.RemainingBalance)
	s.Require().NoError(s.DB.First(&reloaded, other.ID).Error)
	s.True(dec("30").Equal(reloaded.RemainingBalance), "untouched once the total is covered")
	s.Equal(int64(1), s.count(&models.VoucherUsageLog{}))

	bal, err := balance.Compute(s.DB, b.ID)
	s.Require().NoError(err)
	s.True(bal.Pending.IsZero())
	s.True(bal.Current.Equal(dec("50")))
}

func (s *BookingSuite) TestDiscountScopeMismatch() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	code := models.DiscountCode{
		SchoolID:      s.F.School.ID,
		Code:          "SNOW",
		DiscountType:  types.DISCOUNT_PERCENTAGE,
		DiscountValue: dec("10"),
		SportIDs:      []uint{s.F.Sport.ID + 100},
		Active:        true,
		Stackable:     true,
	}
	s.F.Create(&code)

	req := s.request(s.collective(course, date, sg))
	req.DiscountCodeID = &code.ID
	_, err := s.O.Create(context.Background(), req)
	var de *types.DiscountError
	s.Require().True(errors.As(err, &de))
	s.Equal(types.DISCOUNT_SPORT_MISMATCH, de.Reason)
	s.Equal(int64(0), s.count(&models.Booking{}))

	code.SportIDs = nil
	s.Require().NoError(s.DB.Save(&code).Error)
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(dec("108").Equal(b.PriceTotal.Decimal), b.PriceTotal.Decimal.String())
	s.Equal(int64(1), s.count(&models.DiscountCodeUsage{}))
}

// A non-stackable code with vouchers fails before capacity is even looked at.
func (s *BookingSuite) TestStackingRejectedBeforeCapacity() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	full := s.F.AddSubgroup(date, 0, nil)
	v := s.F.AddVoucher(20)
	code := models.DiscountCode{SchoolID: s.F.School.ID, Code: "SOLO", DiscountType: types.DISCOUNT_FIXED_AMOUNT, DiscountValue: dec("10"), Active: true}
	s.F.Create(&code)

	req := s.request(s.collective(course, date, full))
	req.DiscountCodeID = &code.ID
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("20")}}
	_, err := s.O.Create(context.Background(), req)
	var de *types.DiscountError
	s.Require().True(errors.As(err, &de), "got %v", err)
	s.Equal(types.DISCOUNT_NOT_STACKABLE, de.Reason)
	s.Equal(int64(0), s.count(&models.VoucherUsageLog{}))
}

func (s *BookingSuite) TestForeignDiscountReportedBeforeStacking() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	v := s.F.AddVoucher(20)
	other := models.School{Name: "Other", Currency: "CHF", Active: true}
	s.F.Create(&other)
	code := models.DiscountCode{SchoolID: other.ID, Code: "ELSEWHERE", DiscountType: types.DISCOUNT_FIXED_AMOUNT, DiscountValue: dec("10"), Active: true}
	s.F.Create(&code)

	req := s.request(s.collective(course, date, sg))
	req.DiscountCodeID = &code.ID
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("20")}}
	_, err := s.O.Create(context.Background(), req)
	var de *types.DiscountError
	s.Require().True(errors.As(err, &de), "got %v", err)
	s.Equal(types.DISCOUNT_SCHOOL_MISMATCH, de.Reason)
	s.Equal(int64(0), s.count(&models.Booking{}))
}

// A zero basket total settles the booking outside the cart.
func (s *BookingSuite) TestZeroBasketTotal() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)

	req := s.request(s.collective(course, date, sg))
	req.Basket = json.RawMessage(`{"price_total": 0, "items": []}`)
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(b.PriceTotal.Decimal.IsZero())
	s.True(b.Paid)
	for _, l := range b.BookingLines {
		s.Equal(types.LINE_ACTIVE, l.Status)
	}

	var snapshot models.PriceSnapshot
	s.Require().NoError(s.DB.Where("booking_id = ?", b.ID).First(&snapshot).Error)
	s.True(dec("120").Equal(snapshot.Calculated))
	s.NotEmpty(snapshot.Note)
}

func (s *BookingSuite) TestDeclaredTotalClamps() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)

	req := s.request(s.collective(course, date, sg))
	req.PriceTotal = ptr(dec("150"))
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(dec("120").Equal(b.PriceTotal.Decimal), "never above net")

	req.PriceTotal = ptr(dec("100"))
	req.Basket = json.RawMessage(`{"price_total": "90.50"}`)
	b, err = s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.True(dec("90.5").Equal(b.PriceTotal.Decimal))
	s.False(b.Paid)
}

// The third of four lines fails capacity and nothing is written.
func (s *BookingSuite) TestAtomicCapacityFailure() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg1 := s.F.AddSubgroup(date, 5, nil)
	sg2 := s.F.AddSubgroup(date, 5, nil)
	sg3 := s.F.AddSubgroup(date, 0, nil)
	sg4 := s.F.AddSubgroup(date, 5, nil)
	v := s.F.AddVoucher(30)

	req := s.request(s.collective(course, date, sg1, sg2, sg3, sg4))
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("30")}}
	_, err := s.O.Create(context.Background(), req)

	var le *types.LineError
	s.Require().True(errors.As(err, &le), "got %v", err)
	s.Equal(2, le.Line)
	var ce *types.CapacityError
	s.True(errors.As(err, &ce))
	s.Equal(sg3.ID, ce.SubgroupID)

	s.Equal(int64(0), s.count(&models.Booking{}))
	s.Equal(int64(0), s.count(&models.BookingLine{}))
	s.Equal(int64(0), s.count(&models.VoucherUsageLog{}))
}

// A storage failure after the voucher debit rolls the debit back too.
func (s *BookingSuite) TestAtomicLateFailure() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	v := s.F.AddVoucher(30)

	err := s.DB.Callback().Create().Before("gorm:create").Register("test:fail_logs", func(db *gorm.DB) {
		if db.Statement.Table == "booking_logs" {
			_ = db.AddError(errors.New("disk full"))
		}
	})
	s.Require().NoError(err)

	req := s.request(s.collective(course, date, sg))
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("30")}}
	req.RequestID = "late-failure"
	_, err = s.O.Create(context.Background(), req)
	s.ErrorIs(err, types.ErrBookingFailed)

	s.Equal(int64(0), s.count(&models.Booking{}))
	s.Equal(int64(0), s.count(&models.BookingLine{}))
	s.Equal(int64(0), s.count(&models.VoucherUsageLog{}))
	var reloaded models.Voucher
	s.Require().NoError(s.DB.First(&reloaded, v.ID).Error)
	s.True(dec("30").Equal(reloaded.RemainingBalance))
	s.NotContains(s.Requests.keys, "late-failure", "failed requests can be retried")
}

func (s *BookingSuite) TestDuplicateRequest() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)

	req := s.request(s.collective(course, date, sg))
	req.RequestID = "abc"
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)
	s.Equal(b.ID, s.Requests.keys["abc"])

	_, err = s.O.Create(context.Background(), req)
	s.ErrorIs(err, types.ErrDuplicateRequest)
	s.Equal(int64(1), s.count(&models.Booking{}))
}

func (s *BookingSuite) TestCartValidation() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 50)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")

	item := types.CartItem{Kind: types.CART_COLLECTIVE, CourseID: course.ID, Lines: []types.CartLine{{ClientID: s.F.Client.ID, CourseDateID: date.ID}}}
	_, err := s.O.Create(context.Background(), s.request(item))
	var ve *types.ValidationError
	s.Require().True(errors.As(err, &ve), "got %v", err)
	s.Contains(ve.Field, "CourseSubgroupID")

	private := types.CartItem{Kind: types.CART_PRIVATE, CourseID: course.ID, Lines: []types.CartLine{{ClientID: s.F.Client.ID, CourseDateID: date.ID, HourStart: "9am", HourEnd: "10:00"}}}
	_, err = s.O.Create(context.Background(), s.request(private))
	s.Require().True(errors.As(err, &ve))
	s.Contains(ve.Field, "HourStart")

	unlinked := s.F.AddClient("Bo", false)
	sg := s.F.AddSubgroup(date, 5, nil)
	req := s.request(s.collective(course, date, sg))
	req.ClientMainID = unlinked.ID
	_, err = s.O.Create(context.Background(), req)
	s.Require().True(errors.As(err, &ve))
	s.Equal("client_main_id", ve.Field)

	wrongKind := s.private(course, date, "09:00", "10:00", nil)
	_, err = s.O.Create(context.Background(), s.request(wrongKind))
	s.Require().True(errors.As(err, &ve))
	s.Equal("kind", ve.Field)
}

func (s *BookingSuite) TestCancelWithVoucherRefund() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 100)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 1, nil)
	v := s.F.AddVoucher(40)

	req := s.request(s.collective(course, date, sg))
	req.Vouchers = []types.VoucherApplication{{VoucherID: v.ID, Amount: dec("40")}}
	b, err := s.O.Create(context.Background(), req)
	s.Require().NoError(err)

	bal, err := s.O.RecordPayment(context.Background(), s.F.School.ID, b.ID, types.RecordPaymentRequest{Amount: dec("60"), Method: types.PAYMENT_METHOD_CASH})
	s.Require().NoError(err)
	s.True(bal.FullyPaid)
	var line models.BookingLine
	s.Require().NoError(s.DB.Where("booking_id = ?", b.ID).First(&line).Error)
	s.Equal(types.LINE_ACTIVE, line.Status)

	res, err := s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{RefundMode: types.REFUND_VOUCHER, Reason: "sick"})
	s.Require().NoError(err)
	s.Equal(types.BOOKING_FULLY_CANCELLED, res.Booking.Status)
	s.True(dec("100").Equal(res.Refunded), res.Refunded.String())
	s.True(res.Balance.Current.IsZero())
	s.Equal(1, s.Notifier.cancellations)

	var original models.Voucher
	s.Require().NoError(s.DB.First(&original, v.ID).Error)
	s.True(dec("40").Equal(original.RemainingBalance), "voucher use returned")

	var credit models.Voucher
	s.Require().NoError(s.DB.Where("id <> ?", v.ID).First(&credit).Error)
	s.True(dec("60").Equal(credit.RemainingBalance))
	s.Equal(s.F.Client.ID, *credit.ClientID)

	// the seat is free again
	_, err = s.O.Create(context.Background(), s.request(s.collective(course, date, sg)))
	s.NoError(err)

	_, err = s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{})
	var ve *types.ValidationError
	s.True(errors.As(err, &ve))
}

func (s *BookingSuite) TestPartialCancelWithGatewayRefund() {
	course := s.F.AddCourse(types.COURSE_PRIVATE, 80)
	date := s.F.AddDate(course, "2026-01-16", "08:00", "17:00")
	s.F.AddMonitor("Max", s.F.High, true)
	s.F.AddMonitor("Lea", s.F.High, true)

	b, err := s.O.Create(context.Background(), s.request(
		s.private(course, date, "09:00", "10:00", nil),
		s.private(course, date, "11:00", "12:00", nil),
	))
	s.Require().NoError(err)
	s.True(dec("160").Equal(b.PriceTotal.Decimal))
	s.Require().NoError(s.DB.Model(&models.Booking{}).Where("id = ?", b.ID).Update("payment_intent_id", "pi_123").Error)
	_, err = s.O.RecordPayment(context.Background(), s.F.School.ID, b.ID, types.RecordPaymentRequest{Amount: dec("160"), Method: types.PAYMENT_METHOD_CARD})
	s.Require().NoError(err)

	s.Gateway.receipt = ptr("re_1")
	res, err := s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{
		LineIDs:    []uint{b.BookingLines[1].ID},
		RefundMode: types.REFUND_GATEWAY,
	})
	s.Require().NoError(err)
	s.Equal(types.BOOKING_PARTIALLY_CANCELLED, res.Booking.Status)
	s.True(dec("80").Equal(res.Booking.PriceTotal.Decimal))
	s.Require().Len(s.Gateway.refunds, 1)
	s.True(dec("80").Equal(s.Gateway.refunds[0]))
	s.True(res.Balance.FullyPaid)

	var refund models.Payment
	s.Require().NoError(s.DB.Where("status = ?", types.PAYMENT_PARTIAL_REFUND).First(&refund).Error)
	s.Equal("re_1", *refund.Reference)
}

func (s *BookingSuite) paidCardBooking(amount int) models.Booking {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, float64(amount))
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	b, err := s.O.Create(context.Background(), s.request(s.collective(course, date, sg)))
	s.Require().NoError(err)
	s.Require().NoError(s.DB.Model(&models.Booking{}).Where("id = ?", b.ID).Update("payment_intent_id", "pi_1").Error)
	_, err = s.O.RecordPayment(context.Background(), s.F.School.ID, b.ID, types.RecordPaymentRequest{Amount: course.Price, Method: types.PAYMENT_METHOD_CARD})
	s.Require().NoError(err)
	return *b
}

// A refund the gateway does not confirm stays pending on a cancelled booking
// until a retry settles it under the same key.
func (s *BookingSuite) TestGatewayWithoutReceiptLeavesRefundPending() {
	b := s.paidCardBooking(100)

	_, err := s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{RefundMode: types.REFUND_GATEWAY})
	s.ErrorIs(err, types.ErrGatewayFailed)

	var reloaded models.Booking
	s.Require().NoError(s.DB.First(&reloaded, b.ID).Error)
	s.Equal(types.BOOKING_FULLY_CANCELLED, reloaded.Status)
	s.True(dec("100").Equal(reloaded.PaidTotal), "nothing left the account yet")
	var pending models.Payment
	s.Require().NoError(s.DB.Where("status = ?", types.PAYMENT_REFUND_PENDING).First(&pending).Error)
	s.True(dec("100").Equal(pending.Amount))
	s.Nil(pending.Reference)

	s.Gateway.receipt = ptr("re_9")
	n, err := s.O.RetryRefunds(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
	key := fmt.Sprintf("refund-%d", pending.ID)
	s.Equal([]string{key, key}, s.Gateway.keys)

	var settled models.Payment
	s.Require().NoError(s.DB.First(&settled, pending.ID).Error)
	s.Equal(types.PAYMENT_REFUND, settled.Status)
	s.Equal("re_9", *settled.Reference)
	s.Require().NoError(s.DB.First(&reloaded, b.ID).Error)
	s.True(reloaded.PaidTotal.IsZero(), reloaded.PaidTotal.String())

	n, err = s.O.RetryRefunds(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *BookingSuite) TestGatewayErrorLeavesRefundPending() {
	b := s.paidCardBooking(100)
	s.Gateway.err = errors.New("card_declined")

	_, err := s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{RefundMode: types.REFUND_GATEWAY})
	s.ErrorIs(err, types.ErrGatewayFailed)
	s.ErrorContains(err, "card_declined")
	var pending int64
	s.Require().NoError(s.DB.Model(&models.Payment{}).Where("status = ?", types.PAYMENT_REFUND_PENDING).Count(&pending).Error)
	s.Equal(int64(1), pending)
}

// A write failing after the refund was prepared must not reach the gateway.
func (s *BookingSuite) TestCancelFailureNeverRefunds() {
	b := s.paidCardBooking(100)
	s.Gateway.receipt = ptr("re_1")

	err := s.DB.Callback().Create().Before("gorm:create").Register("test:fail_logs", func(db *gorm.DB) {
		if db.Statement.Table == "booking_logs" {
			_ = db.AddError(errors.New("disk full"))
		}
	})
	s.Require().NoError(err)

	_, err = s.O.Cancel(context.Background(), s.F.School.ID, b.ID, types.CancelBookingRequest{RefundMode: types.REFUND_GATEWAY})
	s.Require().Error(err)
	s.ErrorContains(err, "disk full")

	s.Empty(s.Gateway.keys, "gateway was never called")
	s.Empty(s.Gateway.refunds)
	var payments []models.Payment
	s.Require().NoError(s.DB.Where("booking_id = ?", b.ID).Find(&payments).Error)
	s.Require().Len(payments, 1)
	s.Equal(types.PAYMENT_PAID, payments[0].Status)
	var reloaded models.Booking
	s.Require().NoError(s.DB.First(&reloaded, b.ID).Error)
	s.Equal(types.BOOKING_ACTIVE, reloaded.Status, "cancellation rolled back")
}

func (s *BookingSuite) TestPaymentLink() {
	course := s.F.AddCourse(types.COURSE_COLLECTIVE, 100)
	date := s.F.AddDate(course, "2026-02-01", "09:00", "12:00")
	sg := s.F.AddSubgroup(date, 5, nil)
	b, err := s.O.Create(context.Background(), s.request(s.collective(course, date, sg)))
	s.Require().NoError(err)

	_, err = s.O.PaymentLink(context.Background(), s.F.School.ID, b.ID, "https://example.com/done")
	s.ErrorIs(err, types.ErrGatewayFailed)

	s.Gateway.url = ptr("https://pay.example.com/cs_1")
	url, err := s.O.PaymentLink(context.Background(), s.F.School.ID, b.ID, "https://example.com/done")
	s.Require().NoError(err)
	s.Equal("https://pay.example.com/cs_1", url)

	_, err = s.O.RecordPayment(context.Background(), s.F.School.ID, b.ID, types.RecordPaymentRequest{Amount: dec("100"), Method: types.PAYMENT_METHOD_CASH})
	s.Require().NoError(err)
	_, err = s.O.PaymentLink(context.Background(), s.F.School.ID, b.ID, "https://example.com/done")
	s.ErrorIs(err, types.ErrNothingPending)
}

func TestBookingSuite(t *testing.T) {
	suite.Run(t, new(BookingSuite))
}
