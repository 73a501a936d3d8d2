package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neuron-e/api-boukii-sub005/src/booking"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/db/dbtest"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/middlewares"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TestSuite struct {
	suite.Suite
	DB     *gorm.DB
	F      *dbtest.Fixture
	O      *booking.Orchestrator
	Config *config.Config
	Router *gin.Engine
	Course models.Course
	Date   models.CourseDate
	Group  models.CourseSubgroup
}

type stubGateway struct{}

func (stubGateway) CreatePaymentLink(ctx context.Context, school models.School, b models.Booking, buyer models.Client, amount decimal.Decimal, returnURL string) (*string, error) {
	url := fmt.Sprintf("https://pay.example.com/%d?amount=%s", b.ID, amount.StringFixed(2))
	return &url, nil
}

func (stubGateway) Refund(ctx context.Context, b models.Booking, amount decimal.Decimal, key string) (*string, error) {
	receipt := "re_test"
	return &receipt, nil
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	lib.NewLogger(zap.NewNop())
	os.Exit(m.Run())
}

func (s *TestSuite) SetupTest() {
	s.DB = dbtest.New(s.T())
	s.F = dbtest.NewFixture(s.T(), s.DB)
	s.O = &booking.Orchestrator{
		DB:       s.DB,
		Gateway:  stubGateway{},
		Validate: booking.NewValidator(),
		Logger:   zap.NewNop(),
		Now:      time.Now,
		Async:    func(fn func()) { fn() },
	}
	s.Config = &config.Config{ApiEnv: "local"}
	s.Router = routes(s.Config, s.O)

	s.Course = s.F.AddCourse(types.COURSE_COLLECTIVE, 120)
	s.Date = s.F.AddDate(s.Course, "2026-02-01", "09:00", "12:00")
	s.Group = s.F.AddSubgroup(s.Date, 1, nil)
}

func (s *TestSuite) do(method, url string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.SchoolHeader, strconv.FormatUint(uint64(s.F.School.ID), 10))
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) cart(client models.Client) gin.H {
	return gin.H{
		"client_main_id": client.ID,
		"cart": []gin.H{{
			"kind":      "collective",
			"course_id": s.Course.ID,
			"lines": []gin.H{{
				"client_id":          client.ID,
				"course_date_id":     s.Date.ID,
				"course_subgroup_id": s.Group.ID,
				"price":              "120",
			}},
		}},
	}
}

func (s *TestSuite) book() uint {
	w := s.do(http.MethodPost, apiPrefix+"/bookings", s.cart(s.F.Client))
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return uint(gjson.Get(w.Body.String(), "data.id").Uint())
}

func (s *TestSuite) TestSchoolHeaderRequired() {
	req, _ := http.NewRequest(http.MethodGet, apiPrefix+"/bookings", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *TestSuite) TestMaintenanceMode() {
	s.Config.MaintenanceMode = true
	w := s.do(http.MethodGet, apiPrefix+"/bookings", nil)
	assert.Equal(s.T(), http.StatusServiceUnavailable, w.Code)
}

func (s *TestSuite) TestBookingLifecycle() {
	id := s.book()
	url := fmt.Sprintf("%s/bookings/%d", apiPrefix, id)

	w := s.do(http.MethodGet, url, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), "provisional", gjson.Get(w.Body.String(), "data.status").String())
	assert.Equal(s.T(), int64(1), gjson.Get(w.Body.String(), "data.booking_lines.#").Int())

	w = s.do(http.MethodGet, url+"/balance", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), 120.0, gjson.Get(w.Body.String(), "data.pending_amount").Float())

	w = s.do(http.MethodGet, url+"/price", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), 120.0, gjson.Get(w.Body.String(), "data.total").Float())
	assert.False(s.T(), gjson.Get(w.Body.String(), "has_drift").Bool())

	w = s.do(http.MethodPost, url+"/payment-link", gin.H{"return_url": "https://school.example.com/done"})
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Contains(s.T(), gjson.Get(w.Body.String(), "data.url").String(), "amount=120.00")

	w = s.do(http.MethodPost, url+"/payments", gin.H{"amount": "120", "method": "cash"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	assert.True(s.T(), gjson.Get(w.Body.String(), "data.is_fully_paid").Bool())

	w = s.do(http.MethodPost, url+"/payment-link", gin.H{"return_url": "https://school.example.com/done"})
	assert.Equal(s.T(), http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, url+"/cancel", gin.H{"refund_mode": "refund_voucher", "reason": "sick"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	assert.Equal(s.T(), "fully_cancelled", gjson.Get(w.Body.String(), "data.booking.status").String())
	assert.Equal(s.T(), 120.0, gjson.Get(w.Body.String(), "data.refunded").Float())

	w = s.do(http.MethodGet, apiPrefix+"/bookings?status=fully_cancelled", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), int64(1), gjson.Get(w.Body.String(), "count").Int())
}

func (s *TestSuite) TestFullSubgroupConflicts() {
	s.book()
	other := s.F.AddClient("Bea", true)
	w := s.do(http.MethodPost, apiPrefix+"/bookings", s.cart(other))
	assert.Equal(s.T(), http.StatusConflict, w.Code, w.Body.String())

	w = s.do(http.MethodGet, fmt.Sprintf("%s/subgroups/%d/availability?date=%s", apiPrefix, s.Group.ID, s.Date.Date), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	assert.Equal(s.T(), int64(0), gjson.Get(w.Body.String(), "data.available_slots").Int())
}

func (s *TestSuite) TestCreateRejectsMalformedCart() {
	body := s.cart(s.F.Client)
	body["cart"] = []gin.H{{"kind": "surf", "course_id": s.Course.ID, "lines": []gin.H{}}}
	w := s.do(http.MethodPost, apiPrefix+"/bookings", body)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.Equal(s.T(), int64(0), dbtest.Count(s.T(), s.DB, &models.Booking{}))
}

func (s *TestSuite) TestOtherSchoolBookingNotFound() {
	id := s.book()
	other := models.School{Name: "Other", Currency: "CHF", Active: true}
	s.Require().NoError(s.DB.Create(&other).Error)

	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/bookings/%d/balance", apiPrefix, id), nil)
	req.Header.Set(middlewares.SchoolHeader, strconv.FormatUint(uint64(other.ID), 10))
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func (s *TestSuite) TestAvailableMonitors() {
	s.F.AddMonitor("Marc", s.F.High, true)
	s.F.AddMonitor("Lea", s.F.Low, true)
	w := s.do(http.MethodPost, apiPrefix+"/monitors/available", gin.H{
		"sport_id":         s.F.Sport.ID,
		"date":             "2026-02-01",
		"hour_start":       "10:00",
		"hour_end":         "11:00",
		"min_degree_order": s.F.High.DegreeOrder,
		"client_ids":       []uint{s.F.Client.ID},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	assert.Equal(s.T(), int64(1), gjson.Get(w.Body.String(), "count").Int())

	w = s.do(http.MethodPost, apiPrefix+"/monitors/available", gin.H{
		"sport_id":   s.F.Sport.ID,
		"date":       "2026-02-01",
		"hour_start": "11:00",
		"hour_end":   "10:00",
	})
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func TestSuiteRun(t *testing.T) {
	suite.Run(t, new(TestSuite))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{types.NewValidationError("cart", "is required"), http.StatusBadRequest},
		{gorm.ErrRecordNotFound, http.StatusNotFound},
		{&types.LineError{Item: 0, Line: 0, Err: &types.CapacityError{SubgroupID: 1}}, http.StatusConflict},
		{&types.OverbookingError{}, http.StatusConflict},
		{types.ErrDuplicateRequest, http.StatusConflict},
		{&types.DiscountError{Reason: types.DISCOUNT_EXPIRED}, http.StatusUnprocessableEntity},
		{&types.VoucherBatchError{}, http.StatusUnprocessableEntity},
		{errors.Join(types.ErrGatewayFailed, errors.New("stripe down")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorStatus(c.err), c.err.Error())
	}
}
