package dbtest

import (
	"testing"

	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fixture builds a small school: one sport with two degrees, one adult client
// with a linked account, and helpers for courses and instructors.
type Fixture struct {
	t      testing.TB
	DB     *gorm.DB
	School models.School
	Sport  models.Sport
	Low    models.Degree
	High   models.Degree
	Client models.Client
}

func NewFixture(t testing.TB, db *gorm.DB) *Fixture {
	t.Helper()
	f := &Fixture{t: t, DB: db}
	f.School = models.School{Name: "Test School", Currency: "CHF", Active: true}
	f.mustCreate(&f.School)
	f.Sport = models.Sport{Name: "Ski"}
	f.mustCreate(&f.Sport)
	f.Low = models.Degree{SchoolID: f.School.ID, SportID: f.Sport.ID, Name: "Beginner", DegreeOrder: 1}
	f.mustCreate(&f.Low)
	f.High = models.Degree{SchoolID: f.School.ID, SportID: f.Sport.ID, Name: "Expert", DegreeOrder: 5}
	f.mustCreate(&f.High)
	f.Client = f.AddClient("Ana", true)
	return f
}

func (f *Fixture) mustCreate(v any) {
	f.t.Helper()
	if err := f.DB.Create(v).Error; err != nil {
		f.t.Fatalf("fixture insert failed: %s", err.Error())
	}
}

func (f *Fixture) Create(v any) {
	f.t.Helper()
	f.mustCreate(v)
}

func (f *Fixture) AddClient(name string, linked bool) models.Client {
	f.t.Helper()
	c := models.Client{SchoolID: f.School.ID, FirstName: name, Email: name + "@example.com", BirthDate: "1990-01-01"}
	if linked {
		uid := uint(1000 + len(name))
		c.UserID = &uid
	}
	f.mustCreate(&c)
	return c
}

func (f *Fixture) AddCourse(courseType types.CourseType, price float64) models.Course {
	f.t.Helper()
	c := models.Course{
		SchoolID:   f.School.ID,
		SportID:    f.Sport.ID,
		Name:       courseType.String() + " course",
		CourseType: courseType,
		Price:      decimal.NewFromFloat(price),
		Currency:   "CHF",
	}
	f.mustCreate(&c)
	return c
}

func (f *Fixture) AddDate(course models.Course, date, start, end string) models.CourseDate {
	f.t.Helper()
	d := models.CourseDate{CourseID: course.ID, Date: date, HourStart: start, HourEnd: end}
	f.mustCreate(&d)
	return d
}

// AddSubgroup creates a group and subgroup on the occurrence. max < 0 means unlimited.
func (f *Fixture) AddSubgroup(date models.CourseDate, max int, monitorID *uint) models.CourseSubgroup {
	f.t.Helper()
	g := models.CourseGroup{CourseID: date.CourseID, CourseDateID: date.ID, DegreeID: &f.Low.ID}
	f.mustCreate(&g)
	sg := models.CourseSubgroup{
		CourseID:      date.CourseID,
		CourseDateID:  date.ID,
		CourseGroupID: g.ID,
		DegreeID:      &f.Low.ID,
		MonitorID:     monitorID,
	}
	if max >= 0 {
		sg.MaxParticipants = &max
	}
	f.mustCreate(&sg)
	return sg
}

// AddMonitor creates an active instructor of the school authorized up to degree.
func (f *Fixture) AddMonitor(name string, degree models.Degree, allowAdults bool, languages ...uint) models.Monitor {
	f.t.Helper()
	m := models.Monitor{FirstName: name, Active: true, AllowAdults: allowAdults}
	slots := []**uint{&m.Language1ID, &m.Language2ID, &m.Language3ID}
	for i, lang := range languages {
		if i >= len(slots) {
			break
		}
		l := lang
		*slots[i] = &l
	}
	f.mustCreate(&m)
	f.mustCreate(&models.MonitorSchool{MonitorID: m.ID, SchoolID: f.School.ID, ActiveSchool: true})
	f.mustCreate(&models.MonitorSportAuthorization{MonitorID: m.ID, SchoolID: f.School.ID, SportID: f.Sport.ID, DegreeID: degree.ID})
	return m
}

// AddVoucher creates an active generic voucher with the given balance.
func (f *Fixture) AddVoucher(balance float64) models.Voucher {
	f.t.Helper()
	v := models.Voucher{
		SchoolID:         f.School.ID,
		Code:             "V-TEST",
		Quantity:         decimal.NewFromFloat(balance),
		RemainingBalance: decimal.NewFromFloat(balance),
		Active:           true,
	}
	f.mustCreate(&v)
	return v
}
