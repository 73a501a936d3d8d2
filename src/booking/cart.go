package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/neuron-e/api-boukii-sub005/src/availability"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/neuron-e/api-boukii-sub005/src/types"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

var clockValidator validator.Func = func(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := availability.ParseClock(s)
	return err == nil
}

// cartItemValidator enforces the fields each kind of cart item needs.
func cartItemValidator(sl validator.StructLevel) {
	item := sl.Current().Interface().(types.CartItem)
	for j, l := range item.Lines {
		switch item.Kind {
		case types.CART_COLLECTIVE:
			if l.CourseSubgroupID == nil {
				sl.ReportError(l.CourseSubgroupID, fmt.Sprintf("Lines[%d].CourseSubgroupID", j), "CourseSubgroupID", "required_collective", "")
			}
		case types.CART_PRIVATE:
			if l.HourStart == "" {
				sl.ReportError(l.HourStart, fmt.Sprintf("Lines[%d].HourStart", j), "HourStart", "required_private", "")
			}
			if l.HourEnd == "" {
				sl.ReportError(l.HourEnd, fmt.Sprintf("Lines[%d].HourEnd", j), "HourEnd", "required_private", "")
			}
		}
	}
}

// RegisterValidations adds the booking rules to v. gin's engine gets the same
// rules in main.
func RegisterValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("clock", clockValidator); err != nil {
		return err
	}
	v.RegisterStructValidation(cartItemValidator, types.CartItem{})
	return nil
}

func NewValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return v
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_collective", "required_private":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "oneof":
		return "must be one of " + e.Param()
	case "clock":
		return "must be a HH:MM time"
	}
	return "is invalid"
}

// AsValidationError converts validator output into the first offending field.
func AsValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return types.NewValidationError(field, describe(e))
}

func (o *Orchestrator) validateRequest(req types.CreateBookingRequest) error {
	if err := o.Validate.Struct(req); err != nil {
		return AsValidationError(err)
	}
	if req.SchoolID == 0 {
		return types.NewValidationError("school_id", "is required")
	}
	if req.PriceTotal != nil && req.PriceTotal.IsNegative() {
		return types.NewValidationError("price_total", "must not be negative")
	}
	if len(req.Basket) > 0 && !gjson.ValidBytes(req.Basket) {
		return types.NewValidationError("basket", "is not valid json")
	}
	for i, item := range req.Items {
		for j, l := range item.Lines {
			if l.Price.IsNegative() {
				return &types.ValidationError{Field: "price", Item: i, Line: j, Message: "must not be negative"}
			}
		}
	}
	return nil
}

// plannedLine is a cart line resolved against the catalogue, ready to insert.
type plannedLine struct {
	item      int
	line      int
	kind      types.CartItemKind
	course    models.Course
	date      models.CourseDate
	client    models.Client
	subgroup  *models.CourseSubgroup
	groupID   string
	monitorID *uint
	degreeID  *uint
	hourStart string
	hourEnd   string
	price     decimal.Decimal
	extras    []types.CartExtra
}

func (p plannedLine) window() (availability.Window, error) {
	return availability.NewWindow(p.date.Date, p.hourStart, p.hourEnd)
}

func (p plannedLine) model(booking models.Booking, status types.LineStatus) models.BookingLine {
	l := models.BookingLine{
		BookingID:    booking.ID,
		SchoolID:     booking.SchoolID,
		ClientID:     p.client.ID,
		CourseID:     p.course.ID,
		CourseType:   p.course.CourseType,
		SportID:      p.course.SportID,
		CourseDateID: p.date.ID,
		MonitorID:    p.monitorID,
		DegreeID:     p.degreeID,
		Date:         p.date.Date,
		HourStart:    p.hourStart,
		HourEnd:      p.hourEnd,
		Price:        p.price,
		Currency:     booking.Currency,
		Status:       status,
		GroupID:      p.groupID,
	}
	if p.subgroup != nil {
		l.CourseGroupID = &p.subgroup.CourseGroupID
		l.CourseSubgroupID = &p.subgroup.ID
	}
	for _, e := range p.extras {
		l.Extras = append(l.Extras, models.BookingLineExtra{Name: e.Name, Price: e.Price, Quantity: e.Quantity})
	}
	return l
}

type cartResolver struct {
	tx      *gorm.DB
	school  models.School
	clients map[uint]models.Client
}

func (r *cartResolver) client(id uint) (models.Client, bool, error) {
	if c, ok := r.clients[id]; ok {
		return c, true, nil
	}
	var c models.Client
	err := r.tx.Where("id = ?", id).Where("school_id = ?", r.school.ID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	r.clients[id] = c
	return c, true, nil
}

// resolve loads every course, occurrence, client and subgroup the cart names
// and checks that they belong together. It only reads.
func (r *cartResolver) resolve(items []types.CartItem) ([]plannedLine, error) {
	var planned []plannedLine
	for i, item := range items {
		var course models.Course
		err := r.tx.Where("id = ?", item.CourseID).Where("school_id = ?", r.school.ID).First(&course).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &types.ValidationError{Field: "course_id", Item: i, Line: 0, Message: "course not found"}
		}
		if err != nil {
			return nil, err
		}
		if course.CourseType != item.Kind.CourseType() {
			return nil, &types.ValidationError{Field: "kind", Item: i, Line: 0, Message: "does not match course type " + course.CourseType.String()}
		}
		groupID := uuid.NewString()

		for j, line := range item.Lines {
			invalid := func(field, msg string) error {
				return &types.ValidationError{Field: field, Item: i, Line: j, Message: msg}
			}
			client, ok, err := r.client(line.ClientID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, invalid("client_id", "client not found")
			}
			var date models.CourseDate
			err = r.tx.Where("id = ?", line.CourseDateID).Where("course_id = ?", course.ID).First(&date).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, invalid("course_date_id", "date does not belong to course")
			}
			if err != nil {
				return nil, err
			}

			p := plannedLine{
				item:      i,
				line:      j,
				kind:      item.Kind,
				course:    course,
				date:      date,
				client:    client,
				groupID:   groupID,
				monitorID: line.MonitorID,
				degreeID:  line.DegreeID,
				hourStart: line.HourStart,
				hourEnd:   line.HourEnd,
				price:     line.Price,
				extras:    line.Extras,
			}
			if line.CourseSubgroupID != nil {
				var sg models.CourseSubgroup
				err := r.tx.Where("id = ?", *line.CourseSubgroupID).First(&sg).Error
				if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && sg.CourseDateID != date.ID) {
					return nil, invalid("course_subgroup_id", "subgroup does not belong to date")
				}
				if err != nil {
					return nil, err
				}
				if line.CourseGroupID != nil && *line.CourseGroupID != sg.CourseGroupID {
					return nil, invalid("course_group_id", "does not match subgroup")
				}
				p.subgroup = &sg
				if p.degreeID == nil {
					p.degreeID = sg.DegreeID
				}
				if item.Kind == types.CART_COLLECTIVE {
					p.monitorID = sg.MonitorID
				}
			}
			if item.Kind != types.CART_PRIVATE {
				if p.hourStart == "" {
					p.hourStart = date.HourStart
				}
				if p.hourEnd == "" {
					p.hourEnd = date.HourEnd
				}
			}
			planned = append(planned, p)
		}
	}
	return planned, nil
}

// lesson is one private cart item on one occurrence window. Its clients share
// the monitor.
type lesson struct {
	first     plannedLine
	window    availability.Window
	clients   []models.Client
	lines     []int
	monitorID *uint
}

func privateLessons(planned []plannedLine) ([]*lesson, error) {
	var out []*lesson
	index := map[string]*lesson{}
	for i, p := range planned {
		if p.kind != types.CART_PRIVATE {
			continue
		}
		key := p.groupID + "|" + p.date.Date + "|" + p.hourStart + "|" + p.hourEnd
		if l, ok := index[key]; ok {
			l.clients = append(l.clients, p.client)
			l.lines = append(l.lines, i)
			if l.monitorID == nil {
				l.monitorID = p.monitorID
			}
			continue
		}
		w, err := p.window()
		if err != nil {
			return nil, &types.ValidationError{Field: "hour_start", Item: p.item, Line: p.line, Message: err.Error()}
		}
		l := &lesson{first: p, window: w, clients: []models.Client{p.client}, lines: []int{i}, monitorID: p.monitorID}
		index[key] = l
		out = append(out, l)
	}
	return out, nil
}

func (l *lesson) query(tx *gorm.DB, school models.School) (availability.Query, error) {
	q := availability.Query{
		SchoolID: school.ID,
		SportID:  l.first.course.SportID,
		Window:   l.window,
	}
	if l.first.degreeID != nil {
		var degree models.Degree
		if err := tx.Where("id = ?", *l.first.degreeID).First(&degree).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return q, err
		}
		q.MinDegreeOrder = degree.DegreeOrder
	}
	day, _ := time.Parse(config.DATE_FORMAT, l.window.Date)
	seen := map[uint]bool{}
	for _, c := range l.clients {
		if c.IsAdultOn(day) {
			q.HasAdult = true
		}
		for _, lang := range c.Languages() {
			if !seen[lang] {
				seen[lang] = true
				q.Languages = append(q.Languages, lang)
			}
		}
	}
	return q, nil
}
