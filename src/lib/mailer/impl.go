package mailer

import (
	"fmt"
	"strings"

	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/lib"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"go.uber.org/zap"
)

// Dispatcher delivers booking side effects: monitor assignment events on kafka
// and cancellation emails over smtp.
type Dispatcher struct {
	Topic   string
	Produce func(topic string, key string, payload map[string]any) error
	Send    func(in *lib.SendMailInput) error
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Topic:   config.Get().MonitorAssignmentsTopic,
		Produce: lib.KafkaProduceMessage,
		Send:    lib.SendMail,
	}
}

func (d *Dispatcher) NotifyInstructorAssignment(monitorID uint, eventType string, payload map[string]any) error {
	body := map[string]any{
		"monitor_id": monitorID,
		"event":      eventType,
	}
	for k, v := range payload {
		body[k] = v
	}
	if err := d.Produce(d.Topic, fmt.Sprint(monitorID), body); err != nil {
		lib.GetLogger().Warn("Error sending monitor notification", zap.Uint("monitor", monitorID), zap.Error(err))
		return err
	}
	return nil
}

func (d *Dispatcher) SendCancellationEmail(school models.School, booking models.Booking, lines []models.BookingLine, buyer models.Client) error {
	if buyer.Email == "" {
		return nil
	}
	in := CancellationMail(school, booking, lines, buyer)
	if err := d.Send(in); err != nil {
		lib.GetLogger().Warn("Error sending cancellation email", zap.Uint("booking", booking.ID), zap.Error(err))
		return err
	}
	return nil
}

func CancellationMail(school models.School, booking models.Booking, lines []models.BookingLine, buyer models.Client) *lib.SendMailInput {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", buyer.FullName())
	if booking.IsCancelled() {
		fmt.Fprintf(&b, "Your booking #%d has been cancelled.\n", booking.ID)
	} else {
		fmt.Fprintf(&b, "Part of your booking #%d has been cancelled:\n", booking.ID)
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "  - %s %s-%s\n", l.Date, l.HourStart, l.HourEnd)
	}
	fmt.Fprintf(&b, "\n%s\n", school.Name)

	from := config.Get().MailFrom
	if school.Email != "" {
		from = school.Email
	}
	return &lib.SendMailInput{
		From:     from,
		FromName: school.Name,
		To:       []string{buyer.Email},
		ReplyTo:  school.Email,
		Subject:  fmt.Sprintf("Booking #%d cancelled", booking.ID),
		Body:     b.String(),
	}
}
