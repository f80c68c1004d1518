package email

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/careline/bookingbot/internal/config"
	"github.com/careline/bookingbot/internal/model"
)

// Service sends appointment notifications. Failures are reported to the
// caller, who logs and moves on — email is best-effort.
type Service interface {
	SendBookingConfirmation(to string, appointment *model.Appointment, doctor *model.Doctor) error
	SendCancellation(to string, appointment *model.Appointment) error
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.SMTPConfig, password string) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendBookingConfirmation(to string, appointment *model.Appointment, doctor *model.Doctor) error {
	body := fmt.Sprintf(
		"Your appointment with %s (%s) is confirmed for %s at %s.\n\nSee you then!",
		doctor.Name,
		doctor.Department,
		appointment.Date.Format("Monday, January 2"),
		appointment.StartTime.Format(model.ClockTime),
	)
	return s.send(to, "Appointment confirmed", body)
}

func (s *smtpService) SendCancellation(to string, appointment *model.Appointment) error {
	body := fmt.Sprintf(
		"Your appointment on %s at %s has been cancelled.",
		appointment.Date.Format("Monday, January 2"),
		appointment.StartTime.Format(model.ClockTime),
	)
	return s.send(to, "Appointment cancelled", body)
}

func (s *smtpService) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
