package smtpmail

import (
	"context"

	"github.com/BearBump/DeedBox/internal/integrations/mailer"
	"github.com/pkg/errors"
	gomail "gopkg.in/gomail.v2"
)

type Sender struct {
	dialer *gomail.Dialer
}

func New(host string, port int, username, password string) *Sender {
	return &Sender{dialer: gomail.NewDialer(host, port, username, password)}
}

func (s *Sender) Send(ctx context.Context, m mailer.Message) error {
	// gomail не умеет контексты; хотя бы не начинаем отправку после отмены.
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.HTMLBody)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}
