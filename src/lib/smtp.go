package lib

import (
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

func GetSMTPClient() (*mail.Client, error) {
	cfg := config.Get()
	c, err := mail.NewClient(cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTPUsername),
		mail.WithPassword(cfg.SMTPPassword),
	)
	if err != nil {
		GetLogger().Error("Could not initialize smtp client", zap.Error(err))
		return nil, err
	}
	return c, nil
}

type SendMailInput struct {
	From     string
	FromName string
	To       []string
	ReplyTo  string
	Subject  string
	Body     string
	Html     bool
}

func NewMessage(in *SendMailInput) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(in.FromName, in.From); err != nil {
		return nil, err
	}
	if err := msg.To(in.To...); err != nil {
		return nil, err
	}
	if in.ReplyTo != "" {
		if err := msg.ReplyTo(in.ReplyTo); err != nil {
			return nil, err
		}
	}
	msg.Subject(in.Subject)
	if in.Html {
		msg.SetBodyString(mail.TypeTextHTML, in.Body)
	} else {
		msg.SetBodyString(mail.TypeTextPlain, in.Body)
	}
	return msg, nil
}

func SendMail(in *SendMailInput) error {
	msg, err := NewMessage(in)
	if err != nil {
		return err
	}
	c, err := GetSMTPClient()
	if err != nil {
		return err
	}
	return c.DialAndSend(msg)
}
