package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
)

// Message is one outbound email handed to a Sender.
type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	HTML     string
	Text     string
}

// Sender delivers a single message. Implementations classify failures with the
// platform error taxonomy so the dispatcher can decide between retry and fail.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail over an authenticated SMTP relay.
type SMTPSender struct {
	dialer      *gomail.Dialer
	sendTimeout time.Duration
}

// NewSMTPSender builds a sender from SMTP configuration.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{dialer: dialer, sendTimeout: timeout}, nil
}

// Send composes and delivers one message. The context deadline bounds the
// whole dial+send exchange.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return pkgerrors.New(pkgerrors.CodeSendPermanent, "recipient is required")
	}
	if msg.From == "" {
		return pkgerrors.New(pkgerrors.CodeSendPermanent, "sender is required")
	}

	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	case msg.Text != "":
		m.SetBody("text/plain", msg.Text)
	default:
		return pkgerrors.New(pkgerrors.CodeSendPermanent, "message body is empty")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return pkgerrors.Wrap(pkgerrors.CodeSendTransient, ctx.Err(), "send canceled")
	case <-timer.C:
		return pkgerrors.New(pkgerrors.CodeSendTransient, "smtp send timed out")
	case err := <-done:
		if err != nil {
			return classify(err)
		}
		return nil
	}
}

// classify maps an SMTP failure onto the error taxonomy. Permanent rejections
// carry a 5xx reply code; everything else stays retryable.
func classify(err error) *pkgerrors.Error {
	msg := err.Error()
	if code, ok := smtpReplyCode(msg); ok && code >= 500 && code < 600 {
		return pkgerrors.Wrap(pkgerrors.CodeSendPermanent, err, "smtp rejected message")
	}
	return pkgerrors.Wrap(pkgerrors.CodeSendTransient, err, "smtp delivery failed")
}

// smtpReplyCode pulls a leading 3-digit reply code out of an SMTP error string.
func smtpReplyCode(msg string) (int, bool) {
	for _, token := range strings.Fields(msg) {
		if len(token) == 3 && token[0] >= '2' && token[0] <= '5' {
			code := 0
			ok := true
			for _, r := range token {
				if r < '0' || r > '9' {
					ok = false
					break
				}
				code = code*10 + int(r-'0')
			}
			if ok {
				return code, true
			}
		}
	}
	return 0, false
}
