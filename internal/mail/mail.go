// Package mail delivers transactional email such as one-time passcodes.
package mail

import (
	"context"
	"fmt"
	"html"
	"sync"

	"github.com/resend/resend-go/v2"

	"donorlink.org/internal/ids"
	"donorlink.org/internal/obs"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// OTPMessage builds the verification email carrying code.
func OTPMessage(to, name, code string, validFor string) Message {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	return Message{
		To:      []string{to},
		Subject: "Your donorlink verification code",
		Text:    fmt.Sprintf("%s,\n\nYour verification code is %s. It is valid for %s.\n", greeting, code, validFor),
		HTML: fmt.Sprintf("<p>%s,</p><p>Your verification code is <strong>%s</strong>. It is valid for %s.</p>",
			html.EscapeString(greeting), html.EscapeString(code), html.EscapeString(validFor)),
	}
}

// ResendSender sends through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		obs.Logger().Error("mail_event", "event", "resend_failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return "", fmt.Errorf("resend send failed: %w", err)
	}
	obs.Logger().Info("mail_event", "event", "resend_sent", "message_id", sent.Id, "subject", msg.Subject)
	return sent.Id, nil
}

// NoopSender logs instead of delivering and keeps what it was given, which
// makes it useful in development and tests.
type NoopSender struct {
	mu   sync.Mutex
	sent []Message
}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	id := "noop-" + ids.New()
	obs.Logger().Info("mail_event", "event", "noop_send", "message_id", id, "to", msg.To, "subject", msg.Subject)
	return id, nil
}

// Sent returns a copy of every message passed to Send.
func (s *NoopSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the most recent message sent to addr.
func (s *NoopSender) Last(addr string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		for _, to := range s.sent[i].To {
			if to == addr {
				return s.sent[i], true
			}
		}
	}
	return Message{}, false
}
