// Package notify forwards important advices to the account owner by e-mail.
package notify

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/nadmax/callscope/internal/advice"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("email notifier is not configured")

// Sender is the part of the SendGrid client the notifier needs.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          string
	MinPriority advice.Priority
}

type EmailNotifier struct {
	sender Sender
	cfg    EmailConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewEmailNotifier(cfg EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	if cfg.APIKey == "" || cfg.To == "" || cfg.FromAddress == "" {
		return nil, ErrNotConfigured
	}

	return NewEmailNotifierWithSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger), nil
}

func NewEmailNotifierWithSender(sender Sender, cfg EmailConfig, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailNotifier{sender: sender, cfg: cfg, logger: logger}
}

// Attach subscribes the notifier to new advices of s and returns the
// unsubscribe function. Mails are sent in the background.
func (n *EmailNotifier) Attach(s *advice.System) func() {
	return s.Added.Subscribe(func(a advice.Advice) {
		if a.Priority < n.cfg.MinPriority {
			return
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.Notify(a); err != nil {
				n.logger.Warn("failed to send advice email", zap.String("advice_id", a.ID), zap.Error(err))
			}
		}()
	})
}

// Wait blocks until every mail started by Attach has been sent or failed.
func (n *EmailNotifier) Wait() {
	n.wg.Wait()
}

func (n *EmailNotifier) Notify(a advice.Advice) error {
	subject, plain, htmlBody := render(a)

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromAddress)
	to := mail.NewEmail("", n.cfg.To)
	email := mail.NewSingleEmail(from, subject, to, plain, htmlBody)

	response, err := n.sender.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.logger.Info("advice email sent",
		zap.String("advice_id", a.ID),
		zap.String("source", a.Source),
		zap.Int("status", response.StatusCode),
	)
	return nil
}

func render(a advice.Advice) (subject, plain, htmlBody string) {
	subject = fmt.Sprintf("[%s] %s", strings.ToUpper(a.Priority.String()), a.Title)

	var p, h strings.Builder
	p.WriteString(a.Description)
	h.WriteString("<p>" + html.EscapeString(a.Description) + "</p>")

	if len(a.Actions) > 0 {
		p.WriteString("\n\nSuggested actions:")
		h.WriteString("<ul>")
		for _, act := range a.Actions {
			line := act.Label
			if len(act.ProjectIDs) > 0 {
				line += fmt.Sprintf(" (projects %s)", joinIDs(act))
			}
			p.WriteString("\n- " + line)
			h.WriteString("<li>" + html.EscapeString(line) + "</li>")
		}
		h.WriteString("</ul>")
	}

	return subject, p.String(), h.String()
}

func joinIDs(act advice.Action) string {
	parts := make([]string, len(act.ProjectIDs))
	for i, id := range act.ProjectIDs {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
