package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"contentflow/internal/platform/config"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
)

// Notifier tells an operator about work that exhausted its retries.
type Notifier interface {
	Alert(ctx context.Context, subject, body string) error
}

func New(cfg config.AlertsConfig) Notifier {
	if cfg.Provider == "smtp" && cfg.SMTP.Host != "" && len(cfg.Recipients) > 0 {
		return NewEmailNotifier(cfg)
	}
	return LogNotifier{}
}

type LogNotifier struct{}

func (LogNotifier) Alert(ctx context.Context, subject, body string) error {
	log.Warn().Str("alert", subject).Msg(body)
	return nil
}

type EmailNotifier struct {
	cfg    config.AlertsConfig
	dialer *gomail.Dialer
}

func NewEmailNotifier(cfg config.AlertsConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password),
	}
}

func (n *EmailNotifier) Alert(ctx context.Context, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", n.cfg.SMTP.FromName, n.cfg.SMTP.FromAddress))
	msg.SetHeader("To", n.cfg.Recipients...)
	msg.SetHeader("Subject", "[contentflow] "+subject)
	msg.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(msg); err != nil {
		log.Error().Err(err).Str("alert", subject).Str("to", strings.Join(n.cfg.Recipients, ",")).Msg("failed to send alert email")
		return err
	}
	return nil
}

// Recorder keeps alerts in memory; used by tests.
type Recorder struct {
	mu       sync.Mutex
	subjects []string
}

func (r *Recorder) Alert(ctx context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}
