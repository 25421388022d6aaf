// Package notify sends failure notification mail, rate-limited by a
// single-slot lock: while the lock is held further notifications are dropped,
// not queued.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sender delivers one message. Implemented by Mailer; tests substitute fakes.
type Sender interface {
	Send(subject, body string) error
}

// Throttle wraps a Sender with the drop-while-locked policy.
type Throttle struct {
	sender   Sender
	interval time.Duration
	locked   atomic.Bool
	log      *zap.Logger
}

// NewThrottle builds a throttle releasing its lock interval after each
// successful claim. Zero interval defaults to 15 minutes.
func NewThrottle(sender Sender, interval time.Duration, log *zap.Logger) *Throttle {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Throttle{sender: sender, interval: interval, log: log}
}

// Notify sends the message unless the lock is held. The send itself happens
// asynchronously so callers on the request path never wait on SMTP.
func (t *Throttle) Notify(subject, body string) {
	if !t.locked.CompareAndSwap(false, true) {
		return // lock held, drop
	}
	time.AfterFunc(t.interval, func() { t.locked.Store(false) })
	go func() {
		if err := t.sender.Send(subject, body); err != nil {
			t.log.Warn("failure notification mail not sent", zap.Error(err))
			return
		}
		t.log.Debug("failure notification mail sent")
	}()
}

// ErrorHook adapts the throttle to a zapcore hook: every error-level entry
// triggers a notification carrying the log message.
func (t *Throttle) ErrorHook(appName string) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if entry.Level >= zapcore.ErrorLevel {
			t.Notify(
				fmt.Sprintf("%s error message", appName),
				fmt.Sprintf("%s\n\n%s", entry.Time.Format(time.RFC3339), entry.Message),
			)
		}
		return nil
	}
}

// Mailer sends plain-text mail over SMTP.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (m *Mailer) Send(subject, body string) error {
	if m.Host == "" || len(m.To) == 0 {
		return fmt.Errorf("smtp not configured")
	}
	from := m.From
	if from == "" {
		from = m.Username
	}
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(m.To, ","),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	return smtp.SendMail(addr, auth, from, m.To, []byte(msg))
}
