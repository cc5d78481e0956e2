// Package notify alerts business owners about leads that need a human,
// by email through the Gmail API and by SMS through Twilio.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Notification is a message for the owners of a business.
type Notification struct {
	Subject    string
	Body       string
	Emails     []string
	SMSNumbers []string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every configured notifier. Every notifier
// is attempted. It fails only when no notifier delivered; partial failures are
// logged.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	attempted := 0
	for _, nt := range m {
		if nt == nil {
			continue
		}
		attempted++
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == attempted {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		slog.Warn("Multi.Notify: channel failed, notification delivered elsewhere", "subject", n.Subject, "error", err)
	}
	return nil
}

// LogNotifier only logs notifications. It stands in when no channel is configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.Info("LogNotifier.Notify: owner notification", "subject", n.Subject, "emails", n.Emails, "smsNumbers", n.SMSNumbers)
	return nil
}

// Fallback fills in the recipients a notification leaves empty before
// handing it to Next.
type Fallback struct {
	Next       Notifier
	Emails     []string
	SMSNumbers []string
}

// Notify implements Notifier.
func (f Fallback) Notify(ctx context.Context, n Notification) error {
	if len(n.Emails) == 0 {
		n.Emails = f.Emails
	}
	if len(n.SMSNumbers) == 0 {
		n.SMSNumbers = f.SMSNumbers
	}
	return f.Next.Notify(ctx, n)
}
