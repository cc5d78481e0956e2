package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailOpts holds configuration for the Gmail notifier.
type GmailOpts struct {
	// CredentialsFile is a service account key with domain-wide delegation.
	CredentialsFile string
	// Sender is the mailbox the service account impersonates.
	Sender        string
	ClientOptions []option.ClientOption
}

// GmailOption configures a GmailNotifier.
type GmailOption func(*GmailOpts)

// WithCredentialsFile sets the service account key file.
func WithCredentialsFile(path string) GmailOption {
	return func(o *GmailOpts) {
		o.CredentialsFile = path
	}
}

// WithSender sets the From mailbox.
func WithSender(email string) GmailOption {
	return func(o *GmailOpts) {
		o.Sender = email
	}
}

// WithGmailClientOptions passes options to the Gmail API client.
func WithGmailClientOptions(opts ...option.ClientOption) GmailOption {
	return func(o *GmailOpts) {
		o.ClientOptions = append(o.ClientOptions, opts...)
	}
}

// GmailNotifier sends notification emails through the Gmail API.
type GmailNotifier struct {
	svc    *gmail.Service
	sender string
}

// NewGmailNotifier creates a Gmail notifier. With a credentials file the
// service account impersonates Sender; otherwise ClientOptions must carry auth.
func NewGmailNotifier(ctx context.Context, opts ...GmailOption) (*GmailNotifier, error) {
	var cfg GmailOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sender == "" {
		return nil, errors.New("gmail sender is required")
	}
	clientOpts := cfg.ClientOptions
	if cfg.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(b, gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials file: %w", err)
		}
		jwtCfg.Subject = cfg.Sender
		clientOpts = append(clientOpts, option.WithHTTPClient(jwtCfg.Client(ctx)))
	}
	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail client: %w", err)
	}
	slog.Debug("notify.NewGmailNotifier", "sender", cfg.Sender)
	return &GmailNotifier{svc: svc, sender: cfg.Sender}, nil
}

// Notify sends one email per recipient.
func (g *GmailNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, to := range n.Emails {
		raw := buildEmail(g.sender, to, n.Subject, n.Body)
		msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}
		if _, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
			slog.Error("GmailNotifier.Notify: send failed", "to", to, "error", err)
			errs = append(errs, fmt.Errorf("email to %s: %w", to, err))
			continue
		}
		slog.Info("GmailNotifier.Notify: email sent", "to", to, "subject", n.Subject)
	}
	return errors.Join(errs...)
}

func buildEmail(from, to, subject, body string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", to))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
