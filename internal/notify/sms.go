package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// maxSMSBody keeps notifications within a few SMS segments.
const maxSMSBody = 1200

// messageCreator is the part of the Twilio API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSOpts holds configuration options for the Twilio SMS notifier.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// SMSOption defines a configuration option for the Twilio SMS notifier.
type SMSOption func(*SMSOpts)

func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

func WithFromNumber(from string) SMSOption {
	return func(o *SMSOpts) { o.From = from }
}

// SMSNotifier texts notifications through Twilio.
type SMSNotifier struct {
	api  messageCreator
	from string
}

// NewSMSNotifier creates a Twilio SMS notifier.
func NewSMSNotifier(opts ...SMSOption) (*SMSNotifier, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("notify.NewSMSNotifier: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSNotifier{api: client.Api, from: cfg.From}, nil
}

// Notify texts the subject and body to every SMS number.
func (s *SMSNotifier) Notify(ctx context.Context, n Notification) error {
	body := n.Subject
	if n.Body != "" {
		body = n.Subject + "\n" + n.Body
	}
	if len(body) > maxSMSBody {
		body = strings.ToValidUTF8(body[:maxSMSBody], "")
	}
	var errs []error
	for _, to := range n.SMSNumbers {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(s.from)
		params.SetBody(body)
		if _, err := s.api.CreateMessage(params); err != nil {
			slog.Error("SMSNotifier.Notify: send failed", "to", to, "error", err)
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
			continue
		}
		slog.Debug("SMSNotifier.Notify: sms sent", "to", to)
	}
	return errors.Join(errs...)
}
