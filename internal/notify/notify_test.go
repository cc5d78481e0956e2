package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"google.golang.org/api/option"
)

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMulti_AttemptsEveryNotifier(t *testing.T) {
	first := &recordingNotifier{err: errors.New("twilio down")}
	second := &recordingNotifier{}
	m := Multi{first, nil, second}

	if err := m.Notify(context.Background(), Notification{Subject: "Nueva solicitud de pago"}); err != nil {
		t.Errorf("expected partial failure to be tolerated, got %v", err)
	}
	if len(first.got) != 1 || len(second.got) != 1 {
		t.Errorf("expected both notifiers called, got %d and %d", len(first.got), len(second.got))
	}
}

func TestMulti_FailsWhenEveryChannelFails(t *testing.T) {
	m := Multi{&recordingNotifier{err: errors.New("smtp down")}, &recordingNotifier{err: errors.New("twilio down")}}

	err := m.Notify(context.Background(), Notification{Subject: "Nueva solicitud de pago"})
	if err == nil || !strings.Contains(err.Error(), "smtp down") || !strings.Contains(err.Error(), "twilio down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if err := (Multi{nil}).Notify(context.Background(), Notification{}); err != nil {
		t.Errorf("expected no error with nothing to attempt, got %v", err)
	}
}

func TestFallback_FillsOnlyMissingRecipients(t *testing.T) {
	next := &recordingNotifier{}
	f := Fallback{Next: next, Emails: []string{"ventas@example.com"}, SMSNumbers: []string{"+573001112233"}}

	if err := f.Notify(context.Background(), Notification{Subject: "a"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := f.Notify(context.Background(), Notification{Subject: "b", Emails: []string{"dueno@example.com"}}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(next.got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(next.got))
	}
	if got := next.got[0]; got.Emails[0] != "ventas@example.com" || got.SMSNumbers[0] != "+573001112233" {
		t.Errorf("fallback recipients not applied: %+v", got)
	}
	if got := next.got[1]; len(got.Emails) != 1 || got.Emails[0] != "dueno@example.com" {
		t.Errorf("explicit emails overridden: %+v", got.Emails)
	}
}

func TestGmailNotifier_SendsOneMessagePerRecipient(t *testing.T) {
	var mu sync.Mutex
	var raws []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/gmail/v1/users/me/messages/send" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var msg struct {
			Raw string `json:"raw"`
		}
		json.Unmarshal(body, &msg)
		mu.Lock()
		raws = append(raws, msg.Raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m1"}`))
	}))
	defer srv.Close()

	g, err := NewGmailNotifier(context.Background(),
		WithSender("bot@example.com"),
		WithGmailClientOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication()),
	)
	if err != nil {
		t.Fatalf("NewGmailNotifier failed: %v", err)
	}
	err = g.Notify(context.Background(), Notification{
		Subject: "Nueva solicitud de pago",
		Body:    "Un cliente ha solicitado realizar un pago.",
		Emails:  []string{"owner@example.com", "sales@example.com"},
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(raws))
	}
	decoded, err := base64.URLEncoding.DecodeString(raws[0])
	if err != nil {
		t.Fatalf("raw is not base64url: %v", err)
	}
	email := string(decoded)
	for _, want := range []string{"From: bot@example.com", "To: owner@example.com", "Subject: Nueva solicitud de pago", "Un cliente ha solicitado realizar un pago."} {
		if !strings.Contains(email, want) {
			t.Errorf("email missing %q:\n%s", want, email)
		}
	}
}

func TestNewGmailNotifier_RequiresSender(t *testing.T) {
	if _, err := NewGmailNotifier(context.Background()); err == nil {
		t.Error("expected error without sender")
	}
}

type fakeTwilio struct {
	params []*twilioApi.CreateMessageParams
	failTo string
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if params.To != nil && *params.To == f.failTo {
		return nil, errors.New("invalid number")
	}
	f.params = append(f.params, params)
	return &twilioApi.ApiV2010Message{}, nil
}

func TestSMSNotifier_Notify(t *testing.T) {
	fake := &fakeTwilio{failTo: "+570000000000"}
	s := &SMSNotifier{api: fake, from: "+15550001111"}

	err := s.Notify(context.Background(), Notification{
		Subject:    "Nueva solicitud de pago",
		Body:       "Productos: café",
		SMSNumbers: []string{"+573001234567", "+570000000000"},
	})
	if err == nil {
		t.Error("expected error for the failing number")
	}
	if len(fake.params) != 1 {
		t.Fatalf("expected 1 successful sms, got %d", len(fake.params))
	}
	p := fake.params[0]
	if *p.To != "+573001234567" || *p.From != "+15550001111" || *p.Body != "Nueva solicitud de pago\nProductos: café" {
		t.Errorf("unexpected params to=%s from=%s body=%q", *p.To, *p.From, *p.Body)
	}
}

func TestNewSMSNotifier_Validation(t *testing.T) {
	if _, err := NewSMSNotifier(WithAccountSID("AC1")); err == nil {
		t.Error("expected error without auth token")
	}
	if _, err := NewSMSNotifier(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewSMSNotifier(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromNumber("+15550001111")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
