package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/actions"
	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	testBusinessID = "biz1"
	testPhone      = "573001112233"
)

type fakeGateway struct {
	mu        sync.Mutex
	sent      []models.Message
	marked    []string
	scheduled []models.Message
	failSend  bool
	// failFirst fails that many sends before succeeding.
	failFirst int
}

func (f *fakeGateway) MarkMessageAsRead(ctx context.Context, businessID, token, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, messageID)
}

func (f *fakeGateway) SendSingleMessage(ctx context.Context, msg models.Message) models.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.failFirst > 0 {
		f.failFirst--
		return models.SendResult{Status: models.APIStatusError, Message: "send failed"}
	}
	f.sent = append(f.sent, msg)
	return models.SendResult{Status: models.APIStatusSuccess, To: msg.To, MessageID: "wamid.out"}
}

func (f *fakeGateway) SendMassiveMessage(ctx context.Context, msgs []models.Message) models.MassiveSummary {
	return models.MassiveSummary{}
}

func (f *fakeGateway) ProgramLaterMessage(ctx context.Context, msg models.Message, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, msg)
	return nil
}

func (f *fakeGateway) GetTemplateData(ctx context.Context, businessID, templateName string) (string, error) {
	return "", models.ErrTemplateNotFound
}

func (f *fakeGateway) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Content
	}
	return out
}

type fakeAgent struct {
	resp        *models.AgentResponse
	err         error
	requests    []agent.Request
	shouldReply bool
	followUp    string
	continueErr error
	continued   [][]models.Message
}

func (f *fakeAgent) ChatWithAgent(ctx context.Context, req agent.Request) (*models.AgentResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAgent) ContinueConversation(ctx context.Context, business models.Business, history []models.Message) (bool, string, error) {
	f.continued = append(f.continued, history)
	return f.shouldReply, f.followUp, f.continueErr
}

type fakeFeed struct{ calls int }

func (f *fakeFeed) Fetch(ctx context.Context, b models.Business) (string, error) {
	f.calls++
	return "eventos: feria del café", nil
}

type fakeDocs struct{ queries []string }

func (f *fakeDocs) Context(ctx context.Context, businessID, query string) (string, error) {
	f.queries = append(f.queries, query)
	return "el café cuesta 10", nil
}

type fixture struct {
	store    *store.SQLiteStore
	gateway  *fakeGateway
	agent    *fakeAgent
	registry *actions.Registry
	svc      *Service
}

func newFixture(t *testing.T, profile models.BusinessProfile, opts ...Option) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "chat.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.UpsertBusiness(context.Background(), models.Business{
		ID:            testBusinessID,
		Name:          "Camila",
		OutboundToken: "tok",
		Profile:       profile,
	}); err != nil {
		t.Fatalf("UpsertBusiness failed: %v", err)
	}

	f := &fixture{
		store:    st,
		gateway:  &fakeGateway{},
		agent:    &fakeAgent{resp: &models.AgentResponse{Role: models.RoleAssistant, Content: "hola, qué más"}},
		registry: actions.NewRegistry(),
	}
	f.registry.Register(actions.NewStoreUserDataHandler(st))
	f.svc = NewService(st, f.gateway, f.agent, f.registry, opts...)
	return f
}

func textInbound(text string) Inbound {
	return Inbound{
		BusinessID:  testBusinessID,
		PhoneNumber: testPhone,
		MessageID:   "wamid.in",
		Type:        models.InboundTypeText,
		Text:        text,
	}
}

func TestRun_FirstContact(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	ctx := context.Background()

	out, err := f.svc.Run(ctx, textInbound("Hola"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if exists, _ := f.store.LeadExists(ctx, testBusinessID, testPhone); !exists {
		t.Error("expected lead to be created")
	}
	if exists, _ := f.store.ChatExists(ctx, testBusinessID, testPhone); !exists {
		t.Error("expected chat to be created")
	}

	if len(f.agent.requests) != 1 {
		t.Fatalf("expected 1 agent call, got %d", len(f.agent.requests))
	}
	req := f.agent.requests[0]
	if len(req.History) != 0 || req.Message.Content != "Hola" {
		t.Errorf("expected empty history and Hola, got %d turns and %q", len(req.History), req.Message.Content)
	}

	if got := f.gateway.contents(); len(got) != 1 || got[0] != "hola, qué más" {
		t.Errorf("unexpected replies %v", got)
	}
	if len(out.Replies) != 1 {
		t.Errorf("expected 1 reply in outcome, got %v", out.Replies)
	}
	if len(f.gateway.marked) != 1 || f.gateway.marked[0] != "wamid.in" {
		t.Errorf("expected inbound marked read, got %v", f.gateway.marked)
	}
	if f.gateway.sent[0].ReplyTo != "" {
		t.Error("expected no threading when reply_in_thread is off")
	}

	lead, err := f.store.GetLead(ctx, testBusinessID, testPhone)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if lead.LastMessage.Content != "hola, qué más" || lead.LastMessage.Status != models.LastMessageStatusSent {
		t.Errorf("unexpected last message %+v", lead.LastMessage)
	}

	msgs, _ := f.store.GetMessages(ctx, testBusinessID, testPhone, 10)
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser || msgs[0].Content != "Hola" {
		t.Errorf("expected inbound persisted as user turn, got %+v", msgs)
	}

	if len(f.gateway.scheduled) != 1 || f.gateway.scheduled[0].Content != "hola, qué más" {
		t.Errorf("expected follow-up keyed to the last reply, got %+v", f.gateway.scheduled)
	}
}

func TestRun_SecondMessageReusesLeadAndReplaysHistory(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	ctx := context.Background()

	if _, err := f.svc.Run(ctx, textInbound("Hola")); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	second := textInbound("cuánto vale?")
	second.MessageID = "wamid.in2"
	if _, err := f.svc.Run(ctx, second); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	third := textInbound("ok")
	third.MessageID = "wamid.in3"
	if _, err := f.svc.Run(ctx, third); err != nil {
		t.Fatalf("third Run failed: %v", err)
	}

	history := f.agent.requests[2].History
	if len(history) != 2 || history[0].Content != "Hola" || history[1].Content != "cuánto vale?" {
		t.Errorf("expected oldest-first history, got %+v", history)
	}
}

func TestRun_Reaction(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	ctx := context.Background()

	in := textInbound("👍")
	in.Type = models.InboundTypeReaction
	out, err := f.svc.Run(ctx, in)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Acknowledged {
		t.Error("expected acknowledgement")
	}
	if len(f.agent.requests) != 0 {
		t.Error("reaction must not call the agent")
	}
	if len(f.gateway.sent) != 0 || len(f.gateway.scheduled) != 0 {
		t.Error("reaction must not send or schedule anything")
	}
	if msgs, _ := f.store.GetMessages(ctx, testBusinessID, testPhone, 10); len(msgs) != 0 {
		t.Errorf("reaction must not be persisted, got %d messages", len(msgs))
	}
}

func TestRun_UnknownBusiness(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	ctx := context.Background()

	in := textInbound("Hola")
	in.BusinessID = "nope"
	_, err := f.svc.Run(ctx, in)
	var notFound *models.BusinessNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected BusinessNotFoundError, got %v", err)
	}
	if exists, _ := f.store.LeadExists(ctx, "nope", testPhone); exists {
		t.Error("no lead may be created for an unknown business")
	}
	if len(f.agent.requests) != 0 {
		t.Error("agent must not be called")
	}
}

func TestRun_InvalidPhone(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	in := textInbound("Hola")
	in.PhoneNumber = "3001112233"
	_, err := f.svc.Run(context.Background(), in)
	if !models.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRun_SplitsResponseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"envelope", `{"response": ["a", "b", "c"]}`, []string{"a", "b", "c"}},
		{"plain text", "hello", []string{"hello"}},
		{"broken json", `{"response": [`, []string{`{"response": [`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.BusinessProfile{})
			f.agent.resp = &models.AgentResponse{Content: tt.content}
			if _, err := f.svc.Run(context.Background(), textInbound("Hola")); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			got := f.gateway.contents()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("part %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
			if last := f.gateway.scheduled[0].Content; last != tt.want[len(tt.want)-1] {
				t.Errorf("follow-up keyed to %q, expected last part", last)
			}
		})
	}
}

func TestRun_ReplyInThread(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{ReplyInThread: true})
	f.agent.resp = &models.AgentResponse{Content: `{"response": ["uno", "dos"]}`}
	if _, err := f.svc.Run(context.Background(), textInbound("Hola")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.gateway.sent[0].ReplyTo != "wamid.in" {
		t.Errorf("expected first part threaded, got %q", f.gateway.sent[0].ReplyTo)
	}
	if f.gateway.sent[1].ReplyTo != "" {
		t.Error("expected only the first part threaded")
	}
}

func TestRun_StoreUserDataTool(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{Capabilities: models.Capabilities{Tools: []string{actions.StoreUserDataToolName}}})
	ctx := context.Background()
	f.agent.resp = &models.AgentResponse{
		Content: "anotado, Juan",
		ToolCalls: []models.ToolCall{{
			ID:        "call_1",
			Type:      "function",
			Name:      actions.StoreUserDataToolName,
			Arguments: map[string]any{"name": "Juan", "phone_number": testPhone},
		}},
	}

	out, err := f.svc.Run(ctx, textInbound("me llamo Juan"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lead, _ := f.store.GetLead(ctx, testBusinessID, testPhone)
	if lead.Name != "Juan" {
		t.Errorf("expected lead name Juan, got %q", lead.Name)
	}

	h, _ := f.registry.Get(actions.StoreUserDataToolName)
	got := f.gateway.contents()
	if len(got) != 1 || got[0] != h.Reply {
		t.Errorf("expected the canned confirmation, got %v", got)
	}
	if len(f.gateway.sent[0].ToolCalls) != 1 {
		t.Error("expected the tool call attached to the sent turn")
	}
	if len(out.ToolsRun) != 1 || out.ToolsRun[0] != actions.StoreUserDataToolName {
		t.Errorf("unexpected tools run %v", out.ToolsRun)
	}

	msgs, _ := f.store.GetMessages(ctx, testBusinessID, testPhone, 10)
	var toolTurn *models.Message
	for i := range msgs {
		if msgs[i].Role == models.RoleTool {
			toolTurn = &msgs[i]
		}
	}
	if toolTurn == nil || toolTurn.ToolCallID != "call_1" || toolTurn.Content != "Usuario actualizado" {
		t.Errorf("expected tool result persisted, got %+v", toolTurn)
	}
}

func TestRun_MultipleToolCallsEachSegment(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{Capabilities: models.Capabilities{Tools: []string{"a", "b"}}})
	var ran []string
	for _, name := range []string{"a", "b"} {
		f.registry.Register(actions.Handler{
			Name:  name,
			Reply: "reply " + name,
			Run: func(ctx context.Context, inv actions.Invocation, args map[string]any) (string, error) {
				ran = append(ran, name)
				return "ok", nil
			},
		})
	}
	f.agent.resp = &models.AgentResponse{
		Content:   "prose",
		ToolCalls: []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}},
	}
	if _, err := f.svc.Run(context.Background(), textInbound("compro")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("expected both handlers to run once, got %v", ran)
	}
	got := f.gateway.contents()
	if len(got) != 2 || got[0] != "reply a" || got[1] != "reply b" {
		t.Errorf("expected one segment per handler, got %v", got)
	}
}

func storedToolResults(t *testing.T, f *fixture) []models.Message {
	t.Helper()
	msgs, err := f.store.GetMessages(context.Background(), testBusinessID, testPhone, 20)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	var tools []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			tools = append(tools, m)
		}
	}
	return tools
}

func registerCannedTools(f *fixture, names ...string) {
	for _, name := range names {
		f.registry.Register(actions.Handler{
			Name:  name,
			Reply: "reply " + name,
			Run: func(ctx context.Context, inv actions.Invocation, args map[string]any) (string, error) {
				return "ok " + name, nil
			},
		})
	}
}

func TestRun_ToolTurnMovesToFirstSentPart(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{Capabilities: models.Capabilities{Tools: []string{"a", "b"}}})
	registerCannedTools(f, "a", "b")
	f.gateway.failFirst = 1
	f.agent.resp = &models.AgentResponse{
		Content:   "prose",
		ToolCalls: []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}},
	}

	if _, err := f.svc.Run(context.Background(), textInbound("compro")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(f.gateway.sent) != 1 || f.gateway.sent[0].Content != "reply b" {
		t.Fatalf("expected only the second part sent, got %v", f.gateway.contents())
	}
	if len(f.gateway.sent[0].ToolCalls) != 2 {
		t.Errorf("expected the tool-call turn on the first sent part, got %+v", f.gateway.sent[0].ToolCalls)
	}
	if got := storedToolResults(t, f); len(got) != 2 {
		t.Errorf("expected 2 stored tool results, got %d", len(got))
	}
}

func TestRun_ToolResultsNotStoredWhenNothingSent(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{Capabilities: models.Capabilities{Tools: []string{"a"}}})
	registerCannedTools(f, "a")
	f.gateway.failSend = true
	f.agent.resp = &models.AgentResponse{ToolCalls: []models.ToolCall{{ID: "1", Name: "a"}}}

	if _, err := f.svc.Run(context.Background(), textInbound("compro")); !models.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if got := storedToolResults(t, f); len(got) != 0 {
		t.Errorf("expected no orphan tool results, got %d", len(got))
	}
}

type channelNotifier struct {
	got []notify.Notification
	err error
}

func (c *channelNotifier) Notify(ctx context.Context, n notify.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, n)
	return nil
}

func TestRun_PaymentConfirmedWhenSMSChannelFails(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{
		Capabilities: models.Capabilities{Tools: []string{actions.NotifyPaymentToolName}},
		NotifyEmails: []string{"ventas@example.com"},
	})
	email := &channelNotifier{}
	sms := &channelNotifier{err: errors.New("twilio down")}
	f.registry.Register(actions.NewNotifyPaymentHandler(f.store, notify.Multi{email, sms}, nil))
	f.agent.resp = &models.AgentResponse{ToolCalls: []models.ToolCall{{
		ID:   "call_1",
		Name: actions.NotifyPaymentToolName,
		Arguments: map[string]any{
			"products": "café x2", "price": 20000.0, "cedula": "1020304050",
			"address": "Calle 10 # 5-20", "city": "Medellín",
		},
	}}}

	if _, err := f.svc.Run(context.Background(), textInbound("quiero pagar")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := f.gateway.contents()
	if len(got) != 1 || !strings.HasPrefix(got[0], "¡Perfecto! Ya le avisé a un asesor") {
		t.Fatalf("expected the payment confirmation, got %v", got)
	}
	if len(email.got) != 1 || email.got[0].Emails[0] != "ventas@example.com" {
		t.Errorf("expected one owner email, got %+v", email.got)
	}
	if results := storedToolResults(t, f); len(results) != 1 {
		t.Errorf("expected the tool result stored, got %d", len(results))
	}
}

func TestRun_DisabledToolKeepsModelReply(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	f.agent.resp = &models.AgentResponse{
		Content:   "hola",
		ToolCalls: []models.ToolCall{{ID: "1", Name: actions.StoreUserDataToolName, Arguments: map[string]any{"name": "X"}}},
	}
	if _, err := f.svc.Run(context.Background(), textInbound("Hola")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := f.gateway.contents(); len(got) != 1 || got[0] != "hola" {
		t.Errorf("expected model reply when tool is not enabled, got %v", got)
	}
	lead, _ := f.store.GetLead(context.Background(), testBusinessID, testPhone)
	if lead.Name == "X" {
		t.Error("disabled tool must not run")
	}
}

func TestRun_AgentFailure(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	ctx := context.Background()
	f.agent.err = &models.UpstreamError{Service: "openai", Err: errors.New("down")}

	_, err := f.svc.Run(ctx, textInbound("Hola"))
	if !models.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(f.gateway.sent) != 0 {
		t.Error("no reply may be sent when the agent fails")
	}
	if exists, _ := f.store.LeadExists(ctx, testBusinessID, testPhone); !exists {
		t.Error("lead creation is kept after a later failure")
	}
	lead, _ := f.store.GetLead(ctx, testBusinessID, testPhone)
	if lead.LastMessage.Status != models.LastMessageStatusPending {
		t.Errorf("expected pending last message, got %+v", lead.LastMessage)
	}
}

func TestRun_SendFailure(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{})
	f.gateway.failSend = true
	_, err := f.svc.Run(context.Background(), textInbound("Hola"))
	if !models.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(f.gateway.scheduled) != 0 {
		t.Error("no follow-up may be scheduled when nothing was sent")
	}
}

func TestRun_PromptAugmentation(t *testing.T) {
	feed := &fakeFeed{}
	docs := &fakeDocs{}

	plain := newFixture(t, models.BusinessProfile{}, WithPromptFeed(feed), WithDocuments(docs))
	if _, err := plain.svc.Run(context.Background(), textInbound("Hola")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if feed.calls != 0 || len(docs.queries) != 0 {
		t.Error("augmentation must follow the business capabilities")
	}

	profile := models.BusinessProfile{Capabilities: models.Capabilities{DocumentContext: true, CustomPromptURL: "http://feed"}}
	rich := newFixture(t, profile, WithPromptFeed(feed), WithDocuments(docs))
	if _, err := rich.svc.Run(context.Background(), textInbound("precio del café")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	req := rich.agent.requests[0]
	if req.CustomPrompt != "eventos: feria del café" || req.DocumentContext != "el café cuesta 10" {
		t.Errorf("unexpected augmentation %+v", req)
	}
	if len(docs.queries) != 1 || docs.queries[0] != "precio del café" {
		t.Errorf("expected document search with the inbound text, got %v", docs.queries)
	}
}

func TestRun_FollowUpDisabled(t *testing.T) {
	f := newFixture(t, models.BusinessProfile{}, WithFollowUpDelay(0))
	if _, err := f.svc.Run(context.Background(), textInbound("Hola")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(f.gateway.scheduled) != 0 {
		t.Error("expected no follow-up with a zero delay")
	}
}
