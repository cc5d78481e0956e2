package followup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

const testQueue = "projects/p/locations/l/queues/q"

type fakeCloudTasks struct {
	created  []map[string]any
	deleted  []string
	missing  map[string]bool
	nextName int
}

func (f *fakeCloudTasks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/"+testQueue+"/tasks":
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		f.created = append(f.created, req)
		f.nextName++
		name := testQueue + "/tasks/t" + string(rune('0'+f.nextName))
		json.NewEncoder(w).Encode(map[string]string{"name": name})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v2/"+testQueue+"/tasks/"):
		name := strings.TrimPrefix(r.URL.Path, "/v2/")
		if f.missing[name] {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
			return
		}
		f.deleted = append(f.deleted, name)
		w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"unexpected request"}}`))
	}
}

func newTestCloudTasksScheduler(t *testing.T, fake *fakeCloudTasks) *CloudTasksScheduler {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewCloudTasksScheduler(context.Background(),
		WithQueue(testQueue),
		WithCallbackURL("https://bot.example.com/chat/continue-conversation"),
		WithCallbackToken("secret"),
		WithClientOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication()),
	)
	if err != nil {
		t.Fatalf("NewCloudTasksScheduler failed: %v", err)
	}
	return s
}

func TestCloudTasksScheduler_Schedule(t *testing.T) {
	fake := &fakeCloudTasks{}
	s := newTestCloudTasksScheduler(t, fake)

	runAt := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	name, err := s.Schedule(context.Background(), Request{BusinessID: "biz", LeadID: "573001234567", RunAt: runAt})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if name != testQueue+"/tasks/t1" {
		t.Errorf("unexpected task name %q", name)
	}
	if len(fake.created) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(fake.created))
	}
	task := fake.created[0]["task"].(map[string]any)
	if task["scheduleTime"] != "2026-01-02T15:04:05Z" {
		t.Errorf("unexpected schedule time %v", task["scheduleTime"])
	}
	httpReq := task["httpRequest"].(map[string]any)
	if httpReq["url"] != "https://bot.example.com/chat/continue-conversation" || httpReq["httpMethod"] != "POST" {
		t.Errorf("unexpected http request %v", httpReq)
	}
	headers := httpReq["headers"].(map[string]any)
	if headers["Authorization"] != "Bearer secret" {
		t.Errorf("expected callback token header, got %v", headers)
	}
	raw, err := base64.StdEncoding.DecodeString(httpReq["body"].(string))
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("body is not a payload: %v", err)
	}
	if p.BusinessID != "biz" || p.LeadID != "573001234567" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestCloudTasksScheduler_Cancel(t *testing.T) {
	gone := testQueue + "/tasks/gone"
	fake := &fakeCloudTasks{missing: map[string]bool{gone: true}}
	s := newTestCloudTasksScheduler(t, fake)
	ctx := context.Background()

	if err := s.Cancel(ctx, testQueue+"/tasks/t1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != testQueue+"/tasks/t1" {
		t.Errorf("unexpected deletes %v", fake.deleted)
	}
	if err := s.Cancel(ctx, gone); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestNewCloudTasksScheduler_RequiresQueueAndCallback(t *testing.T) {
	if _, err := NewCloudTasksScheduler(context.Background(), WithCallbackURL("http://x")); err == nil {
		t.Error("expected error without queue")
	}
	if _, err := NewCloudTasksScheduler(context.Background(), WithQueue(testQueue)); err == nil {
		t.Error("expected error without callback URL")
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "followup.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobScheduler_ScheduleCancelAndRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	s := NewJobScheduler(st)

	now := time.Now()
	first, err := s.Schedule(ctx, Request{BusinessID: "biz", LeadID: "573001234567", RunAt: now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	second, err := s.Schedule(ctx, Request{BusinessID: "biz", LeadID: "573001234567", RunAt: now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct job ids")
	}
	if err := s.Cancel(ctx, first); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := s.Cancel(ctx, first); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound on second cancel, got %v", err)
	}

	var got []Payload
	runner := store.NewJobRunner(st, time.Minute)
	RegisterJobHandler(runner, func(ctx context.Context, p Payload) error {
		got = append(got, p)
		return nil
	})
	if n := runner.RunDue(ctx, now); n != 1 {
		t.Fatalf("expected 1 executed job, got %d", n)
	}
	if len(got) != 1 || got[0].BusinessID != "biz" || got[0].LeadID != "573001234567" {
		t.Errorf("unexpected payloads %+v", got)
	}
	if err := s.Cancel(ctx, second); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound for a job that already ran, got %v", err)
	}
}
