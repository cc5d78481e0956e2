package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

// JobKindContinueConversation is the durable job kind for local follow-ups.
const JobKindContinueConversation = "continue_conversation"

// JobScheduler schedules follow-ups on the durable job queue of the store.
type JobScheduler struct {
	repo store.JobRepo
}

// NewJobScheduler creates a scheduler backed by repo.
func NewJobScheduler(repo store.JobRepo) *JobScheduler {
	return &JobScheduler{repo: repo}
}

// Schedule enqueues a continue_conversation job at req.RunAt.
func (s *JobScheduler) Schedule(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req.payload())
	if err != nil {
		return "", fmt.Errorf("failed to encode follow-up payload: %w", err)
	}
	id, err := s.repo.EnqueueJob(ctx, JobKindContinueConversation, req.RunAt, string(body), "")
	if err != nil {
		return "", fmt.Errorf("failed to enqueue follow-up job: %w", err)
	}
	slog.Debug("JobScheduler.Schedule: job enqueued", "jobID", id, "businessID", req.BusinessID, "leadID", req.LeadID, "runAt", req.RunAt)
	return id, nil
}

// Cancel cancels a queued job. Jobs that already ran report ErrTaskNotFound.
func (s *JobScheduler) Cancel(ctx context.Context, taskID string) error {
	ok, err := s.repo.CancelJob(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to cancel follow-up job %s: %w", taskID, err)
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

// RegisterJobHandler routes due continue_conversation jobs to fn.
func RegisterJobHandler(runner *store.JobRunner, fn func(ctx context.Context, p Payload) error) {
	runner.RegisterHandler(JobKindContinueConversation, makeContinueConversationHandler(fn))
}

func makeContinueConversationHandler(fn func(ctx context.Context, p Payload) error) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p Payload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid continue_conversation payload: %w", err)
		}
		slog.Info("JobHandler.continue_conversation: executing", "businessID", p.BusinessID, "leadID", p.LeadID)
		return fn(ctx, p)
	}
}

// Compile-time checks that both schedulers implement Scheduler.
var (
	_ Scheduler = (*JobScheduler)(nil)
	_ Scheduler = (*CloudTasksScheduler)(nil)
)
