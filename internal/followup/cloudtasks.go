package followup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cloudtasks "google.golang.org/api/cloudtasks/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CloudTasksOpts holds configuration for the Cloud Tasks scheduler.
type CloudTasksOpts struct {
	// Queue is the full queue name, projects/P/locations/L/queues/Q.
	Queue string
	// CallbackURL is the continue-conversation endpoint the task posts to.
	CallbackURL string
	// CallbackToken, when set, is sent as a bearer token on the callback.
	CallbackToken string
	ClientOptions []option.ClientOption
}

// CloudTasksOption configures a CloudTasksScheduler.
type CloudTasksOption func(*CloudTasksOpts)

// WithQueue sets the Cloud Tasks queue name.
func WithQueue(queue string) CloudTasksOption {
	return func(o *CloudTasksOpts) {
		o.Queue = queue
	}
}

// WithCallbackURL sets the URL the task will POST the payload to.
func WithCallbackURL(url string) CloudTasksOption {
	return func(o *CloudTasksOpts) {
		o.CallbackURL = url
	}
}

// WithCallbackToken sets the bearer token attached to callbacks.
func WithCallbackToken(token string) CloudTasksOption {
	return func(o *CloudTasksOpts) {
		o.CallbackToken = token
	}
}

// WithClientOptions passes options to the underlying Google API client.
func WithClientOptions(opts ...option.ClientOption) CloudTasksOption {
	return func(o *CloudTasksOpts) {
		o.ClientOptions = append(o.ClientOptions, opts...)
	}
}

// CloudTasksScheduler schedules follow-ups as Google Cloud Tasks HTTP tasks.
type CloudTasksScheduler struct {
	tasks         *cloudtasks.ProjectsLocationsQueuesTasksService
	queue         string
	callbackURL   string
	callbackToken string
}

// NewCloudTasksScheduler creates a scheduler backed by Cloud Tasks.
func NewCloudTasksScheduler(ctx context.Context, opts ...CloudTasksOption) (*CloudTasksScheduler, error) {
	var cfg CloudTasksOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Queue == "" {
		return nil, errors.New("cloud tasks queue is required")
	}
	if cfg.CallbackURL == "" {
		return nil, errors.New("follow-up callback URL is required")
	}
	svc, err := cloudtasks.NewService(ctx, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud tasks client: %w", err)
	}
	slog.Debug("followup.NewCloudTasksScheduler", "queue", cfg.Queue, "callbackURL", cfg.CallbackURL)
	return &CloudTasksScheduler{
		tasks:         cloudtasks.NewProjectsLocationsQueuesTasksService(svc),
		queue:         cfg.Queue,
		callbackURL:   cfg.CallbackURL,
		callbackToken: cfg.CallbackToken,
	}, nil
}

// Schedule creates an HTTP task that POSTs the payload at req.RunAt.
func (s *CloudTasksScheduler) Schedule(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req.payload())
	if err != nil {
		return "", fmt.Errorf("failed to encode follow-up payload: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if s.callbackToken != "" {
		headers["Authorization"] = "Bearer " + s.callbackToken
	}
	task := &cloudtasks.Task{
		ScheduleTime: req.RunAt.UTC().Format(time.RFC3339),
		HttpRequest: &cloudtasks.HttpRequest{
			HttpMethod: http.MethodPost,
			Url:        s.callbackURL,
			Headers:    headers,
			Body:       base64.StdEncoding.EncodeToString(body),
		},
	}
	created, err := s.tasks.Create(s.queue, &cloudtasks.CreateTaskRequest{Task: task}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create follow-up task: %w", err)
	}
	slog.Debug("CloudTasksScheduler.Schedule: task created", "task", created.Name, "businessID", req.BusinessID, "leadID", req.LeadID, "runAt", task.ScheduleTime)
	return created.Name, nil
}

// Cancel deletes a task by its full name.
func (s *CloudTasksScheduler) Cancel(ctx context.Context, taskID string) error {
	_, err := s.tasks.Delete(taskID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to delete follow-up task %s: %w", taskID, err)
	}
	slog.Debug("CloudTasksScheduler.Cancel: task deleted", "task", taskID)
	return nil
}
