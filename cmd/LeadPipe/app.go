package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/actions"
	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/chat"
	"github.com/BTreeMap/LeadPipe/internal/followup"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/promptfeed"
	"github.com/BTreeMap/LeadPipe/internal/retrieval"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// jobPollInterval is how often the local follow-up queue is polled.
const jobPollInterval = 5 * time.Second

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if usesSQLite(flags) {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := seedBusinesses(ctx, st, *flags.businessConfig); err != nil {
		return err
	}

	gc, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}

	actionOpts, err := buildActionOptions(flags)
	if err != nil {
		return err
	}
	registry := actions.NewRegistry(actionOpts...)
	actions.RegisterDefaults(registry, st, buildNotifier(ctx, config), config.NotifyEmails)

	followups, runner, err := buildFollowUpScheduler(ctx, flags, st)
	if err != nil {
		return err
	}

	gateway := messaging.NewGateway(whatsapp.NewClient(buildWhatsAppOptions(flags)...), st, followups)
	chatOpts := append(buildChatOptions(flags),
		chat.WithPromptFeed(promptfeed.NewClient()),
		chat.WithDocuments(retrieval.NewIndex(st, gc)),
	)
	chatSvc := chat.NewService(st, gateway, agent.NewClient(gc, registry), registry, chatOpts...)

	if runner != nil {
		followup.RegisterJobHandler(runner, func(ctx context.Context, p followup.Payload) error {
			_, err := chatSvc.ContinueConversation(ctx, p.BusinessID, p.LeadID)
			return err
		})
		if err := runner.RecoverStaleJobs(ctx); err != nil {
			slog.Warn("Failed to recover stale follow-up jobs", "error", err)
		}
		go runner.Run(ctx)
	}

	cron := scheduler.NewScheduler()
	defer cron.Stop()
	if err := scheduler.NewMaintenance(st).Register(cron, ""); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	return api.NewServer(chatSvc, gateway, st, buildAPIOptions(flags)...).Run(ctx)
}

// seedBusinesses upserts the YAML business profiles, if a file is configured
func seedBusinesses(ctx context.Context, repo store.BusinessRepo, path string) error {
	if path == "" {
		slog.Debug("No business config provided, using registry as stored")
		return nil
	}
	cfg, err := store.LoadBusinessConfig(path)
	if err != nil {
		return err
	}
	return store.SeedBusinesses(ctx, repo, cfg)
}

// buildFollowUpScheduler selects the follow-up backend. The local job runner
// is returned only for the jobs backend.
func buildFollowUpScheduler(ctx context.Context, flags Flags, repo store.JobRepo) (followup.Scheduler, *store.JobRunner, error) {
	switch *flags.followUpBackend {
	case "", FollowUpBackendJobs:
		slog.Debug("Using local job queue for follow-ups")
		return followup.NewJobScheduler(repo), store.NewJobRunner(repo, jobPollInterval), nil
	case FollowUpBackendCloudTasks:
		slog.Debug("Using Cloud Tasks for follow-ups", "queue", *flags.tasksQueue)
		s, err := followup.NewCloudTasksScheduler(ctx, buildCloudTasksOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown follow-up backend %q", *flags.followUpBackend)
	}
}

// buildNotifier assembles the owner notification channels that are configured.
// Channels that fail to initialize are skipped; with none left, notifications are only logged.
func buildNotifier(ctx context.Context, config Config) notify.Notifier {
	var multi notify.Multi
	if config.GmailSender != "" {
		g, err := notify.NewGmailNotifier(ctx,
			notify.WithSender(config.GmailSender),
			notify.WithCredentialsFile(config.GoogleCredentials),
		)
		if err != nil {
			slog.Warn("Gmail notifications disabled", "error", err)
		} else {
			multi = append(multi, g)
		}
	}
	if config.TwilioAccountSID != "" {
		s, err := notify.NewSMSNotifier(
			notify.WithAccountSID(config.TwilioAccountSID),
			notify.WithAuthToken(config.TwilioAuthToken),
			notify.WithFromNumber(config.TwilioFromNumber),
		)
		if err != nil {
			slog.Warn("SMS notifications disabled", "error", err)
		} else {
			multi = append(multi, s)
		}
	}
	var next notify.Notifier = multi
	if len(multi) == 0 {
		next = notify.LogNotifier{}
	}
	return notify.Fallback{Next: next, Emails: config.NotifyEmails, SMSNumbers: config.NotifySMSNumbers}
}
