package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LeadPipe/internal/actions"
	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/chat"
	"github.com/BTreeMap/LeadPipe/internal/followup"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
	// DefaultFollowUpDelay is how long after a reply the lead is re-engaged
	DefaultFollowUpDelay = 6 * time.Hour
	// Follow-up backends
	FollowUpBackendJobs       = "jobs"
	FollowUpBackendCloudTasks = "cloudtasks"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "followup_backend", *flags.followUpBackend)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel            string
	StateDir            string
	DatabaseURL         string
	APIAddr             string
	VerifyToken         string
	CallbackToken       string
	WhatsAppBaseURL     string
	OpenAIKey           string
	OpenAIModel         string
	GenAIDebug          bool
	BusinessConfigPath  string
	FollowUpDelay       time.Duration
	FollowUpBackend     string
	FollowUpCallbackURL string
	CloudTasksQueue     string
	GoogleCredentials   string
	GmailSender         string
	NotifyEmails        []string
	NotifySMSNumbers    []string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	ToolReplyPolicy     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	apiAddr         *string
	verifyToken     *string
	callbackToken   *string
	waBaseURL       *string
	openaiKey       *string
	openaiModel     *string
	genaiDebug      *bool
	businessConfig  *string
	followUpDelay   *time.Duration
	followUpBackend *string
	callbackURL     *string
	tasksQueue      *string
	replyPolicy     *string
}

// initializeLogger sets up structured logging; level defaults to debug
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil || level == "" {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:            os.Getenv("LEADPIPE_LOG_LEVEL"),
		StateDir:            os.Getenv("LEADPIPE_STATE_DIR"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		APIAddr:             os.Getenv("API_ADDR"),
		VerifyToken:         os.Getenv("VERIFY_TOKEN"),
		CallbackToken:       os.Getenv("FOLLOWUP_CALLBACK_TOKEN"),
		WhatsAppBaseURL:     os.Getenv("WHATSAPP_API_BASE_URL"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		GenAIDebug:          util.ParseBoolEnv("GENAI_DEBUG", false),
		BusinessConfigPath:  os.Getenv("BUSINESS_CONFIG_PATH"),
		FollowUpDelay:       util.ParseDurationEnv("FOLLOWUP_DELAY", DefaultFollowUpDelay),
		FollowUpBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("FOLLOWUP_BACKEND"))),
		FollowUpCallbackURL: os.Getenv("FOLLOWUP_CALLBACK_URL"),
		CloudTasksQueue:     os.Getenv("CLOUD_TASKS_QUEUE"),
		GoogleCredentials:   os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GmailSender:         os.Getenv("GMAIL_SENDER"),
		NotifyEmails:        util.SplitList(os.Getenv("NOTIFY_EMAILS")),
		NotifySMSNumbers:    util.SplitList(os.Getenv("NOTIFY_SMS_NUMBERS")),
		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
		ToolReplyPolicy:     os.Getenv("TOOL_REPLY_POLICY"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("LEADPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.FollowUpBackend == "" {
		config.FollowUpBackend = FollowUpBackendJobs
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"VERIFY_TOKEN_SET", config.VerifyToken != "",
		"WHATSAPP_API_BASE_URL", config.WhatsAppBaseURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"BUSINESS_CONFIG_PATH", config.BusinessConfigPath,
		"FOLLOWUP_DELAY", config.FollowUpDelay,
		"FOLLOWUP_BACKEND", config.FollowUpBackend,
		"CLOUD_TASKS_QUEUE", config.CloudTasksQueue,
		"GMAIL_SENDER", config.GmailSender,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := registerFlags(flag.CommandLine, config)
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"businessConfig", *flags.businessConfig,
		"followUpDelay", *flags.followUpDelay,
		"followUpBackend", *flags.followUpBackend)

	applyStateDir(config, flags)
	return flags
}

// registerFlags declares every flag on fs with its environment default
func registerFlags(fs *flag.FlagSet, config Config) Flags {
	return Flags{
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		verifyToken:     fs.String("verify-token", config.VerifyToken, "webhook verification token (overrides $VERIFY_TOKEN)"),
		callbackToken:   fs.String("callback-token", config.CallbackToken, "bearer token for follow-up callbacks (overrides $FOLLOWUP_CALLBACK_TOKEN)"),
		waBaseURL:       fs.String("whatsapp-base-url", config.WhatsAppBaseURL, "WhatsApp Cloud API base URL (overrides $WHATSAPP_API_BASE_URL)"),
		openaiKey:       fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:     fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		genaiDebug:      fs.Bool("genai-debug", config.GenAIDebug, "write model requests under the state directory (overrides $GENAI_DEBUG)"),
		businessConfig:  fs.String("business-config", config.BusinessConfigPath, "YAML business profiles seeded at startup (overrides $BUSINESS_CONFIG_PATH)"),
		followUpDelay:   fs.Duration("followup-delay", config.FollowUpDelay, "delay before re-engaging a lead, 0 disables (overrides $FOLLOWUP_DELAY)"),
		followUpBackend: fs.String("followup-backend", config.FollowUpBackend, "follow-up scheduler: jobs or cloudtasks (overrides $FOLLOWUP_BACKEND)"),
		callbackURL:     fs.String("followup-callback-url", config.FollowUpCallbackURL, "continue-conversation URL for Cloud Tasks (overrides $FOLLOWUP_CALLBACK_URL)"),
		tasksQueue:      fs.String("cloud-tasks-queue", config.CloudTasksQueue, "Cloud Tasks queue name (overrides $CLOUD_TASKS_QUEUE)"),
		replyPolicy:     fs.String("tool-reply-policy", config.ToolReplyPolicy, "multi-tool reply policy: each-segment or collapse-last (overrides $TOOL_REPLY_POLICY)"),
	}
}

// applyStateDir moves the default SQLite database along with a changed state directory
func applyStateDir(config Config, flags Flags) {
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
}

// usesSQLite reports whether the configured DSN points at a SQLite file
func usesSQLite(flags Flags) bool {
	return *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != "postgres"
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if usesSQLite(flags) {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(*flags.dbDSN, "file:")))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		slog.Debug("Creating state directory", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp Cloud API configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.waBaseURL != "" {
		waOpts = append(waOpts, whatsapp.WithBaseURL(*flags.waBaseURL))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	if *flags.callbackToken != "" {
		apiOpts = append(apiOpts, api.WithCallbackToken(*flags.callbackToken))
	}
	return apiOpts
}

// buildChatOptions constructs chat orchestration options
func buildChatOptions(flags Flags) []chat.Option {
	return []chat.Option{chat.WithFollowUpDelay(*flags.followUpDelay)}
}

// buildActionOptions constructs action registry options
func buildActionOptions(flags Flags) ([]actions.Option, error) {
	if *flags.replyPolicy == "" {
		return nil, nil
	}
	policy, err := actions.ParseReplyPolicy(*flags.replyPolicy)
	if err != nil {
		return nil, err
	}
	return []actions.Option{actions.WithReplyPolicy(policy)}, nil
}

// buildCloudTasksOptions constructs Cloud Tasks follow-up scheduler options.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS through application default credentials.
func buildCloudTasksOptions(flags Flags) []followup.CloudTasksOption {
	opts := []followup.CloudTasksOption{
		followup.WithQueue(*flags.tasksQueue),
		followup.WithCallbackURL(*flags.callbackURL),
	}
	if *flags.callbackToken != "" {
		opts = append(opts, followup.WithCallbackToken(*flags.callbackToken))
	}
	return opts
}
