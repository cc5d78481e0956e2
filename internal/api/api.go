// Package api provides the HTTP server of LeadPipe.
//
// It exposes the WhatsApp webhook, the continue-conversation callback used by
// deferred follow-ups, outbound send endpoints and a health check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/chat"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	maxBodyBytes           = 1 << 20
)

// ChatService is the orchestration surface the HTTP layer drives.
type ChatService interface {
	Run(ctx context.Context, in chat.Inbound) (*chat.Outcome, error)
	ContinueConversation(ctx context.Context, businessID, leadID string) (*chat.Outcome, error)
}

// Store is the persistence the HTTP layer reads directly.
type Store interface {
	store.DedupRepo
	BusinessExists(ctx context.Context, businessID string) (bool, error)
	UpdateMessageStatus(ctx context.Context, waMessageID string, status models.MessageStatus) (bool, error)
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr            string
	VerifyToken     string
	CallbackToken   string
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithVerifyToken sets the token the channel echoes during webhook verification.
func WithVerifyToken(token string) Option {
	return func(o *Opts) {
		o.VerifyToken = token
	}
}

// WithCallbackToken requires this bearer token on the continue-conversation callback.
func WithCallbackToken(token string) Option {
	return func(o *Opts) {
		o.CallbackToken = token
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server serves the LeadPipe HTTP API.
type Server struct {
	chat    ChatService
	gateway messaging.Service
	store   Store
	cfg     Opts
}

// NewServer creates a server.
func NewServer(chatSvc ChatService, gateway messaging.Service, st Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{chat: chatSvc, gateway: gateway, store: st, cfg: cfg}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/chat/continue-conversation", s.continueConversationHandler)
	mux.HandleFunc("/message/send", s.sendHandler)
	mux.HandleFunc("/message/template", s.templateHandler)
	mux.HandleFunc("/message/massive", s.massiveHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
