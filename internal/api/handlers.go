package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/chat"
	"github.com/BTreeMap/LeadPipe/internal/followup"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

func allowMethod(w http.ResponseWriter, r *http.Request, method, handler string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server."+handler+": method not allowed", "method", r.Method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

var errInvalidJSON = errors.New("invalid JSON format")

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the channel's subscription handshake.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.cfg.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.VerifyToken)) != 1 {
		slog.Warn("Server.verifyWebhook: verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhook: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("Server.receiveWebhook: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}

	ev, err := whatsapp.ParseWebhook(body)
	if err != nil {
		slog.Warn("Server.receiveWebhook: dropping unrecognized payload", "error", err)
		writeError(w, err)
		return
	}

	switch ev.Kind {
	case whatsapp.EventStatus:
		s.handleStatus(r, ev.Status)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	case whatsapp.EventMessage:
		s.handleMessage(w, r, ev.Message)
	default:
		slog.Debug("Server.receiveWebhook: ignoring notification without messages or statuses", "businessID", ev.BusinessID)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	}
}

// handleStatus records a delivery update. Failures are logged only.
func (s *Server) handleStatus(r *http.Request, st *whatsapp.StatusUpdate) {
	status, ok := whatsapp.StatusFromChannel(st.Status)
	if !ok {
		slog.Debug("Server.handleStatus: unknown status", "status", st.Status, "messageID", st.ID)
		return
	}
	updated, err := s.store.UpdateMessageStatus(r.Context(), st.ID, status)
	if err != nil {
		slog.Error("Server.handleStatus: status update failed", "messageID", st.ID, "error", err)
		return
	}
	slog.Debug("Server.handleStatus: status recorded", "messageID", st.ID, "status", status, "matched", updated)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, msg *whatsapp.InboundMessage) {
	ctx := r.Context()
	fresh, err := s.store.RecordInbound(ctx, msg.MessageID, msg.BusinessID)
	if err != nil {
		slog.Error("Server.handleMessage: dedup check failed", "messageID", msg.MessageID, "error", err)
		writeError(w, err)
		return
	}
	if !fresh {
		slog.Info("Server.handleMessage: duplicate delivery acknowledged", "messageID", msg.MessageID, "businessID", msg.BusinessID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("duplicate", nil))
		return
	}

	out, err := s.chat.Run(ctx, chat.Inbound{
		BusinessID:  msg.BusinessID,
		PhoneNumber: msg.From,
		MessageID:   msg.MessageID,
		Type:        msg.Type,
		Text:        msg.Text,
		ContactName: msg.ContactName,
	})
	if err != nil {
		slog.Error("Server.handleMessage: turn failed", "messageID", msg.MessageID, "businessID", msg.BusinessID, "error", err)
		writeError(w, err)
		return
	}
	if err := s.store.MarkProcessed(ctx, msg.MessageID); err != nil {
		slog.Warn("Server.handleMessage: failed to mark processed", "messageID", msg.MessageID, "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) continueConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "continueConversationHandler") {
		return
	}
	if s.cfg.CallbackToken != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CallbackToken)) != 1 {
			slog.Warn("Server.continueConversationHandler: bad callback token")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
	}

	var p followup.Payload
	if err := decodeJSON(r, &p); err != nil || p.BusinessID == "" || p.LeadID == "" {
		slog.Warn("Server.continueConversationHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("business_id and lead_id are required"))
		return
	}

	out, err := s.chat.ContinueConversation(r.Context(), p.BusinessID, p.LeadID)
	if err != nil {
		slog.Error("Server.continueConversationHandler: follow-up failed", "businessID", p.BusinessID, "leadID", p.LeadID, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

type sendRequest struct {
	BusinessID string              `json:"business_id"`
	To         string              `json:"to"`
	Content    string              `json:"content"`
	Kind       models.MessageKind  `json:"kind,omitempty"`
	ReplyTo    string              `json:"reply_to,omitempty"`
	Document   *models.DocumentRef `json:"document,omitempty"`
	Options    []string            `json:"options,omitempty"`
	Footer     string              `json:"footer,omitempty"`
}

func (req sendRequest) message() models.Message {
	return models.Message{
		BusinessID: req.BusinessID,
		To:         req.To,
		Content:    req.Content,
		Sender:     models.Sender{BusinessID: req.BusinessID},
		Kind:       req.Kind,
		ReplyTo:    req.ReplyTo,
		Document:   req.Document,
		Options:    req.Options,
		Footer:     req.Footer,
		Platform:   models.PlatformWhatsApp,
	}
}

// checkTarget validates the recipient and the business before a send.
func (s *Server) checkTarget(r *http.Request, businessID, to string) error {
	if _, err := models.NormalizePhoneNumber(to); err != nil {
		return err
	}
	exists, err := s.store.BusinessExists(r.Context(), businessID)
	if err != nil {
		return err
	}
	if !exists {
		return &models.BusinessNotFoundError{BusinessID: businessID}
	}
	return nil
}

func (s *Server) writeSendResult(w http.ResponseWriter, result models.SendResult) {
	if !result.OK() {
		writeJSONResponse(w, http.StatusBadGateway, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "sendHandler") {
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.Kind != models.MessageKindDocument {
		writeError(w, models.ErrEmptyContent)
		return
	}
	if err := s.checkTarget(r, req.BusinessID, req.To); err != nil {
		slog.Warn("Server.sendHandler: rejected", "businessID", req.BusinessID, "to", req.To, "error", err)
		writeError(w, err)
		return
	}
	s.writeSendResult(w, s.gateway.SendSingleMessage(r.Context(), req.message()))
}

type templateRequest struct {
	BusinessID   string   `json:"business_id"`
	To           string   `json:"to"`
	TemplateName string   `json:"template_name"`
	Language     string   `json:"language,omitempty"`
	HeaderParams []string `json:"header_params,omitempty"`
}

func (req templateRequest) message() models.Message {
	return models.Message{
		BusinessID: req.BusinessID,
		To:         req.To,
		Sender:     models.Sender{BusinessID: req.BusinessID},
		Kind:       models.MessageKindTemplate,
		Template:   &models.TemplateRef{Name: req.TemplateName, Language: req.Language, HeaderParams: req.HeaderParams},
		Platform:   models.PlatformWhatsApp,
	}
}

func (s *Server) templateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "templateHandler") {
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil || req.TemplateName == "" {
		slog.Warn("Server.templateHandler: invalid request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("template_name is required"))
		return
	}
	if err := s.checkTarget(r, req.BusinessID, req.To); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.gateway.GetTemplateData(r.Context(), req.BusinessID, req.TemplateName); err != nil {
		slog.Warn("Server.templateHandler: unknown template", "businessID", req.BusinessID, "template", req.TemplateName, "error", err)
		writeError(w, err)
		return
	}
	s.writeSendResult(w, s.gateway.SendSingleMessage(r.Context(), req.message()))
}

type massiveRequest struct {
	BusinessID string   `json:"business_id"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content,omitempty"`
	Template   *struct {
		Name         string   `json:"name"`
		Language     string   `json:"language,omitempty"`
		HeaderParams []string `json:"header_params,omitempty"`
	} `json:"template,omitempty"`
}

func (s *Server) massiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "massiveHandler") {
		return
	}
	var req massiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Recipients) == 0 || (req.Content == "" && req.Template == nil) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("recipients and content or template are required"))
		return
	}
	exists, err := s.store.BusinessExists(r.Context(), req.BusinessID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		writeError(w, &models.BusinessNotFoundError{BusinessID: req.BusinessID})
		return
	}

	msgs := make([]models.Message, 0, len(req.Recipients))
	for _, to := range req.Recipients {
		if req.Template != nil {
			msgs = append(msgs, templateRequest{
				BusinessID:   req.BusinessID,
				To:           to,
				TemplateName: req.Template.Name,
				Language:     req.Template.Language,
				HeaderParams: req.Template.HeaderParams,
			}.message())
			continue
		}
		msgs = append(msgs, sendRequest{BusinessID: req.BusinessID, To: to, Content: req.Content}.message())
	}

	summary := s.gateway.SendMassiveMessage(r.Context(), msgs)
	slog.Info("Server.massiveHandler: batch finished", "businessID", req.BusinessID, "successes", summary.Successes, "errors", summary.Errors)
	writeJSONResponse(w, http.StatusOK, summary)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "healthHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
