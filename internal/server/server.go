package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tg-notify-relay/internal/engine"
	"tg-notify-relay/internal/mailbox"
	"tg-notify-relay/internal/notify"
)

const defaultCallMessage = "紧急告警，请查看"

// Options configure the HTTP surface.
type Options struct {
	APIKey          string
	WebhookSecret   string
	VoiceConfigured bool
}

// Server exposes the engine and mailbox as a thin request/response layer.
type Server struct {
	opts      Options
	engine    *engine.Engine
	box       *mailbox.Mailbox
	messenger engine.Messenger
	mux       *http.ServeMux
	logger    zerolog.Logger
}

// New creates the API server.
func New(opts Options, eng *engine.Engine, box *mailbox.Mailbox, messenger engine.Messenger, logger zerolog.Logger) *Server {
	s := &Server{
		opts:      opts,
		engine:    eng,
		box:       box,
		messenger: messenger,
		mux:       http.NewServeMux(),
		logger:    logger.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /notify", s.authed(s.handleNotify))
	s.mux.HandleFunc("POST /call", s.authed(s.handleCall))
	s.mux.HandleFunc("POST /commands", s.authed(s.handleAppendCommand))
	s.mux.HandleFunc("GET /commands", s.authed(s.handlePollCommands))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /test", s.handleTest)
	s.mux.HandleFunc("POST /webhook/{secret}", s.handleWebhook)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// authed 校验 X-API-Key。未配置 api key 时放行（开发模式）。
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get("X-API-Key") != s.opts.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid API Key"})
			return
		}
		next(w, r)
	}
}

type notifyRequest struct {
	Channel  string `json:"channel"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "title is required"})
		return
	}
	if req.Channel == "" {
		req.Channel = "info"
	}

	note := notify.Notification{
		Channel:  req.Channel,
		Title:    req.Title,
		Message:  req.Message,
		Priority: notify.ParsePriority(req.Priority),
	}

	id, err := s.engine.Submit(r.Context(), note)
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", id).Msg("notify submission failed")
		if errors.Is(err, engine.ErrDeliveryFailed) {
			// Critical alerts stay tracked; the escalation timer is already armed.
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"status":   "error",
				"alert_id": id,
				"detail":   "push delivery failed",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}

	if note.Priority == notify.PriorityCritical {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"alert_id": id,
			"message":  "Critical notification sent, phone call scheduled",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Notification sent"})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			message = body.Message
		}
	}
	if message == "" {
		message = defaultCallMessage
	}

	if err := s.engine.CallNow(r.Context(), message); err != nil {
		s.logger.Error().Err(err).Msg("manual call failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to make call"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Phone call initiated"})
}

type appendCommandRequest struct {
	Target string   `json:"target"`
	Action string   `json:"action"`
	Args   []string `json:"args"`
}

func (s *Server) handleAppendCommand(w http.ResponseWriter, r *http.Request) {
	var req appendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	if req.Target == "" || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "target and action are required"})
		return
	}

	seq, err := s.box.Append(r.Context(), req.Target, req.Action, req.Args)
	if err != nil {
		if errors.Is(err, mailbox.ErrFull) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "mailbox full"})
			return
		}
		s.logger.Error().Err(err).Msg("append command failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": seq})
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "target is required"})
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "after must be an integer"})
			return
		}
		after = parsed
	}

	commands := s.box.Poll(target, after)
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"twilio_configured": s.opts.VoiceConfigured,
		"pending_alerts":    s.engine.PendingCount(),
	})
}

// handleTest 免鉴权冒烟检查：直接往推送通道发一条测试消息。
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if err := s.messenger.Deliver(r.Context(), "🧪 <b>测试消息</b>\n\n服务运行正常！", ""); err != nil {
		s.logger.Error().Err(err).Msg("test delivery failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Test notification sent"})
}

// handleWebhook 接收 TradingView 风格的回调：JSON 或纯文本均可。
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret == "" || r.PathValue("secret") != s.opts.WebhookSecret {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "read body failed"})
		return
	}
	text := strings.TrimSpace(string(body))

	note := notify.Notification{
		Channel:  "trade",
		Title:    "TradingView Alert",
		Message:  text,
		Priority: notify.PriorityNormal,
	}

	var payload struct {
		Title    string `json:"title"`
		Message  string `json:"message"`
		Channel  string `json:"channel"`
		Priority string `json:"priority"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Title != "" {
			note.Title = payload.Title
		}
		if payload.Message != "" {
			note.Message = payload.Message
		}
		if payload.Channel != "" {
			note.Channel = payload.Channel
		}
		if payload.Priority != "" {
			note.Priority = notify.ParsePriority(payload.Priority)
		}
	}

	if _, err := s.engine.Submit(r.Context(), note); err != nil {
		s.logger.Error().Err(err).Msg("webhook forwarding failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
