package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/alerts"
	"github.com/nidhogg/kid-companion/internal/gateway"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/safety"
	"github.com/nidhogg/kid-companion/internal/session"
	"github.com/nidhogg/kid-companion/internal/speech"
	"github.com/nidhogg/kid-companion/internal/store"
)

// AlertLog lists recorded alerts. *store.Store satisfies it.
type AlertLog interface {
	ListAlerts(ctx context.Context, sessionID string, limit int) ([]store.AlertRow, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions    *session.Manager
	gw          *gateway.Gateway
	restGW      *gateway.RESTAdapter
	broadcaster *gateway.Broadcaster
	alertLog    AlertLog
	alertStream *alerts.Stream
	stt         speech.Transcriber
	tts         speech.Synthesizer
	origins     []string
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	sessions *session.Manager,
	gw *gateway.Gateway,
	restGW *gateway.RESTAdapter,
	broadcaster *gateway.Broadcaster,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		sessions:    sessions,
		gw:          gw,
		restGW:      restGW,
		broadcaster: broadcaster,
		origins:     []string{"*"},
		logger:      logger,
	}
}

// SetAlertLog enables GET /api/sessions/{id}/alerts.
func (h *Handler) SetAlertLog(l AlertLog) { h.alertLog = l }

// SetAlertStream enables GET /api/alerts/recent.
func (h *Handler) SetAlertStream(s *alerts.Stream) { h.alertStream = s }

// SetSpeech wires the voice endpoint's collaborators. Either may be nil.
func (h *Handler) SetSpeech(stt speech.Transcriber, tts speech.Synthesizer) {
	h.stt = stt
	h.tts = tts
}

// SetAllowedOrigins restricts CORS and websocket origins.
func (h *Handler) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		h.origins = origins
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/voice", h.voice)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/sessions", h.listSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/messages", h.postMessage)
			r.Get("/history", h.getHistory)
			r.Get("/facts", h.getFacts)
			r.Get("/summary", h.getSummary)
			r.Get("/alerts", h.getAlerts)
			r.Delete("/", h.clearSession)
		})

		r.Get("/alerts/recent", h.recentAlerts)
		r.Get("/broadcasts", h.listBroadcasts)

		// Gateway routes
		r.Mount("/gateway/rest", h.restGW.Routes())
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "kid-companion"})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Active())
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	SessionID string            `json:"session_id"`
	Reply     string            `json:"reply"`
	Alerts    []safety.Alert    `json:"alerts"`
	Facts     map[string]string `json:"facts"`
	Fallback  bool              `json:"fallback"`
	Committed bool              `json:"committed"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	id := session.Normalize(chi.URLParam(r, "id"))
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	res, err := h.sessions.Reply(r.Context(), id, req.Message)
	if res == nil {
		h.logger.Error("turn failed", zap.String("session", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "turn failed"})
		return
	}
	alertList := res.Alerts
	if alertList == nil {
		alertList = []safety.Alert{}
	}
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: id,
		Reply:     res.Reply,
		Alerts:    alertList,
		Facts:     res.Facts,
		Fallback:  res.Fallback,
		Committed: err == nil,
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	turns := h.sessions.History(r.Context(), chi.URLParam(r, "id"))
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *Handler) getFacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Facts(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Summary(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request) {
	id := session.Normalize(chi.URLParam(r, "id"))
	h.sessions.Clear(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": id})
}

func (h *Handler) getAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alertLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "alert log not configured"})
		return
	}
	rows, err := h.alertLog.ListAlerts(r.Context(), session.Normalize(chi.URLParam(r, "id")), queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("list alerts failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list alerts failed"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alertStream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "alert stream not configured"})
		return
	}
	events, err := h.alertStream.Recent(r.Context(), int64(queryInt(r, "limit", 20)))
	if err != nil {
		h.logger.Error("read alert stream failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read alert stream failed"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broadcaster.History(queryInt(r, "limit", 20)))
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gw.StatusAll())
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
