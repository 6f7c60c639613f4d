// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"example.com/wearablesync/internal/auth"
	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/persistence"
	"example.com/wearablesync/internal/syncer"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
	stateTTL        = 10 * time.Minute
	retryAfterSecs  = 300
)

// UserSyncer runs one user's sync.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) syncer.Result
}

// AccountConnector completes the consent redirect.
type AccountConnector interface {
	Connect(ctx context.Context, userID, code string) error
}

// ConsentPage builds the vendor consent URL.
type ConsentPage interface {
	AuthorizeURL(state string) string
}

// Dependencies wires the Handler.
type Dependencies struct {
	Syncer    UserSyncer
	SyncLogs  domain.SyncLogRepository
	Connector AccountConnector
	Consent   ConsentPage
	Auth      auth.Config
	Logger    *zap.Logger
}

// Handler serves the sync API.
type Handler struct {
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger, now: time.Now}
}

// Routes returns the router. Authentication is applied by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", healthz)
	r.Get("/v1/oauth/callback", h.oauthCallback)
	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/connect", h.connect)
		r.Post("/sync", h.triggerSync)
		r.Get("/sync-logs", h.listSyncLogs)
	})
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// connect returns the consent URL carrying a signed state for the user.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, ok := h.authorize(w, r, userID, auth.ScopeSyncWrite); !ok {
		return
	}
	if h.deps.Consent == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "vendor consent is not configured")
		return
	}
	state, err := auth.Issue(h.deps.Auth, userID, []string{auth.ScopeOAuthState}, stateTTL, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "unable to sign state")
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{AuthorizeURL: h.deps.Consent.AuthorizeURL(state)})
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if vendorErr := q.Get("error"); vendorErr != "" {
		writeError(w, http.StatusBadRequest, "consent_denied", vendorErr)
		return
	}
	claims, err := auth.Parse(q.Get("state"), h.deps.Auth)
	if err != nil || !claims.HasScope(auth.ScopeOAuthState) {
		writeError(w, http.StatusBadRequest, "invalid_state", "state is missing, expired or forged")
		return
	}

	if err := h.deps.Connector.Connect(r.Context(), claims.Subject, q.Get("code")); err != nil {
		if errors.Is(err, syncer.ErrMissingCode) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.logger.Warn("connect wearable failed", zap.String("user_id", claims.Subject), zap.Error(err))
		writeError(w, http.StatusBadGateway, "connect_failed", "unable to link account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "user_id": claims.Subject})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, ok := h.authorize(w, r, userID, auth.ScopeSyncWrite); !ok {
		return
	}

	res := h.deps.Syncer.SyncUser(r.Context(), userID)
	if errors.Is(res.Err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync_in_progress", res.Message)
		return
	}

	status := http.StatusOK
	switch {
	case res.OK():
	case res.Signal == syncer.SignalReconnect:
		status = http.StatusUnprocessableEntity
	case res.Signal == syncer.SignalRetryLater:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toSyncResponse(res))
}

func (h *Handler) listSyncLogs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, ok := h.authorize(w, r, userID, auth.ScopeSyncRead, auth.ScopeSyncWrite); !ok {
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxLogLimit)
		}
	}
	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.deps.SyncLogs.ListSyncLogs(r.Context(), userID, cursor, limit)
	if err != nil {
		h.logger.Error("list sync logs failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to list sync logs")
		return
	}

	items := make([]SyncLogView, 0, len(entries))
	for _, e := range entries {
		items = append(items, toSyncLogView(e))
	}
	writeJSON(w, http.StatusOK, ListSyncLogsResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

// authorize admits the user acting on their own account with any of scopes, or a
// caller holding sync:supervise.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, userID string, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user id")
		return nil, false
	}
	if claims.HasScope(auth.ScopeSyncSupervise) {
		return claims, true
	}
	if claims.Subject != userID {
		writeError(w, http.StatusForbidden, "forbidden", "cannot act on another user")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// ConnectResponse carries the consent URL.
type ConnectResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// SyncResponse describes the outcome of a triggered sync.
type SyncResponse struct {
	SyncLogID     string `json:"sync_log_id,omitempty"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	Signal        string `json:"signal"`
	RecordsSynced int    `json:"records_synced"`
	Rejected      int    `json:"rejected"`
	Message       string `json:"message,omitempty"`
}

// SyncLogView is one sync log entry.
type SyncLogView struct {
	ID            string    `json:"id"`
	Platform      string    `json:"platform"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Status        string    `json:"status"`
	RecordsSynced int       `json:"records_synced"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// ListSyncLogsResponse packages list results.
type ListSyncLogsResponse struct {
	Items      []SyncLogView `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func toSyncResponse(res syncer.Result) SyncResponse {
	return SyncResponse{
		SyncLogID:     res.SyncLogID,
		UserID:        res.UserID,
		Status:        string(res.Status),
		Signal:        res.Signal.String(),
		RecordsSynced: res.RecordsSynced,
		Rejected:      res.Rejected,
		Message:       res.Message,
	}
}

func toSyncLogView(e domain.SyncLogEntry) SyncLogView {
	return SyncLogView{
		ID:            e.ID,
		Platform:      e.Platform,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
		Status:        string(e.Status),
		RecordsSynced: e.RecordsSynced,
		ErrorMessage:  e.ErrorMessage,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
