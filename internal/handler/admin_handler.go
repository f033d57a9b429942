package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
	"gatekeeper-service/internal/service"
	"gatekeeper-service/internal/util"
)

const actionAdmin = "admin-api"

// AdminHandler exposes the operator surface behind basic credentials
type AdminHandler struct {
	cfg          *config.Config
	hasher       *hashing.Hasher
	limiter      *ratelimit.Limiter
	verification *service.VerificationService
	moderation   *service.ModerationService
	logger       *zap.Logger
}

func NewAdminHandler(
	cfg *config.Config,
	hasher *hashing.Hasher,
	limiter *ratelimit.Limiter,
	verification *service.VerificationService,
	moderation *service.ModerationService,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		cfg:          cfg,
		hasher:       hasher,
		limiter:      limiter,
		verification: verification,
		moderation:   moderation,
		logger:       logger,
	}
}

// RegisterRoutes registers the admin routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Get("/bans", h.ListBans)
		r.Post("/bans", h.BanIP)
		r.Delete("/bans/{ipHash}", h.UnbanIP)

		r.Post("/locks", h.LockIdentity)
		r.Delete("/locks/{ip}", h.UnlockIdentity)
		r.Get("/locks/{ip}", h.GetLockInfo)

		r.Post("/warnings", h.WarnMember)
		r.Get("/warnings", h.ListWarnings)

		r.Get("/verified", h.ListVerified)
		r.Get("/members/{memberID}", h.GetMember)
		r.Get("/audit", h.SearchAudit)
		r.Get("/stats", h.GetStats)
	})
}

// requireAdmin verifies basic credentials and throttles the admin surface.
// Failed logins burn quota on the caller's address so credential guessing
// trips the limiter.
func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := util.ClientIP(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
		identity := h.hasher.IdentityHash(clientIP)

		decision, err := h.limiter.Check(r.Context(), identity, actionAdmin,
			h.cfg.RateLimit.AdminLimit, h.cfg.RateLimit.AdminWindow)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, Response{Success: false, Error: "admin rate limit exceeded"})
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != h.cfg.Admin.Username || h.cfg.Admin.PasswordHash == "" {
			h.unauthorized(w)
			return
		}
		valid, err := h.hasher.VerifyPassword(password, h.cfg.Admin.PasswordHash)
		if err != nil || !valid {
			h.logger.Warn("Admin authentication failed",
				zap.String("username", username))
			h.unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="gatekeeper admin"`)
	writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "unauthorized"})
}

// BanRequest is the body of POST /admin/bans
type BanRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) BanIP(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	ban, err := h.moderation.BanIP(r.Context(), req.IP, req.Reason, h.cfg.Admin.Username)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: ban, Message: "address banned"})
}

func (h *AdminHandler) UnbanIP(w http.ResponseWriter, r *http.Request) {
	ipHash := chi.URLParam(r, "ipHash")

	err := h.moderation.UnbanIP(r.Context(), ipHash, h.cfg.Admin.Username)
	if err != nil {
		if errors.Is(err, service.ErrBanNotFound) {
			writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "no active ban for that address"})
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ban lifted"})
}

func (h *AdminHandler) ListBans(w http.ResponseWriter, r *http.Request) {
	bans, err := h.moderation.ListBans(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: bans})
}

// WarnRequest is the body of POST /admin/warnings
type WarnRequest struct {
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}

// WarnResponse carries the recorded warning and the member's running total
type WarnResponse struct {
	Warning      *models.Warning `json:"warning"`
	WarningCount int64           `json:"warning_count"`
}

func (h *AdminHandler) WarnMember(w http.ResponseWriter, r *http.Request) {
	var req WarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	warning, count, err := h.moderation.Warn(r.Context(), req.MemberID, req.Reason, h.cfg.Admin.Username)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    WarnResponse{Warning: warning, WarningCount: count},
		Message: "member warned",
	})
}

func (h *AdminHandler) ListWarnings(w http.ResponseWriter, r *http.Request) {
	warnings, err := h.moderation.ListWarnings(r.Context(),
		r.URL.Query().Get("member_id"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: warnings})
}

// LockRequest is the body of POST /admin/locks
type LockRequest struct {
	IP              string `json:"ip"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (h *AdminHandler) LockIdentity(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := h.moderation.LockIdentity(r.Context(), req.IP, duration, h.cfg.Admin.Username); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "identity locked"})
}

func (h *AdminHandler) UnlockIdentity(w http.ResponseWriter, r *http.Request) {
	h.moderation.UnlockIdentity(r.Context(), chi.URLParam(r, "ip"))
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "identity unlocked"})
}

func (h *AdminHandler) GetLockInfo(w http.ResponseWriter, r *http.Request) {
	info := h.moderation.GetLockInfo(r.Context(), chi.URLParam(r, "ip"))
	writeJSON(w, http.StatusOK, Response{Success: true, Data: info})
}

func (h *AdminHandler) ListVerified(w http.ResponseWriter, r *http.Request) {
	members, err := h.moderation.ListVerified(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: members})
}

func (h *AdminHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.verification.GetMember(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		if err == gocql.ErrNotFound {
			writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "member not found"})
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: member})
}

func (h *AdminHandler) SearchAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.moderation.SearchAudit(r.Context(), r.URL.Query().Get("q"), queryInt(r, "size", 50))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: entries})
}

func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.moderation.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: stats})
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	h.logger.Error("Admin operation failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "internal server error"})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
