package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
	"gatekeeper-service/internal/service"
	"gatekeeper-service/internal/util"
)

// Response is the standard API envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// VerifyHandler handles the public verification flow
type VerifyHandler struct {
	verification *service.VerificationService
	logger       *zap.Logger
}

func NewVerifyHandler(verification *service.VerificationService, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{verification: verification, logger: logger}
}

// RegisterRoutes registers the public routes
func (h *VerifyHandler) RegisterRoutes(router chi.Router) {
	router.Post("/verify", h.Verify)
}

// Verify handles one verification attempt from the companion web page
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	req.IP = util.ClientIP(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
	req.UserAgent = r.UserAgent()

	result, err := h.verification.Verify(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ratelimit.ErrInvalidArgument):
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		default:
			h.logger.Error("Verification failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "internal server error"})
		}
		return
	}

	switch result.Outcome {
	case models.OutcomeSuccess:
		writeJSON(w, http.StatusOK, Response{Success: true, Message: result.Message, Data: result})
	case models.OutcomeRateLimited, models.OutcomeLocked:
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, Response{Success: false, Error: result.Message, Data: result})
	case models.OutcomeBanned, models.OutcomeVPN:
		writeJSON(w, http.StatusForbidden, Response{Success: false, Error: result.Message})
	default:
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "unknown verification outcome"})
	}
}
