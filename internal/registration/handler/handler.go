// Package handler exposes the registration registry over HTTP. Display
// numbers carry slashes ("01/X/2025"), so path segments use the dash form
// ("01-X-2025"); handlers translate at the edge.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"repertor/internal/platform/middleware"
	"repertor/internal/registration"
	dErrors "repertor/pkg/domain-errors"
	"repertor/pkg/platform/httputil"
	"repertor/pkg/requestcontext"
)

// Service defines the registration operations the transport needs.
type Service interface {
	Allocate(ctx context.Context, ownerID string, expiresAt *time.Time) (*registration.Registration, error)
	Preview(ctx context.Context) (string, error)
	Get(ctx context.Context, displayNumber string) (*registration.Registration, error)
	List(ctx context.Context, period registration.Period) ([]*registration.Registration, error)
	Void(ctx context.Context, displayNumber string) error
}

// Handler handles registration endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	jwtValidator middleware.JWTValidator
}

// New creates a new registration Handler.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		jwtValidator: jwtValidator,
	}
}

// Register registers the registration routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	auth := middleware.RequireAuth(h.jwtValidator, h.logger)
	r.With(auth).Post("/registrations", h.handleAllocate)
	r.With(auth).Get("/registrations", h.handleList)
	r.With(auth).Get("/registrations/next", h.handlePreview)
	r.With(auth).Get("/registrations/{number}", h.handleGet)
	r.With(auth).Post("/registrations/{number}/void", h.handleVoid)
}

type allocateRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type registrationResponse struct {
	Number    string     `json:"number"`
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	Sequence  int        `json:"sequence"`
	State     string     `json:"state"`
	Owner     string     `json:"owner"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func toResponse(reg *registration.Registration) registrationResponse {
	return registrationResponse{
		Number:    reg.DisplayNumber,
		Year:      reg.Year,
		Month:     reg.Month,
		Sequence:  reg.Sequence,
		State:     string(reg.State),
		Owner:     reg.OwnerID,
		IssuedAt:  reg.IssuedAt,
		ExpiresAt: reg.ExpiresAt,
	}
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req allocateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	reg, err := h.service.Allocate(ctx, requestcontext.ActorID(ctx), req.ExpiresAt)
	if err != nil {
		h.logger.WarnContext(ctx, "allocation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(reg))
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.Preview(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"number": number})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.Get(r.Context(), PathNumber(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(reg))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	year, errY := strconv.Atoi(r.URL.Query().Get("year"))
	month, errM := strconv.Atoi(r.URL.Query().Get("month"))
	if errY != nil || errM != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "year and month query parameters are required"))
		return
	}

	regs, err := h.service.List(r.Context(), registration.Period{Year: year, Month: month})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toResponse(reg))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"registrations": out})
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !middleware.IsAdmin(r) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
		return
	}

	number := PathNumber(r)
	if err := h.service.Void(ctx, number); err != nil {
		h.logger.WarnContext(ctx, "void failed",
			"request_id", requestcontext.RequestID(ctx),
			"number", number,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PathNumber extracts the display number from the URL, translating the dash
// form back to the canonical slash form.
func PathNumber(r *http.Request) string {
	return strings.ReplaceAll(chi.URLParam(r, "number"), "-", "/")
}
