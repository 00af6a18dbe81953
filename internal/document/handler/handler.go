// Package handler exposes document binding and evidence retrieval over HTTP.
// Evidence uploads arrive as multipart form data; retrieval follows the
// archive restore protocol, answering 202 while a cold object is being
// restored.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"repertor/internal/archive"
	"repertor/internal/document"
	"repertor/internal/document/service"
	"repertor/internal/platform/middleware"
	reghandler "repertor/internal/registration/handler"
	dErrors "repertor/pkg/domain-errors"
	"repertor/pkg/platform/httputil"
	"repertor/pkg/requestcontext"
)

// maxEvidenceSize bounds one uploaded evidence file.
const maxEvidenceSize = 64 << 20

// retryAfter hints how long a polling client should wait while a restore is
// underway. Cold-tier restores take hours; there is no point polling faster.
const retryAfter = 15 * time.Minute

// Service defines the document operations the transport needs.
type Service interface {
	Bind(ctx context.Context, displayNumber string, upload *service.EvidenceUpload) (*document.Document, error)
	Rebind(ctx context.Context, id uuid.UUID, newDisplayNumber string, upload *service.EvidenceUpload) (*document.Document, error)
	Unbind(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
	RetrieveEvidence(ctx context.Context, id uuid.UUID) (archive.Result, error)
}

// Handler handles document endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	jwtValidator middleware.JWTValidator
}

// New creates a new document Handler.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		jwtValidator: jwtValidator,
	}
}

// Register registers the document routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	auth := middleware.RequireAuth(h.jwtValidator, h.logger)
	r.With(auth).Post("/registrations/{number}/document", h.handleBind)
	r.With(auth).Get("/documents/{id}", h.handleGet)
	r.With(auth).Put("/documents/{id}", h.handleRebind)
	r.With(auth).Delete("/documents/{id}", h.handleUnbind)
	r.With(auth).Get("/documents/{id}/evidence", h.handleEvidence)
}

type documentResponse struct {
	ID           string    `json:"id"`
	Registration string    `json:"registration_id"`
	Status       string    `json:"status"`
	OriginalName string    `json:"original_name,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Size         int64     `json:"size,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toResponse(doc *document.Document) documentResponse {
	return documentResponse{
		ID:           doc.ID.String(),
		Registration: doc.RegistrationID.String(),
		Status:       string(doc.Status),
		OriginalName: doc.OriginalName,
		ContentType:  doc.EvidenceContentType,
		Size:         doc.EvidenceSize,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := reghandler.PathNumber(r)

	upload, err := readUpload(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.service.Bind(ctx, number, upload)
	if err != nil {
		h.logger.WarnContext(ctx, "bind failed",
			"request_id", requestcontext.RequestID(ctx),
			"number", number,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(doc))
}

func (h *Handler) handleRebind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	upload, err := readUpload(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The target registration rides in a query parameter, dash form like
	// the path ("01-X-2025").
	newNumber := ""
	if raw := r.URL.Query().Get("registration"); raw != "" {
		newNumber = strings.ReplaceAll(raw, "-", "/")
	}

	doc, err := h.service.Rebind(ctx, id, newNumber, upload)
	if err != nil {
		h.logger.WarnContext(ctx, "rebind failed",
			"request_id", requestcontext.RequestID(ctx),
			"document", id,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(doc))
}

func (h *Handler) handleUnbind(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Unbind(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(doc))
}

// handleEvidence answers the retrieval protocol: 200 with the bytes, 202 when
// the caller has to come back later, 502 when the backing store misbehaves.
func (h *Handler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.RetrieveEvidence(ctx, id)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeUnavailable {
			h.logger.ErrorContext(ctx, "evidence retrieval failed",
				"request_id", requestcontext.RequestID(ctx),
				"document", id,
				"error", err.Error(),
			)
			httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{"status": "fetch_failed"})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	switch res.Outcome {
	case archive.OutcomeOK:
		w.Header().Set("Content-Type", res.Object.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Object.Bytes)
	default:
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"status":      string(res.Outcome),
			"retry_after": int(retryAfter.Seconds()),
		})
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "malformed document id")
	}
	return id, nil
}

// readUpload extracts an optional evidence file from a multipart request.
// Non-multipart requests carry no upload.
func readUpload(r *http.Request) (*service.EvidenceUpload, error) {
	if err := r.ParseMultipartForm(maxEvidenceSize); err != nil {
		if err == http.ErrNotMultipart {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body")
	}

	file, header, err := r.FormFile("evidence")
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid evidence file")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxEvidenceSize+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "read evidence file")
	}
	if len(content) > maxEvidenceSize {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence file too large")
	}

	return &service.EvidenceUpload{
		Content:      content,
		ContentType:  header.Header.Get("Content-Type"),
		OriginalName: header.Filename,
	}, nil
}
