// Package service implements the document binding transaction: bind, rebind
// and unbind a document against a registration, with the evidence file
// archived to cold storage. Evidence uploads happen before the database
// transaction so no network transfer runs under the registration row lock;
// orphaned objects from failed transactions are removed best-effort.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repertor/internal/archive"
	"repertor/internal/audit"
	"repertor/internal/document"
	"repertor/internal/document/metrics"
	"repertor/internal/registration"
	dErrors "repertor/pkg/domain-errors"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
	"repertor/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// Typed binding failures. Both are conflicts from the client's view; the
// message tells a retrying client whether retrying can ever help.
var (
	// ErrDuplicateBinding: the registration already holds a document.
	ErrDuplicateBinding = dErrors.New(dErrors.CodeConflict, "registration already holds a document")
	// ErrRegistrationExhausted: the registration accepts no further
	// documents (committed or void).
	ErrRegistrationExhausted = dErrors.New(dErrors.CodeConflict, "registration accepts no further documents")
)

// RegistrationStore is the slice of the registration store the binder needs.
type RegistrationStore interface {
	LockByNumber(ctx context.Context, displayNumber string) (*registration.Registration, error)
	LockByID(ctx context.Context, id uuid.UUID) (*registration.Registration, error)
	UpdateState(ctx context.Context, id uuid.UUID, state registration.State) error
}

// Auditor is the slice of the audit store the binder needs.
type Auditor interface {
	Append(ctx context.Context, event audit.Event) error
}

// EvidenceUpload carries one evidence file and its client-declared metadata.
type EvidenceUpload struct {
	Content      []byte
	ContentType  string
	OriginalName string
}

// ArchiveParams fixes the cold-storage behavior for all evidence writes.
type ArchiveParams struct {
	Tier    archive.Tier
	Restore archive.RestoreParams
}

// Service runs the binding transaction and the evidence retrieval protocol.
type Service struct {
	store   document.Store
	regs    RegistrationStore
	runner  tx.Runner
	archive archive.Store
	auditor Auditor
	params  ArchiveParams
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(store document.Store, regs RegistrationStore, runner tx.Runner, archiveStore archive.Store, auditor Auditor, params ArchiveParams, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		regs:    regs,
		runner:  runner,
		archive: archiveStore,
		auditor: auditor,
		params:  params,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("repertor/document"),
	}
}

// Bind attaches a document to the registration identified by displayNumber.
// With a nil upload the document is created as a draft. The registration row
// lock, the document insert and the state recompute commit atomically.
func (s *Service) Bind(ctx context.Context, displayNumber string, upload *EvidenceUpload) (*document.Document, error) {
	ctx, span := s.tracer.Start(ctx, "document.Bind")
	defer span.End()

	if displayNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "registration number is required")
	}
	if _, _, _, err := registration.ParseDisplayNumber(displayNumber); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed registration number")
	}

	now := requestcontext.Now(ctx)
	doc := &document.Document{
		ID:        uuid.New(),
		Status:    document.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key, err := s.uploadEvidence(ctx, doc, upload)
	if err != nil {
		s.metrics.RecordBinding("error")
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		reg, err := s.lockBindable(ctx, displayNumber, now)
		if err != nil {
			return err
		}
		doc.RegistrationID = reg.ID

		if err := s.store.Create(ctx, doc); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return ErrDuplicateBinding
			}
			return fmt.Errorf("create document: %w", err)
		}

		if err := s.recomputeState(ctx, reg); err != nil {
			return err
		}

		return s.auditor.Append(ctx, audit.Event{
			ActorID: requestcontext.ActorID(ctx),
			Action:  audit.ActionDocumentBound,
			Subject: doc.ID.String(),
			Detail:  bindDetail(displayNumber, doc),
		})
	})
	if err != nil {
		s.removeOrphan(ctx, key)
		s.metrics.RecordBinding(bindFailureOutcome(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("document.id", doc.ID.String()),
		attribute.String("registration.number", displayNumber),
	)
	s.metrics.RecordBinding("bound")
	if upload != nil {
		s.metrics.ObserveEvidenceSize(doc.EvidenceSize)
	}
	return doc, nil
}

// Rebind moves a document to another registration, replaces its evidence, or
// both. The replaced evidence object is deleted best-effort after commit; a
// delete failure is logged and never fails the rebind.
func (s *Service) Rebind(ctx context.Context, id uuid.UUID, newDisplayNumber string, upload *EvidenceUpload) (*document.Document, error) {
	ctx, span := s.tracer.Start(ctx, "document.Rebind")
	defer span.End()

	if newDisplayNumber == "" && upload == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "nothing to change")
	}
	if newDisplayNumber != "" {
		if _, _, _, err := registration.ParseDisplayNumber(newDisplayNumber); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed registration number")
		}
	}

	now := requestcontext.Now(ctx)
	var doc *document.Document
	var oldKey string

	// Upload the replacement before the transaction. The key embeds a fresh
	// UUID so a replacement never overwrites the object it replaces.
	staged := &document.Document{ID: uuid.New()}
	newKey, err := s.uploadEvidence(ctx, staged, upload)
	if err != nil {
		s.metrics.RecordBinding("error")
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.store.FindByID(ctx, id)
		if err != nil {
			return lookupError(err, "document")
		}

		oldReg, err := s.regs.LockByID(ctx, doc.RegistrationID)
		if err != nil {
			return lookupError(err, "registration")
		}

		target := oldReg
		if newDisplayNumber != "" && newDisplayNumber != oldReg.DisplayNumber {
			target, err = s.lockBindable(ctx, newDisplayNumber, now)
			if err != nil {
				return err
			}
			doc.RegistrationID = target.ID
		}

		if upload != nil {
			oldKey = doc.EvidenceKey
			doc.Status = document.StatusSubmitted
			doc.EvidenceKey = staged.EvidenceKey
			doc.EvidenceContentType = staged.EvidenceContentType
			doc.EvidenceSize = staged.EvidenceSize
			doc.OriginalName = staged.OriginalName
		}
		doc.UpdatedAt = now

		if err := s.store.Update(ctx, doc); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return ErrDuplicateBinding
			}
			return fmt.Errorf("update document: %w", err)
		}

		if target.ID != oldReg.ID {
			if err := s.recomputeState(ctx, oldReg); err != nil {
				return err
			}
			if err := s.recomputeState(ctx, target); err != nil {
				return err
			}
		}

		return s.auditor.Append(ctx, audit.Event{
			ActorID: requestcontext.ActorID(ctx),
			Action:  audit.ActionDocumentRebound,
			Subject: doc.ID.String(),
			Detail:  bindDetail(target.DisplayNumber, doc),
		})
	})
	if err != nil {
		s.removeOrphan(ctx, newKey)
		s.metrics.RecordBinding(bindFailureOutcome(err))
		return nil, err
	}

	if oldKey != "" {
		s.removeOrphan(ctx, oldKey)
	}
	span.SetAttributes(attribute.String("document.id", doc.ID.String()))
	s.metrics.RecordBinding("rebound")
	if upload != nil {
		s.metrics.ObserveEvidenceSize(doc.EvidenceSize)
	}
	return doc, nil
}

// Unbind deletes the document and releases its registration back to ISSUED.
// The evidence object is removed best-effort after commit; the audit row
// keeps the key so a leaked object can be found later.
func (s *Service) Unbind(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "document.Unbind")
	defer span.End()

	var evidenceKey string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.store.FindByID(ctx, id)
		if err != nil {
			return lookupError(err, "document")
		}
		evidenceKey = doc.EvidenceKey

		reg, err := s.regs.LockByID(ctx, doc.RegistrationID)
		if err != nil {
			return lookupError(err, "registration")
		}

		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}

		if err := s.recomputeState(ctx, reg); err != nil {
			return err
		}

		return s.auditor.Append(ctx, audit.Event{
			ActorID: requestcontext.ActorID(ctx),
			Action:  audit.ActionDocumentUnbound,
			Subject: id.String(),
			Detail: map[string]string{
				"registration": reg.DisplayNumber,
				"evidence_key": evidenceKey,
			},
		})
	})
	if err != nil {
		s.metrics.RecordBinding(bindFailureOutcome(err))
		return err
	}

	if evidenceKey != "" {
		s.removeOrphan(ctx, evidenceKey)
	}
	s.metrics.RecordBinding("unbound")
	return nil
}

// Get returns a document by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	doc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}
	return doc, nil
}

// RetrieveEvidence runs the retrieval protocol for the document's evidence
// object. Needing a restore is a normal outcome, not an error; the caller
// inspects Result.Outcome. It never blocks waiting for a restore.
func (s *Service) RetrieveEvidence(ctx context.Context, id uuid.UUID) (archive.Result, error) {
	ctx, span := s.tracer.Start(ctx, "document.RetrieveEvidence")
	defer span.End()

	doc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return archive.Result{}, lookupError(err, "document")
	}
	if !doc.HasEvidence() {
		return archive.Result{}, dErrors.New(dErrors.CodeNotFound, "document has no evidence")
	}

	res, err := archive.Retrieve(ctx, s.archive, doc.EvidenceKey, requestcontext.Now(ctx), s.params.Restore)
	if err != nil {
		s.metrics.RecordRetrieval("fetch_failed")
		return archive.Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "retrieve evidence")
	}

	if res.Outcome == archive.OutcomeRestoreInitiated {
		// Outside any transaction; a lost event here costs an audit line,
		// not consistency.
		if err := s.auditor.Append(ctx, audit.Event{
			ActorID: requestcontext.ActorID(ctx),
			Action:  audit.ActionRestoreRequested,
			Subject: doc.ID.String(),
			Detail:  map[string]string{"evidence_key": doc.EvidenceKey},
		}); err != nil {
			s.logger.Warn("audit append failed", "action", audit.ActionRestoreRequested, "document", doc.ID, "error", err)
		}
	}

	span.SetAttributes(attribute.String("retrieval.outcome", string(res.Outcome)))
	s.metrics.RecordRetrieval(string(res.Outcome))
	return res, nil
}

// uploadEvidence archives the upload and fills doc's evidence fields. With a
// nil upload it is a no-op returning an empty key.
func (s *Service) uploadEvidence(ctx context.Context, doc *document.Document, upload *EvidenceUpload) (string, error) {
	if upload == nil {
		return "", nil
	}
	if len(upload.Content) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "evidence content is empty")
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := doc.ID.String() + "/" + uuid.NewString()
	if err := s.archive.Archive(ctx, key, upload.Content, contentType, s.params.Tier); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "archive evidence")
	}

	doc.Status = document.StatusSubmitted
	doc.EvidenceKey = key
	doc.EvidenceContentType = contentType
	doc.EvidenceSize = int64(len(upload.Content))
	doc.OriginalName = upload.OriginalName
	return key, nil
}

// lockBindable locks the registration and verifies it can accept a document.
func (s *Service) lockBindable(ctx context.Context, displayNumber string, now time.Time) (*registration.Registration, error) {
	reg, err := s.regs.LockByNumber(ctx, displayNumber)
	if err != nil {
		return nil, lookupError(err, "registration")
	}
	if reg.Expired(now) {
		return nil, dErrors.New(dErrors.CodeConflict, "registration has expired")
	}
	if !reg.State.Bindable() {
		return nil, ErrRegistrationExhausted
	}
	return reg, nil
}

// recomputeState derives the registration state from its current document
// count and persists it if it moved. VOID is terminal and never recomputed.
func (s *Service) recomputeState(ctx context.Context, reg *registration.Registration) error {
	if reg.State == registration.StateVoid {
		return nil
	}
	count, err := s.store.CountByRegistration(ctx, reg.ID)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	next := registration.StateForCount(count)
	if next == reg.State {
		return nil
	}
	if err := s.regs.UpdateState(ctx, reg.ID, next); err != nil {
		return fmt.Errorf("update registration state: %w", err)
	}
	reg.State = next
	return nil
}

// removeOrphan deletes an archive object whose database reference is gone
// (rolled-back upload or replaced evidence). Always best-effort.
func (s *Service) removeOrphan(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.archive.Remove(ctx, key); err != nil {
		s.logger.Warn("orphaned evidence object not removed", "key", key, "error", err)
	}
}

func bindDetail(displayNumber string, doc *document.Document) map[string]string {
	detail := map[string]string{"registration": displayNumber}
	if doc.HasEvidence() {
		detail["evidence_key"] = doc.EvidenceKey
		detail["original_name"] = doc.OriginalName
	}
	return detail
}

func bindFailureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateBinding):
		return "duplicate"
	case errors.Is(err, ErrRegistrationExhausted):
		return "exhausted"
	default:
		return "error"
	}
}

func lookupError(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return fmt.Errorf("find %s: %w", what, err)
}
