package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"repertor/internal/archive"
	"repertor/internal/audit"
	"repertor/internal/document/service/mocks"
	docstore "repertor/internal/document/store"
	"repertor/internal/registration"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
)

// Collaborator failure paths, driven through mocks so store and audit errors
// can be injected at exact points of the binding transaction.
type BindingFailureSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockRegs    *mocks.MockRegistrationStore
	mockAuditor *mocks.MockAuditor
	arch        *archive.MemoryStore
	service     *Service
}

func TestBindingFailureSuite(t *testing.T) {
	suite.Run(t, new(BindingFailureSuite))
}

func (s *BindingFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockRegs = mocks.NewMockRegistrationStore(s.ctrl)
	s.mockAuditor = mocks.NewMockAuditor(s.ctrl)
	s.arch = archive.NewMemory()
	s.service = New(
		docstore.NewMemory(),
		s.mockRegs,
		tx.NewMemoryRunner(),
		s.arch,
		s.mockAuditor,
		ArchiveParams{Tier: archive.TierCold},
		discardLogger(),
		nil,
	)
}

func (s *BindingFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *BindingFailureSuite) issuedRegistration() *registration.Registration {
	return &registration.Registration{
		ID:            uuid.New(),
		Year:          2025,
		Month:         10,
		Sequence:      1,
		DisplayNumber: "01/X/2025",
		State:         registration.StateIssued,
		OwnerID:       "translator-1",
		IssuedAt:      time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *BindingFailureSuite) TestBindLockFailurePropagatesAndCleansUp() {
	s.mockRegs.EXPECT().
		LockByNumber(gomock.Any(), "01/X/2025").
		Return(nil, errors.New("connection reset"))

	_, err := s.service.Bind(fixedCtx(), "01/X/2025", pdfUpload("scan.pdf"))
	s.Require().Error(err)
	s.Equal(0, s.arch.Len(), "orphaned upload must be removed")
}

func (s *BindingFailureSuite) TestBindAuditFailureFailsTheBind() {
	reg := s.issuedRegistration()
	s.mockRegs.EXPECT().LockByNumber(gomock.Any(), reg.DisplayNumber).Return(reg, nil)
	s.mockRegs.EXPECT().UpdateState(gomock.Any(), reg.ID, registration.StatePartial).Return(nil)
	s.mockAuditor.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("outbox insert failed"))

	_, err := s.service.Bind(fixedCtx(), reg.DisplayNumber, nil)
	s.Require().Error(err)
}

func (s *BindingFailureSuite) TestBindStateUpdateFailureFailsTheBind() {
	reg := s.issuedRegistration()
	s.mockRegs.EXPECT().LockByNumber(gomock.Any(), reg.DisplayNumber).Return(reg, nil)
	s.mockRegs.EXPECT().
		UpdateState(gomock.Any(), reg.ID, registration.StatePartial).
		Return(sentinel.ErrNotFound)

	_, err := s.service.Bind(fixedCtx(), reg.DisplayNumber, nil)
	s.Require().Error(err)
}

func (s *BindingFailureSuite) TestBindAppendsAuditInsideTransaction() {
	reg := s.issuedRegistration()
	s.mockRegs.EXPECT().LockByNumber(gomock.Any(), reg.DisplayNumber).Return(reg, nil)
	s.mockRegs.EXPECT().UpdateState(gomock.Any(), reg.ID, registration.StatePartial).Return(nil)
	s.mockAuditor.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			s.Equal(audit.ActionDocumentBound, event.Action)
			s.Equal(reg.DisplayNumber, event.Detail["registration"])
			return nil
		})

	doc, err := s.service.Bind(fixedCtx(), reg.DisplayNumber, nil)
	s.Require().NoError(err)
	s.Equal(reg.ID, doc.RegistrationID)
}
