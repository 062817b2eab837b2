package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/cmd/registry/service/mocks"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// =============================================================================
// Commit Coordinator Test Suite
// =============================================================================
// Collaborators are mocked so every state path can be forced, including the
// ones a real ledger only produces under failure.

type CoordinatorSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	stager      *mocks.MockStager
	committer   *mocks.MockCommitter
	guard       *mocks.MockAuthorizer
	coordinator *service.CommitCoordinator
	path        []service.State
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.stager = mocks.NewMockStager(s.ctrl)
	s.committer = mocks.NewMockCommitter(s.ctrl)
	s.guard = mocks.NewMockAuthorizer(s.ctrl)
	s.path = nil

	s.coordinator = service.NewCommitCoordinator(
		s.stager,
		s.committer,
		s.guard,
		"https://koi.example/",
		logger.Discard(),
		service.WithTransitionHook(func(_, _ string, _, to service.State) {
			s.path = append(s.path, to)
		}),
	)
}

func (s *CoordinatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func ref(folder, name string) models.AssetRef {
	return models.AssetRef{
		ID:  folder + "/" + name,
		URL: "https://assets.example/koi-assets/" + folder + "/" + name,
	}
}

func asset(body string) *service.Asset {
	return &service.Asset{Data: []byte(body), ContentType: "image/jpeg"}
}

func mintInput() service.MintInput {
	return service.MintInput{
		Principal:   ownerA,
		ID:          "KOI-001",
		Attributes:  models.Attributes{Variety: "Kohaku", SizeCm: 55},
		Photo:       asset("photo"),
		Certificate: &service.Asset{Data: []byte("%PDF"), ContentType: "application/pdf"},
		Contest:     &service.Asset{Data: []byte("%PDF"), ContentType: "application/pdf"},
	}
}

func (s *CoordinatorSuite) expectAllStaged() (photo, cert, contest models.AssetRef) {
	photo = ref(models.FolderPhotos, "p.jpg")
	cert = ref(models.FolderCerts, "c.pdf")
	contest = ref(models.FolderContests, "k.pdf")

	gomock.InOrder(
		s.stager.EXPECT().Stage(gomock.Any(), []byte("photo"), "image/jpeg", models.FolderPhotos).Return(photo, nil),
		s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), "application/pdf", models.FolderCerts).Return(cert, nil),
		s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), "application/pdf", models.FolderContests).Return(contest, nil),
	)
	return photo, cert, contest
}

func (s *CoordinatorSuite) commitError(err error) *service.CommitError {
	var commitErr *service.CommitError
	s.Require().ErrorAs(err, &commitErr)
	return commitErr
}

// =============================================================================
// Success
// =============================================================================

func (s *CoordinatorSuite) TestMintConfirmed() {
	s.guard.EXPECT().Authorize(gomock.Any(), "KOI-001", ownerA).Return(service.RecordNotFound, nil)
	photo, cert, contest := s.expectAllStaged()

	s.committer.EXPECT().Mint(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req service.MintRequest) (*service.Commit, error) {
			s.Equal(photo.URL, req.PhotoURL)
			s.Equal([]string{cert.URL}, req.CertificateURLs)
			s.Equal([]string{contest.URL}, req.ContestURLs)
			return &service.Commit{
				Record:  models.KoiRecord{ID: req.ID, PhotoURL: req.PhotoURL},
				Receipt: ledger.Receipt{TxHash: "0xabc", RecordID: req.ID, Sequence: 1},
			}, nil
		})

	confirmation, err := s.coordinator.Mint(context.Background(), mintInput())
	s.Require().NoError(err)

	s.Equal("KOI-001", confirmation.Record.ID)
	s.Equal("0xabc", confirmation.Verification.TxHash)
	s.Equal("https://koi.example/check?id=KOI-001", confirmation.Verification.URL)
	s.Len(confirmation.Assets, 3)
	s.Equal([]service.State{service.StagingAssets, service.Submitting, service.Confirmed}, s.path)
}

func (s *CoordinatorSuite) TestTransferWithoutPhotoStagesNothing() {
	s.guard.EXPECT().Authorize(gomock.Any(), "KOI-001", ownerA).Return(service.Authorized, nil)
	s.committer.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req service.TransferRequest) (*service.Commit, error) {
			s.Empty(req.PhotoURL)
			s.Equal(ownerB, req.NewOwner)
			return &service.Commit{
				Record:  models.KoiRecord{ID: req.ID, CurrentOwnerPrincipal: req.NewOwner},
				Receipt: ledger.Receipt{TxHash: "0xdef"},
			}, nil
		})

	confirmation, err := s.coordinator.Transfer(context.Background(), service.TransferInput{
		Principal: ownerA,
		ID:        "KOI-001",
		NewOwner:  ownerB,
		Note:      "sold",
	})
	s.Require().NoError(err)
	s.Equal(ownerB, confirmation.Record.CurrentOwnerPrincipal)
	s.Empty(confirmation.Assets)
}

func (s *CoordinatorSuite) TestUpdateUsesPurposeFolders() {
	s.guard.EXPECT().Authorize(gomock.Any(), "KOI-001", ownerA).Return(service.Authorized, nil)
	s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderUpdates).Return(ref(models.FolderUpdates, "u.jpg"), nil)
	s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderContests).Return(ref(models.FolderContests, "k.pdf"), nil)
	s.committer.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req service.UpdateRequest) (*service.Commit, error) {
			s.Contains(req.PhotoURL, "/updates/")
			s.Empty(req.CertificateURL)
			s.Contains(req.ContestURL, "/contests/")
			return &service.Commit{Record: models.KoiRecord{ID: req.ID}}, nil
		})

	_, err := s.coordinator.Update(context.Background(), service.UpdateInput{
		Principal: ownerA,
		ID:        "KOI-001",
		Photo:     asset("new photo"),
		Contest:   asset("ribbon"),
		Note:      "won Grand Champion",
	})
	s.NoError(err)
}

// =============================================================================
// Failure paths
// =============================================================================

func (s *CoordinatorSuite) TestStagingFailureUnstagesSiblings() {
	photo := ref(models.FolderPhotos, "p.jpg")

	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	gomock.InOrder(
		s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderPhotos).Return(photo, nil),
		s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderCerts).
			Return(models.AssetRef{}, fmt.Errorf("%w: bucket full", sentinel.ErrAssetStagingFailed)),
	)
	s.stager.EXPECT().Unstage(gomock.Any(), photo.ID).Return(nil)

	_, err := s.coordinator.Mint(context.Background(), mintInput())
	s.ErrorIs(err, sentinel.ErrAssetStagingFailed)

	commitErr := s.commitError(err)
	s.Equal(service.Failed, commitErr.State)
	s.True(commitErr.RolledBack)
	s.Equal([]models.AssetRef{photo}, commitErr.Staged)
	s.Empty(commitErr.UnstageErrors)
	s.Equal([]service.State{service.StagingAssets, service.RollingBack, service.Failed}, s.path)
}

func (s *CoordinatorSuite) TestLateRejectionRollsBackEverything() {
	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	photo, cert, contest := s.expectAllStaged()

	s.committer.EXPECT().Mint(gomock.Any(), gomock.Any()).
		Return(nil, ledger.Rejected(sentinel.ErrDuplicateID))
	for _, r := range []models.AssetRef{photo, cert, contest} {
		s.stager.EXPECT().Unstage(gomock.Any(), r.ID).Return(nil)
	}

	_, err := s.coordinator.Mint(context.Background(), mintInput())
	s.ErrorIs(err, sentinel.ErrLedgerRejected)
	s.ErrorIs(err, sentinel.ErrDuplicateID)

	s.Equal(service.Failed, s.commitError(err).State)
	s.Equal([]service.State{service.StagingAssets, service.Submitting, service.RollingBack, service.Failed}, s.path)
}

func (s *CoordinatorSuite) TestUnreachableLedgerRollsBack() {
	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.Authorized, nil)
	photo := ref(models.FolderTransfer, "t.jpg")
	s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderTransfer).Return(photo, nil)
	s.committer.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: connection refused", sentinel.ErrLedgerUnreachable))
	s.stager.EXPECT().Unstage(gomock.Any(), photo.ID).Return(nil)

	_, err := s.coordinator.Transfer(context.Background(), service.TransferInput{
		Principal: ownerA, ID: "KOI-001", NewOwner: ownerB, Photo: asset("x"), Note: "sold",
	})
	s.ErrorIs(err, sentinel.ErrLedgerUnreachable)
	s.False(errors.Is(err, sentinel.ErrLedgerRejected))
}

func (s *CoordinatorSuite) TestOutcomeUnknownKeepsAssets() {
	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	s.expectAllStaged()
	s.committer.EXPECT().Mint(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: deadline exceeded", sentinel.ErrOutcomeUnknown))
	// no Unstage expectation: any call fails the test

	_, err := s.coordinator.Mint(context.Background(), mintInput())
	s.ErrorIs(err, sentinel.ErrOutcomeUnknown)

	commitErr := s.commitError(err)
	s.Equal(service.Indeterminate, commitErr.State)
	s.False(commitErr.RolledBack)
	s.Len(commitErr.Staged, 3)
	s.Contains(commitErr.Error(), "re-check")
	s.Equal([]service.State{service.StagingAssets, service.Submitting, service.Indeterminate}, s.path)
}

func (s *CoordinatorSuite) TestCancelBeforeSubmissionRollsBack() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	photo := ref(models.FolderPhotos, "p.jpg")
	in := mintInput()
	in.Certificate, in.Contest = nil, nil

	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), models.FolderPhotos).
		DoAndReturn(func(context.Context, []byte, string, string) (models.AssetRef, error) {
			cancel()
			return photo, nil
		})
	s.stager.EXPECT().Unstage(gomock.Any(), photo.ID).
		DoAndReturn(func(ctx context.Context, _ string) error {
			s.NoError(ctx.Err(), "rollback outlives the caller's context")
			return nil
		})

	_, err := s.coordinator.Mint(ctx, in)
	s.ErrorIs(err, context.Canceled)
	s.Equal([]service.State{service.StagingAssets, service.RollingBack, service.Failed}, s.path)
}

func (s *CoordinatorSuite) TestSubmissionIgnoresCallerCancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := mintInput()
	in.Certificate, in.Contest = nil, nil

	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	s.stager.EXPECT().Stage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(ref(models.FolderPhotos, "p.jpg"), nil)
	s.committer.EXPECT().Mint(gomock.Any(), gomock.Any()).
		DoAndReturn(func(submitCtx context.Context, req service.MintRequest) (*service.Commit, error) {
			cancel()
			s.NoError(submitCtx.Err())
			_, hasDeadline := submitCtx.Deadline()
			s.True(hasDeadline)
			return &service.Commit{Record: models.KoiRecord{ID: req.ID}}, nil
		})

	_, err := s.coordinator.Mint(ctx, in)
	s.NoError(err)
}

func (s *CoordinatorSuite) TestUnstageFailureIsSupplementary() {
	s.guard.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(service.RecordNotFound, nil)
	photo, cert, contest := s.expectAllStaged()
	s.committer.EXPECT().Mint(gomock.Any(), gomock.Any()).
		Return(nil, ledger.Rejected(sentinel.ErrInvalidInput))
	s.stager.EXPECT().Unstage(gomock.Any(), photo.ID).Return(nil)
	s.stager.EXPECT().Unstage(gomock.Any(), cert.ID).Return(fmt.Errorf("%w: timeout", sentinel.ErrUnstageFailed))
	s.stager.EXPECT().Unstage(gomock.Any(), contest.ID).Return(nil)

	_, err := s.coordinator.Mint(context.Background(), mintInput())
	s.ErrorIs(err, sentinel.ErrLedgerRejected)
	s.False(errors.Is(err, sentinel.ErrUnstageFailed), "unstage failures never become the primary error")

	commitErr := s.commitError(err)
	s.Require().Len(commitErr.UnstageErrors, 1)
	s.ErrorIs(commitErr.UnstageErrors[0], sentinel.ErrUnstageFailed)
	s.Contains(commitErr.Error(), "2 of 3 staged assets removed")
}

// =============================================================================
// Pre-checks: nothing is staged
// =============================================================================

func (s *CoordinatorSuite) TestPrechecksFailFromIdle() {
	s.Run("not the owner", func() {
		s.path = nil
		s.guard.EXPECT().Authorize(gomock.Any(), "KOI-001", ownerC).Return(service.NotAuthorized, nil)

		_, err := s.coordinator.Update(context.Background(), service.UpdateInput{
			Principal: ownerC, ID: "KOI-001", Photo: asset("x"), Note: "mine now",
		})
		s.ErrorIs(err, sentinel.ErrNotAuthorized)
		s.Equal([]service.State{service.Failed}, s.path)
	})

	s.Run("unknown record", func() {
		s.guard.EXPECT().Authorize(gomock.Any(), "NOPE", ownerA).Return(service.RecordNotFound, nil)

		_, err := s.coordinator.Transfer(context.Background(), service.TransferInput{
			Principal: ownerA, ID: "NOPE", NewOwner: ownerB, Note: "sold",
		})
		s.ErrorIs(err, sentinel.ErrRecordNotFound)
	})

	s.Run("mint of an existing id", func() {
		s.guard.EXPECT().Authorize(gomock.Any(), "KOI-001", ownerB).Return(service.NotAuthorized, nil)

		in := mintInput()
		in.Principal = ownerB
		_, err := s.coordinator.Mint(context.Background(), in)
		s.ErrorIs(err, sentinel.ErrDuplicateID)
	})

	s.Run("mint without photo skips the guard", func() {
		in := mintInput()
		in.Photo = nil
		_, err := s.coordinator.Mint(context.Background(), in)
		s.ErrorIs(err, sentinel.ErrInvalidInput)
	})

	s.Run("transfer without note", func() {
		_, err := s.coordinator.Transfer(context.Background(), service.TransferInput{
			Principal: ownerA, ID: "KOI-001", NewOwner: ownerB,
		})
		s.ErrorIs(err, sentinel.ErrInvalidInput)
	})
}
