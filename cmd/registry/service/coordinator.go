package service

//go:generate mockgen -source=coordinator.go -destination=mocks/mocks.go -package=mocks Stager,Committer,Authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/metrics"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/saga"
	"github.com/koicert/registry/common/sentinel"
)

// Stager uploads assets and removes them on rollback
type Stager interface {
	Stage(ctx context.Context, data []byte, contentType, folder string) (models.AssetRef, error)
	Unstage(ctx context.Context, assetID string) error
}

// Committer applies confirmed mutations, implemented by Registry
type Committer interface {
	Mint(ctx context.Context, req MintRequest) (*Commit, error)
	Transfer(ctx context.Context, req TransferRequest) (*Commit, error)
	Update(ctx context.Context, req UpdateRequest) (*Commit, error)
}

// Authorizer answers the advisory ownership check, implemented by OwnershipGuard
type Authorizer interface {
	Authorize(ctx context.Context, id, principal string) (Decision, error)
}

// State is a step of a coordinated commit
type State int

const (
	Idle State = iota
	StagingAssets
	Submitting
	Confirmed
	RollingBack
	Failed
	Indeterminate
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StagingAssets:
		return "staging_assets"
	case Submitting:
		return "submitting"
	case Confirmed:
		return "confirmed"
	case RollingBack:
		return "rolling_back"
	case Failed:
		return "failed"
	case Indeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Asset is a raw upload as received from the caller
type Asset struct {
	Data        []byte
	ContentType string
	Filename    string
}

func (a *Asset) present() bool {
	return a != nil && len(a.Data) > 0
}

// MintInput is a mint request with raw assets. Photo is required.
type MintInput struct {
	Principal   string
	ID          string
	Attributes  models.Attributes
	Photo       *Asset
	Certificate *Asset
	Contest     *Asset
	IssuerName  string
	FatherID    string
	MotherID    string
}

// TransferInput is a transfer request with an optional new photo
type TransferInput struct {
	Principal      string
	ID             string
	NewOwner       string
	NewOwnerName   string
	AttributePatch json.RawMessage
	Photo          *Asset
	Note           string
}

// UpdateInput is an update request with optional photo and documents
type UpdateInput struct {
	Principal      string
	ID             string
	AttributePatch json.RawMessage
	Photo          *Asset
	Certificate    *Asset
	Contest        *Asset
	Note           string
}

// Verification lets the owner check a mutation independently
type Verification struct {
	TxHash string `json:"tx_hash"`
	URL    string `json:"url"`
}

// Confirmation is the result of a confirmed commit
type Confirmation struct {
	Record       models.KoiRecord  `json:"record"`
	Verification Verification      `json:"verification"`
	Assets       []models.AssetRef `json:"assets,omitempty"`
}

// CommitError is the single terminal failure of a coordinated commit
// Cause is the primary failure. UnstageErrors are supplementary and never
// replace it. In the Indeterminate state Staged assets were kept on purpose.
type CommitError struct {
	Op            string
	State         State
	Cause         error
	Staged        []models.AssetRef
	RolledBack    bool
	UnstageErrors []error
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Op, e.State, e.Cause)

	switch {
	case e.State == Indeterminate:
		fmt.Fprintf(&b, " (outcome unknown, %d assets kept; re-check the record before retrying)", len(e.Staged))
	case e.RolledBack && len(e.Staged) > 0:
		fmt.Fprintf(&b, " (%d of %d staged assets removed)", len(e.Staged)-len(e.UnstageErrors), len(e.Staged))
	}
	return b.String()
}

func (e *CommitError) Unwrap() error {
	return e.Cause
}

// TransitionHook observes every state change of a commit
type TransitionHook func(op, id string, from, to State)

// CoordinatorOption configures a CommitCoordinator
type CoordinatorOption func(*CommitCoordinator)

// WithTransitionHook registers hook for state changes
func WithTransitionHook(hook TransitionHook) CoordinatorOption {
	return func(c *CommitCoordinator) {
		c.hook = hook
	}
}

// WithSubmitTimeout bounds how long a submission may take before its outcome is unknown
func WithSubmitTimeout(d time.Duration) CoordinatorOption {
	return func(c *CommitCoordinator) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithRollbackTimeout bounds the whole rollback
func WithRollbackTimeout(d time.Duration) CoordinatorOption {
	return func(c *CommitCoordinator) {
		if d > 0 {
			c.rollbackTimeout = d
		}
	}
}

// WithCoordinatorMetrics records commit outcomes
func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *CommitCoordinator) {
		c.metrics = m
	}
}

// CommitCoordinator stages assets, submits the mutation and undoes the
// staging when the mutation does not confirm
type CommitCoordinator struct {
	stager    Stager
	committer Committer
	guard     Authorizer
	verifyURL string
	log       *logger.Logger
	metrics   *metrics.Metrics
	hook      TransitionHook

	submitTimeout   time.Duration
	rollbackTimeout time.Duration
}

// NewCommitCoordinator creates a coordinator. verifyBaseURL prefixes the
// verification link returned on confirmation.
func NewCommitCoordinator(stager Stager, committer Committer, guard Authorizer, verifyBaseURL string, log *logger.Logger, opts ...CoordinatorOption) *CommitCoordinator {
	c := &CommitCoordinator{
		stager:          stager,
		committer:       committer,
		guard:           guard,
		verifyURL:       strings.TrimRight(verifyBaseURL, "/"),
		log:             log,
		submitTimeout:   30 * time.Second,
		rollbackTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pendingAsset struct {
	slot   string
	folder string
	asset  *Asset
}

type submitFunc func(ctx context.Context, urls map[string]string) (*Commit, error)

// Mint stages the photo and optional documents, then mints the record
func (c *CommitCoordinator) Mint(ctx context.Context, in MintInput) (*Confirmation, error) {
	var invalid error
	switch {
	case strings.TrimSpace(in.ID) == "":
		invalid = fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(in.Principal) == "":
		invalid = fmt.Errorf("%w: principal is required", sentinel.ErrInvalidInput)
	case !in.Photo.present():
		invalid = fmt.Errorf("%w: photo is required", sentinel.ErrInvalidInput)
	case in.Attributes.SizeCm < 0:
		invalid = fmt.Errorf("%w: size_cm must be >= 0", sentinel.ErrInvalidInput)
	}

	pending := []pendingAsset{{slot: "photo", folder: models.FolderPhotos, asset: in.Photo}}
	if in.Certificate.present() {
		pending = append(pending, pendingAsset{slot: "cert", folder: models.FolderCerts, asset: in.Certificate})
	}
	if in.Contest.present() {
		pending = append(pending, pendingAsset{slot: "contest", folder: models.FolderContests, asset: in.Contest})
	}

	precheck := func(ctx context.Context) error {
		decision, err := c.guard.Authorize(ctx, in.ID, in.Principal)
		if err != nil {
			return err
		}
		if decision != RecordNotFound {
			return fmt.Errorf("%w: %s", sentinel.ErrDuplicateID, in.ID)
		}
		return nil
	}

	submit := func(ctx context.Context, urls map[string]string) (*Commit, error) {
		return c.committer.Mint(ctx, MintRequest{
			Principal:       in.Principal,
			ID:              in.ID,
			Attributes:      in.Attributes,
			PhotoURL:        urls["photo"],
			CertificateURLs: optional(urls["cert"]),
			ContestURLs:     optional(urls["contest"]),
			IssuerName:      in.IssuerName,
			FatherID:        in.FatherID,
			MotherID:        in.MotherID,
		})
	}

	return c.run(ctx, "mint", in.ID, invalid, precheck, pending, submit)
}

// Transfer stages an optional new photo, then transfers ownership
func (c *CommitCoordinator) Transfer(ctx context.Context, in TransferInput) (*Confirmation, error) {
	var invalid error
	switch {
	case strings.TrimSpace(in.ID) == "":
		invalid = fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(in.NewOwner) == "":
		invalid = fmt.Errorf("%w: new owner is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(in.Note) == "":
		invalid = fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	}

	var pending []pendingAsset
	if in.Photo.present() {
		pending = append(pending, pendingAsset{slot: "photo", folder: models.FolderTransfer, asset: in.Photo})
	}

	submit := func(ctx context.Context, urls map[string]string) (*Commit, error) {
		return c.committer.Transfer(ctx, TransferRequest{
			Principal:      in.Principal,
			ID:             in.ID,
			NewOwner:       in.NewOwner,
			NewOwnerName:   in.NewOwnerName,
			AttributePatch: in.AttributePatch,
			PhotoURL:       urls["photo"],
			Note:           in.Note,
		})
	}

	return c.run(ctx, "transfer", in.ID, invalid, c.ownerCheck(in.ID, in.Principal), pending, submit)
}

// Update stages optional photo and documents, then updates the record
func (c *CommitCoordinator) Update(ctx context.Context, in UpdateInput) (*Confirmation, error) {
	var invalid error
	switch {
	case strings.TrimSpace(in.ID) == "":
		invalid = fmt.Errorf("%w: id is required", sentinel.ErrInvalidInput)
	case strings.TrimSpace(in.Note) == "":
		invalid = fmt.Errorf("%w: note is required", sentinel.ErrInvalidInput)
	}

	var pending []pendingAsset
	if in.Photo.present() {
		pending = append(pending, pendingAsset{slot: "photo", folder: models.FolderUpdates, asset: in.Photo})
	}
	if in.Certificate.present() {
		pending = append(pending, pendingAsset{slot: "cert", folder: models.FolderCerts, asset: in.Certificate})
	}
	if in.Contest.present() {
		pending = append(pending, pendingAsset{slot: "contest", folder: models.FolderContests, asset: in.Contest})
	}

	submit := func(ctx context.Context, urls map[string]string) (*Commit, error) {
		return c.committer.Update(ctx, UpdateRequest{
			Principal:      in.Principal,
			ID:             in.ID,
			AttributePatch: in.AttributePatch,
			PhotoURL:       urls["photo"],
			CertificateURL: urls["cert"],
			ContestURL:     urls["contest"],
			Note:           in.Note,
		})
	}

	return c.run(ctx, "update", in.ID, invalid, c.ownerCheck(in.ID, in.Principal), pending, submit)
}

func (c *CommitCoordinator) ownerCheck(id, principal string) func(context.Context) error {
	return func(ctx context.Context) error {
		decision, err := c.guard.Authorize(ctx, id, principal)
		if err != nil {
			return err
		}
		if err := decision.Err(); err != nil {
			return fmt.Errorf("%w: %s", err, id)
		}
		return nil
	}
}

// run drives one commit through the state machine
func (c *CommitCoordinator) run(ctx context.Context, op, id string, invalid error, precheck func(context.Context) error, pending []pendingAsset, submit submitFunc) (*Confirmation, error) {
	start := time.Now()
	log := c.log.WithContext(ctx).WithRecordID(id).With("op", op)
	state := Idle

	transition := func(to State) {
		log.Debug("commit transition", "from", state, "to", to)
		if c.hook != nil {
			c.hook(op, id, state, to)
		}
		state = to
	}

	finish := func(err *CommitError) (*Confirmation, error) {
		c.metrics.ObserveCommit(op, err.State.String(), start)
		if err.State == Indeterminate {
			log.Warn("commit outcome unknown, assets kept", "error", err.Cause, "staged", len(err.Staged))
		} else {
			log.Info("commit failed", "error", err.Cause, "staged", len(err.Staged), "unstage_failures", len(err.UnstageErrors))
		}
		return nil, err
	}

	// Nothing staged yet, fail straight from Idle
	if invalid == nil {
		invalid = precheck(ctx)
	}
	if invalid != nil {
		transition(Failed)
		return finish(&CommitError{Op: op, State: Failed, Cause: invalid})
	}

	rollback := saga.New()
	var staged []models.AssetRef

	fail := func(cause error) (*Confirmation, error) {
		transition(RollingBack)

		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rollbackTimeout)
		defer cancel()

		var unstageErrs []error
		for _, stepErr := range rollback.Compensate(rbCtx) {
			log.Warn("failed to unstage asset", "asset_id", stepErr.Step, "error", stepErr.Err)
			unstageErrs = append(unstageErrs, stepErr)
		}

		transition(Failed)
		return finish(&CommitError{
			Op:            op,
			State:         Failed,
			Cause:         cause,
			Staged:        staged,
			RolledBack:    true,
			UnstageErrors: unstageErrs,
		})
	}

	transition(StagingAssets)
	urls := make(map[string]string, len(pending))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("cancelled while staging: %w", err))
		}

		ref, err := c.stager.Stage(ctx, p.asset.Data, p.asset.ContentType, p.folder)
		if err != nil {
			if !errors.Is(err, sentinel.ErrAssetStagingFailed) {
				err = fmt.Errorf("%w: %s: %w", sentinel.ErrAssetStagingFailed, p.slot, err)
			}
			return fail(err)
		}

		staged = append(staged, ref)
		rollback.Register(ref.ID, func(ctx context.Context) error {
			return c.stager.Unstage(ctx, ref.ID)
		})
		urls[p.slot] = ref.URL
	}

	// Last point where the caller can still cancel
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("cancelled before submission: %w", err))
	}

	transition(Submitting)
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	commit, err := submit(submitCtx, urls)
	cancel()

	if err != nil {
		if errors.Is(err, sentinel.ErrOutcomeUnknown) {
			transition(Indeterminate)
			return finish(&CommitError{Op: op, State: Indeterminate, Cause: err, Staged: staged})
		}
		return fail(err)
	}

	rollback.Complete()
	transition(Confirmed)
	c.metrics.ObserveCommit(op, Confirmed.String(), start)

	log.Info("commit confirmed", "tx_hash", commit.Receipt.TxHash, "assets", len(staged))

	return &Confirmation{
		Record: commit.Record,
		Verification: Verification{
			TxHash: commit.Receipt.TxHash,
			URL:    c.VerificationURL(id),
		},
		Assets: staged,
	}, nil
}

// VerificationURL returns the public check page for id
func (c *CommitCoordinator) VerificationURL(id string) string {
	return c.verifyURL + "/check?id=" + url.QueryEscape(id)
}

func optional(u string) []string {
	if u == "" {
		return nil
	}
	return []string{u}
}
