package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/koicert/registry/cmd/registry/container"
	"github.com/koicert/registry/cmd/registry/handlers"
	"github.com/koicert/registry/cmd/registry/routes"
	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/blobstore"
	"github.com/koicert/registry/common/bootstrap"
	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

const (
	ownerA = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	ownerB = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	ownerC = "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
)

type KoiHandlerSuite struct {
	suite.Suite
	e      *echo.Echo
	ledger *ledger.MemoryLedger
	store  *blobstore.MemoryStore
}

func TestKoiHandlerSuite(t *testing.T) {
	suite.Run(t, new(KoiHandlerSuite))
}

func (s *KoiHandlerSuite) SetupTest() {
	log := logger.Discard()
	cfg := &config.Config{
		Blob: config.BlobConfig{Bucket: "koi-assets"},
	}

	s.ledger = ledger.NewMemoryLedger()
	s.store = blobstore.NewMemoryStore("koi-assets", "http://localhost:8080/assets")
	reg := service.NewRegistry(s.ledger, log)
	stager := service.NewAssetStager(s.store, 1<<20, nil, log)

	c := &container.Container{
		Components:  &bootstrap.Components{Config: cfg, Logger: log},
		Store:       s.store,
		Registry:    reg,
		Stager:      stager,
		Coordinator: service.NewCommitCoordinator(stager, reg, reg.Guard(), "http://localhost:3000", log),
	}

	s.e = echo.New()
	routes.RegisterKoiRoutes(s.e, c)
	routes.RegisterAssetRoutes(s.e, c)
}

type part struct {
	name, filename, contentType string
	data                        []byte
}

func (s *KoiHandlerSuite) multipart(method, path, principal string, fields map[string]string, files ...part) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		s.Require().NoError(w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.name, f.filename)}
		h["Content-Type"] = []string{f.contentType}
		pw, err := w.CreatePart(h)
		s.Require().NoError(err)
		_, err = pw.Write(f.data)
		s.Require().NoError(err)
	}
	s.Require().NoError(w.Close())

	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	if principal != "" {
		req.Header.Set(clients.HeaderPrincipal, principal)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *KoiHandlerSuite) get(path, principal string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if principal != "" {
		req.Header.Set(clients.HeaderPrincipal, principal)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func photo() part {
	return part{name: "photo", filename: "koi.jpg", contentType: "image/jpeg", data: []byte("jpeg bytes")}
}

func (s *KoiHandlerSuite) mint(id string) service.Confirmation {
	rec := s.multipart(http.MethodPost, "/api/v1/koi", ownerA, map[string]string{
		"id":      id,
		"variety": "Kohaku",
		"breeder": "Sakai",
		"size_cm": "55",
	}, photo())
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var out service.Confirmation
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *KoiHandlerSuite) TestMintTransferAndRead() {
	minted := s.mint("KOI-001")
	s.Equal(ownerA, minted.Record.CurrentOwnerPrincipal)
	s.Equal(int64(55), minted.Record.Attributes.SizeCm)
	s.Equal("http://localhost:3000/check?id=KOI-001", minted.Verification.URL)
	s.Require().Len(minted.Assets, 1)

	rec := s.multipart(http.MethodPost, "/api/v1/koi/KOI-001/transfer", ownerA, map[string]string{
		"new_owner": ownerB,
		"note":      "sold",
		"size_cm":   "60",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.get("/api/v1/koi/KOI-001", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var record models.KoiRecord
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &record))
	s.Equal(ownerB, record.CurrentOwnerPrincipal)
	s.Equal(int64(60), record.Attributes.SizeCm)
	s.Equal("Kohaku", record.Attributes.Variety)

	rec = s.get("/api/v1/koi/KOI-001/history", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var history handlers.HistoryResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &history))
	s.Require().Len(history.Entries, 2)
	s.Equal(ownerB, history.Entries[0].OwnerPrincipal)
	s.Equal("sold", history.Entries[0].Note)

	rec = s.get("/assets/koi-assets/"+minted.Assets[0].ID, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("jpeg bytes", rec.Body.String())
	s.Equal("image/jpeg", rec.Header().Get(echo.HeaderContentType))
}

func (s *KoiHandlerSuite) TestUnauthorizedUpdateIsForbidden() {
	s.mint("KOI-002")

	rec := s.multipart(http.MethodPost, "/api/v1/koi/KOI-002/update", ownerC, map[string]string{"note": "not mine"}, photo())
	s.Equal(http.StatusForbidden, rec.Code)

	var body handlers.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("not_authorized", body.Error)
	s.Equal("failed", body.State)
	s.Equal(1, s.store.Len(), "only the minted photo remains")
}

func (s *KoiHandlerSuite) TestDuplicateMintConflicts() {
	s.mint("KOI-003")

	rec := s.multipart(http.MethodPost, "/api/v1/koi", ownerB, map[string]string{"id": "KOI-003"}, photo())
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), "duplicate_id")
}

func (s *KoiHandlerSuite) TestMutationsRequirePrincipal() {
	rec := s.multipart(http.MethodPost, "/api/v1/koi", "", map[string]string{"id": "KOI-004"}, photo())
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *KoiHandlerSuite) TestMintWithoutPhotoIsInvalid() {
	rec := s.multipart(http.MethodPost, "/api/v1/koi", ownerA, map[string]string{"id": "KOI-005"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "invalid_input")
}

func (s *KoiHandlerSuite) TestLedgerOutageIsUnavailable() {
	s.ledger.SetUnavailable(true)

	rec := s.multipart(http.MethodPost, "/api/v1/koi", ownerA, map[string]string{"id": "KOI-006"}, photo())
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	var body handlers.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.True(body.RolledBack)
	s.Equal(0, s.store.Len())
}

func (s *KoiHandlerSuite) TestReadsOfUnknownRecords() {
	s.Equal(http.StatusNotFound, s.get("/api/v1/koi/NOPE", "").Code)

	rec := s.get("/api/v1/koi/NOPE/history", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"id":"NOPE","entries":[]}`, rec.Body.String())

	s.Equal(http.StatusNotFound, s.get("/api/v1/koi/NOPE/authorize", ownerA).Code)
	s.Equal(http.StatusNotFound, s.get("/assets/koi-assets/photos/missing.jpg", "").Code)
	s.Equal(http.StatusNotFound, s.get("/assets/other-bucket/photos/missing.jpg", "").Code)
}

func (s *KoiHandlerSuite) TestAuthorizeReportsDecision() {
	s.mint("KOI-007")

	rec := s.get("/api/v1/koi/KOI-007/authorize", strings.ToLower(ownerA))
	s.Require().Equal(http.StatusOK, rec.Code)
	var out handlers.AuthorizeResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Equal("authorized", out.Decision)

	rec = s.get("/api/v1/koi/KOI-007/authorize", ownerB)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Equal("not_authorized", out.Decision)
}

func (s *KoiHandlerSuite) TestPedigreeDepthValidation() {
	s.mint("KOI-008")

	s.Equal(http.StatusOK, s.get("/api/v1/koi/KOI-008/pedigree?depth=2", "").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/v1/koi/KOI-008/pedigree?depth=-1", "").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/v1/koi/KOI-008/pedigree?depth=deep", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{sentinel.ErrOutcomeUnknown, http.StatusAccepted},
		{sentinel.ErrDuplicateID, http.StatusConflict},
		{sentinel.ErrLineageAlreadySet, http.StatusConflict},
		{ledger.Rejected(errors.New("stale owner")), http.StatusConflict},
		{sentinel.ErrRecordNotFound, http.StatusNotFound},
		{sentinel.ErrAssetNotFound, http.StatusNotFound},
		{sentinel.ErrNotAuthorized, http.StatusForbidden},
		{sentinel.ErrInvalidInput, http.StatusBadRequest},
		{sentinel.ErrAssetStagingFailed, http.StatusBadGateway},
		{sentinel.ErrLedgerUnreachable, http.StatusServiceUnavailable},
		{sentinel.ErrRecordBusy, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, handlers.StatusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
