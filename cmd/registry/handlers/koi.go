package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/cmd/registry/middleware"
	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// KoiHandler handles certificate requests
type KoiHandler struct {
	coordinator *service.CommitCoordinator
	registry    *service.Registry
}

// NewKoiHandler creates a new koi handler
func NewKoiHandler(coordinator *service.CommitCoordinator, registry *service.Registry) *KoiHandler {
	return &KoiHandler{
		coordinator: coordinator,
		registry:    registry,
	}
}

// HistoryResponse lists entries newest first
type HistoryResponse struct {
	ID      string                `json:"id"`
	Entries []models.HistoryEntry `json:"entries"`
}

// AuthorizeResponse is the advisory ownership check for the caller
type AuthorizeResponse struct {
	ID        string `json:"id"`
	Principal string `json:"principal"`
	Decision  string `json:"decision"`
}

// Mint creates a certificate
// POST /api/v1/koi (multipart: fields + photo, cert, contest)
func (h *KoiHandler) Mint(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return respondError(c, fmt.Errorf("%w: multipart form: %v", sentinel.ErrInvalidInput, err))
	}

	attrs, err := attributesFromForm(form)
	if err != nil {
		return respondError(c, err)
	}

	in := service.MintInput{
		Principal:  middleware.GetPrincipal(c),
		ID:         formValue(form, "id"),
		Attributes: attrs,
		IssuerName: formValue(form, "issuer_name"),
		FatherID:   formValue(form, "father_id"),
		MotherID:   formValue(form, "mother_id"),
	}
	if in.Photo, err = fileFromForm(form, "photo"); err != nil {
		return respondError(c, err)
	}
	if in.Certificate, err = fileFromForm(form, "cert"); err != nil {
		return respondError(c, err)
	}
	if in.Contest, err = fileFromForm(form, "contest"); err != nil {
		return respondError(c, err)
	}

	confirmation, err := h.coordinator.Mint(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, confirmation)
}

// Transfer hands a certificate to a new owner
// POST /api/v1/koi/:id/transfer (multipart: new_owner, note, attribute fields, optional photo)
func (h *KoiHandler) Transfer(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return respondError(c, fmt.Errorf("%w: multipart form: %v", sentinel.ErrInvalidInput, err))
	}

	patch, err := patchFromForm(form)
	if err != nil {
		return respondError(c, err)
	}

	in := service.TransferInput{
		Principal:      middleware.GetPrincipal(c),
		ID:             c.Param("id"),
		NewOwner:       formValue(form, "new_owner"),
		NewOwnerName:   formValue(form, "new_owner_name"),
		AttributePatch: patch,
		Note:           formValue(form, "note"),
	}
	if in.Photo, err = fileFromForm(form, "photo"); err != nil {
		return respondError(c, err)
	}

	confirmation, err := h.coordinator.Transfer(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, confirmation)
}

// Update changes attributes and attaches documents
// POST /api/v1/koi/:id/update (multipart: note, attribute fields, optional photo, cert, contest)
func (h *KoiHandler) Update(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return respondError(c, fmt.Errorf("%w: multipart form: %v", sentinel.ErrInvalidInput, err))
	}

	patch, err := patchFromForm(form)
	if err != nil {
		return respondError(c, err)
	}

	in := service.UpdateInput{
		Principal:      middleware.GetPrincipal(c),
		ID:             c.Param("id"),
		AttributePatch: patch,
		Note:           formValue(form, "note"),
	}
	if in.Photo, err = fileFromForm(form, "photo"); err != nil {
		return respondError(c, err)
	}
	if in.Certificate, err = fileFromForm(form, "cert"); err != nil {
		return respondError(c, err)
	}
	if in.Contest, err = fileFromForm(form, "contest"); err != nil {
		return respondError(c, err)
	}

	confirmation, err := h.coordinator.Update(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, confirmation)
}

// Get returns the current record
// GET /api/v1/koi/:id
func (h *KoiHandler) Get(c echo.Context) error {
	rec, err := h.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// GetHistory returns the ownership and attribute history, newest first
// GET /api/v1/koi/:id/history
func (h *KoiHandler) GetHistory(c echo.Context) error {
	id := c.Param("id")

	seq, err := h.registry.GetHistory(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	entries := slices.Collect(seq)
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{ID: id, Entries: entries})
}

// GetLineage returns the parents recorded at mint
// GET /api/v1/koi/:id/lineage
func (h *KoiHandler) GetLineage(c echo.Context) error {
	lineage, err := h.registry.Lineage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, lineage)
}

// GetPedigree returns the ancestor tree
// GET /api/v1/koi/:id/pedigree?depth=3
func (h *KoiHandler) GetPedigree(c echo.Context) error {
	depth := 0
	if raw := c.QueryParam("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return respondError(c, fmt.Errorf("%w: depth must be a non-negative integer", sentinel.ErrInvalidInput))
		}
		depth = n
	}

	tree, err := h.registry.Pedigree(c.Request().Context(), c.Param("id"), depth)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tree)
}

// Authorize tells the caller whether they may transfer or update the record
// GET /api/v1/koi/:id/authorize
func (h *KoiHandler) Authorize(c echo.Context) error {
	id := c.Param("id")
	principal := middleware.GetPrincipal(c)

	decision, err := h.registry.Guard().Authorize(c.Request().Context(), id, principal)
	if err != nil {
		return respondError(c, err)
	}
	if decision == service.RecordNotFound {
		return respondError(c, fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, id))
	}

	return c.JSON(http.StatusOK, AuthorizeResponse{
		ID:        id,
		Principal: principal,
		Decision:  decision.String(),
	})
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// attributesFromForm reads the mint attribute fields
func attributesFromForm(form *multipart.Form) (models.Attributes, error) {
	attrs := models.Attributes{
		Variety:       formValue(form, "variety"),
		BreederName:   formValue(form, "breeder"),
		Gender:        formValue(form, "gender"),
		AgeLabel:      formValue(form, "age"),
		ConditionNote: formValue(form, "condition"),
	}

	if raw := formValue(form, "size_cm"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return attrs, fmt.Errorf("%w: size_cm must be an integer", sentinel.ErrInvalidInput)
		}
		attrs.SizeCm = size
	}
	return attrs, nil
}

// patchFromForm builds a merge patch from either an explicit "attributes"
// JSON field or the individual attribute fields that were sent
func patchFromForm(form *multipart.Form) (json.RawMessage, error) {
	if raw := formValue(form, "attributes"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("%w: attributes must be a JSON merge patch", sentinel.ErrInvalidInput)
		}
		return json.RawMessage(raw), nil
	}

	patch := map[string]interface{}{}
	for _, key := range []string{"variety", "breeder", "gender", "age", "condition"} {
		if _, sent := form.Value[key]; sent {
			patch[key] = formValue(form, key)
		}
	}
	if raw := formValue(form, "size_cm"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: size_cm must be an integer", sentinel.ErrInvalidInput)
		}
		patch["size_cm"] = size
	}

	if len(patch) == 0 {
		return nil, nil
	}
	return json.Marshal(patch)
}

// fileFromForm reads an optional upload
func fileFromForm(form *multipart.Form, key string) (*service.Asset, error) {
	files := form.File[key]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", sentinel.ErrInvalidInput, key, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", sentinel.ErrInvalidInput, key, err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return &service.Asset{
		Data:        data,
		ContentType: contentType,
		Filename:    header.Filename,
	}, nil
}
