package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// RegistryClient handles communication with the registry API
// The acting principal travels in the context, see WithPrincipal.
type RegistryClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewRegistryClient creates a new registry client
// Mutations wait for ledger confirmation, so the timeout is generous.
func NewRegistryClient(baseURL string, timeout time.Duration, logger Logger) *RegistryClient {
	return &RegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

// APIError is a failed registry response
type APIError struct {
	Status  int
	Code    string
	Message string
	State   string
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("registry %d %s (%s): %s", e.Status, e.Code, e.State, e.Message)
	}
	return fmt.Sprintf("registry %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the sentinel matching Code
func (e *APIError) Unwrap() error {
	return sentinel.FromCode(e.Code)
}

// Upload is a file attached to a mutation
type Upload struct {
	Field    string // photo, cert or contest
	Filename string
	Data     []byte
}

// Form is a multipart mutation request
type Form struct {
	Fields  map[string]string
	Uploads []Upload
}

// Get fetches the current record
func (c *RegistryClient) Get(ctx context.Context, id string) (*models.KoiRecord, error) {
	var rec models.KoiRecord
	if err := c.getJSON(ctx, c.koiURL(id, ""), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// History fetches history entries, newest first
func (c *RegistryClient) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	var out struct {
		Entries []models.HistoryEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, c.koiURL(id, "/history"), &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Pedigree fetches the ancestor tree as returned by the registry
func (c *RegistryClient) Pedigree(ctx context.Context, id string, depth int) (json.RawMessage, error) {
	target := c.koiURL(id, "/pedigree")
	if depth > 0 {
		target += fmt.Sprintf("?depth=%d", depth)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, target, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Mint creates a certificate and returns the confirmation body
func (c *RegistryClient) Mint(ctx context.Context, form Form) (json.RawMessage, error) {
	return c.postForm(ctx, c.baseURL+"/api/v1/koi", form)
}

// Transfer hands a certificate to a new owner
func (c *RegistryClient) Transfer(ctx context.Context, id string, form Form) (json.RawMessage, error) {
	return c.postForm(ctx, c.koiURL(id, "/transfer"), form)
}

// Update changes attributes or attaches documents
func (c *RegistryClient) Update(ctx context.Context, id string, form Form) (json.RawMessage, error) {
	return c.postForm(ctx, c.koiURL(id, "/update"), form)
}

func (c *RegistryClient) koiURL(id, suffix string) string {
	return fmt.Sprintf("%s/api/v1/koi/%s%s", c.baseURL, url.PathEscape(id), suffix)
}

func (c *RegistryClient) getJSON(ctx context.Context, target string, out interface{}) error {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode registry response: %w", err)
	}
	return nil
}

func (c *RegistryClient) postForm(ctx context.Context, target string, form Form) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for k, v := range form.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, u := range form.Uploads {
		part, err := w.CreateFormFile(u.Field, u.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", u.Field, err)
		}
		if _, err := part.Write(u.Data); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", u.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	c.logger.Debug("submitting registry mutation", "url", target, "uploads", len(form.Uploads))

	resp, err := c.http.Do(ctx, http.MethodPost, target, w.FormDataContentType(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}
	return json.RawMessage(raw), nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Code: "internal", Message: strings.TrimSpace(string(raw))}
	}

	return &APIError{Status: resp.StatusCode, Code: body.Error, Message: body.Message, State: body.State}
}
