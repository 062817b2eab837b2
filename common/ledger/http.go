package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/sentinel"
)

// ErrorBody is the error payload of the ledger node API
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPLedger talks to a ledger node over its HTTP gateway
type HTTPLedger struct {
	baseURL     string
	http        *clients.HTTPClient
	readTimeout time.Duration
	logger      clients.Logger
}

// NewHTTPLedger creates a client for the ledger node at baseURL
// readTimeout bounds GET calls; commit calls are bounded by the caller's context.
// The http.Client carries no Timeout of its own so a commit can run until
// the submit deadline.
func NewHTTPLedger(baseURL string, readTimeout time.Duration, logger clients.Logger) *HTTPLedger {
	return &HTTPLedger{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        clients.NewHTTPClient(&http.Client{}, logger),
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// NewHTTPLedgerWithClient uses an explicit http.Client (tests)
func NewHTTPLedgerWithClient(baseURL string, client *http.Client, logger clients.Logger) *HTTPLedger {
	return &HTTPLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    clients.NewHTTPClient(client, logger),
		logger:  logger,
	}
}

// MintCertificate submits a mint and waits for confirmation
func (l *HTTPLedger) MintCertificate(ctx context.Context, call MintCall) (Receipt, error) {
	return l.commit(ctx, "mint", call.Caller, call.ID, call)
}

// TransferOwnership submits a transfer and waits for confirmation
func (l *HTTPLedger) TransferOwnership(ctx context.Context, call TransferCall) (Receipt, error) {
	return l.commit(ctx, "transfer", call.Caller, call.ID, call)
}

// UpdateKoiStats submits an update and waits for confirmation
func (l *HTTPLedger) UpdateKoiStats(ctx context.Context, call UpdateCall) (Receipt, error) {
	return l.commit(ctx, "update", call.Caller, call.ID, call)
}

// GetKoi fetches the record tuple
func (l *HTTPLedger) GetKoi(ctx context.Context, id string) (json.RawMessage, error) {
	return l.read(ctx, fmt.Sprintf("%s/ledger/v1/koi/%s", l.baseURL, url.PathEscape(id)))
}

// GetKoiHistory fetches the history tuples, oldest first
func (l *HTTPLedger) GetKoiHistory(ctx context.Context, id string) (json.RawMessage, error) {
	return l.read(ctx, fmt.Sprintf("%s/ledger/v1/koi/%s/history", l.baseURL, url.PathEscape(id)))
}

func (l *HTTPLedger) commit(ctx context.Context, op, caller, id string, call interface{}) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", sentinel.ErrLedgerUnreachable, err)
	}

	body, err := json.Marshal(call)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode %s call: %w", op, err)
	}

	ctx = clients.WithPrincipal(ctx, caller)
	resp, err := l.http.DoRequest(ctx, http.MethodPost, fmt.Sprintf("%s/ledger/v1/%s", l.baseURL, op), bytes.NewReader(body))
	if err != nil {
		if isDialError(err) {
			l.logger.Warn("ledger unreachable", "op", op, "record_id", id, "error", err)
			return Receipt{}, fmt.Errorf("%w: %v", sentinel.ErrLedgerUnreachable, err)
		}
		// The request may have reached the node; only a re-read can tell
		l.logger.Error("ledger submission outcome unknown", "op", op, "record_id", id, "error", err)
		return Receipt{}, fmt.Errorf("%w: %s %s: %v", sentinel.ErrOutcomeUnknown, op, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var receipt Receipt
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			// Confirmed, but the receipt is unreadable
			return Receipt{}, fmt.Errorf("%w: undecodable receipt for %s %s: %v", sentinel.ErrOutcomeUnknown, op, id, err)
		}
		return receipt, nil
	}

	return Receipt{}, l.mapError(resp, true)
}

func (l *HTTPLedger) read(ctx context.Context, target string) (json.RawMessage, error) {
	if l.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.readTimeout)
		defer cancel()
	}

	resp, err := l.http.DoRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrLedgerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, l.mapError(resp, false)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", sentinel.ErrLedgerUnreachable, err)
	}
	return json.RawMessage(raw), nil
}

// mapError converts a non-success response into the failure taxonomy
func (l *HTTPLedger) mapError(resp *http.Response, isCommit bool) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body ErrorBody
	_ = json.Unmarshal(raw, &body)
	detail := body.Message
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}

	switch body.Code {
	case "unavailable":
		return fmt.Errorf("%w: %s", sentinel.ErrLedgerUnreachable, detail)
	case "record_not_found":
		return fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, detail)
	case "duplicate_id", "not_authorized", "invalid_input":
		return Rejected(fmt.Errorf("%w: %s", sentinel.FromCode(body.Code), detail))
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status=%d", sentinel.ErrLedgerUnreachable, resp.StatusCode)
	case resp.StatusCode >= 500 && isCommit:
		return fmt.Errorf("%w: status=%d, body=%s", sentinel.ErrOutcomeUnknown, resp.StatusCode, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%d, body=%s", sentinel.ErrLedgerUnreachable, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusNotFound && !isCommit:
		return fmt.Errorf("%w: %s", sentinel.ErrRecordNotFound, detail)
	default:
		return Rejected(fmt.Errorf("unexpected status=%d, body=%s", resp.StatusCode, detail))
	}
}

// isDialError reports whether err happened before any byte reached the node
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
