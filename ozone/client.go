package ozone

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/skywatch-bsky/skywatch-automod/ratelimit"
)

// moderation API endpoints
const (
	methodEmitEvent    = "tools.ozone.moderation.emitEvent"
	methodCreateReport = "com.atproto.moderation.createReport"
)

const reasonOther = "com.atproto.moderation.defs#reasonOther"

// Client is a thin client for the remote moderation service. Every call runs
// inside the rate gate, and every response (success or failure) feeds its
// quota headers back into the shared rate state.
type Client struct {
	Host       string
	AdminToken string
	// AdminDID is recorded as createdBy on emitted moderation events.
	AdminDID   string
	Gate       *ratelimit.Gate
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

func NewClient(host, adminToken, adminDID string, gate *ratelimit.Gate, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Host:       host,
		AdminToken: adminToken,
		AdminDID:   adminDID,
		Gate:       gate,
		HTTPClient: RobustHTTPClient(logger),
		Logger:     logger.With("system", "ozone"),
	}
}

// APIError is a typed failure from the moderation service.
type APIError struct {
	StatusCode int
	ErrStr     string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrStr == "" {
		return fmt.Sprintf("moderation API error %d", e.StatusCode)
	}
	return fmt.Sprintf("moderation API error %d: %s: %s", e.StatusCode, e.ErrStr, e.Message)
}

func (e *APIError) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func repoRef(did string) map[string]any {
	return map[string]any{
		"$type": "com.atproto.admin.defs#repoRef",
		"did":   did,
	}
}

func strongRef(uri, cid string) map[string]any {
	ref := map[string]any{
		"$type": "com.atproto.repo.strongRef",
		"uri":   uri,
	}
	if cid != "" {
		ref["cid"] = cid
	}
	return ref
}

// ApplyAccountLabel applies a label to an account record.
func (c *Client) ApplyAccountLabel(ctx context.Context, did, label string) error {
	body := map[string]any{
		"event": map[string]any{
			"$type":           "tools.ozone.moderation.defs#modEventLabel",
			"createLabelVals": []string{label},
			"negateLabelVals": []string{},
		},
		"subject":   repoRef(did),
		"createdBy": c.AdminDID,
	}
	return c.do(ctx, methodEmitEvent, "account-label", body)
}

// ApplyPostLabel applies a label to a single record, identified by its URI
// and (optionally) content hash.
func (c *Client) ApplyPostLabel(ctx context.Context, uri, cid, label string) error {
	body := map[string]any{
		"event": map[string]any{
			"$type":           "tools.ozone.moderation.defs#modEventLabel",
			"createLabelVals": []string{label},
			"negateLabelVals": []string{},
		},
		"subject":   strongRef(uri, cid),
		"createdBy": c.AdminDID,
	}
	return c.do(ctx, methodEmitEvent, "post-label", body)
}

// ReportAccount files a moderation report against an account.
func (c *Client) ReportAccount(ctx context.Context, did, reason string) error {
	body := map[string]any{
		"reasonType": reasonOther,
		"reason":     reason,
		"subject":    repoRef(did),
	}
	return c.do(ctx, methodCreateReport, "report", body)
}

// CommentAccount adds a moderator-visible comment to an account's event log.
func (c *Client) CommentAccount(ctx context.Context, did, comment string) error {
	body := map[string]any{
		"event": map[string]any{
			"$type":   "tools.ozone.moderation.defs#modEventComment",
			"comment": comment,
		},
		"subject":   repoRef(did),
		"createdBy": c.AdminDID,
	}
	return c.do(ctx, methodEmitEvent, "comment", body)
}

func (c *Client) do(ctx context.Context, method, kind string, body any) error {
	err := c.Gate.Dispatch(ctx, func(ctx context.Context) error {
		return c.post(ctx, method, body)
	})
	if err != nil {
		actionErrorCount.WithLabelValues(kind).Inc()
		return err
	}
	actionCount.WithLabelValues(kind).Inc()
	return nil
}

func (c *Client) post(ctx context.Context, method string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/xrpc/"+method, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:"+c.AdminToken)))
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	// quota headers are authoritative even on failed calls
	c.Gate.UpdateFromResponse(resp)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr); err != nil {
			c.Logger.Debug("undecodable moderation API error body", "method", method, "status", resp.StatusCode, "err", err)
		}
		return apiErr
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
