package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
)

const (
	responseBodyReadLimit int64 = 1024
)

var (
	errBaseURLRequired = errors.New("catalog base url is required")
)

// Paper is the catalog view of one exam paper.
type Paper struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	SubCategory string         `json:"sub_category"`
	TestType    enums.TestType `json:"test_type"`
	Published   bool           `json:"published"`
	Taken       bool           `json:"taken"`
}

// AvailableQuery filters the unclaimed-papers listing.
type AvailableQuery struct {
	TestType    enums.TestType
	SubCategory string
	Search      string
}

// Client talks to the external Paper Catalog service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds the catalog client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	return client, nil
}

// GetPapers fetches catalog metadata for the given paper IDs.
func (c *Client) GetPapers(ctx context.Context, ids []uuid.UUID) ([]Paper, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one paper ID is required")
	}

	payload, err := json.Marshal(struct {
		IDs []uuid.UUID `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal papers lookup request")
	}

	var apiResp struct {
		Papers []Paper `json:"papers"`
	}
	if err := c.do(ctx, http.MethodPost, "papers/lookup", payload, &apiResp); err != nil {
		return nil, err
	}
	return apiResp.Papers, nil
}

// VerifyPublished confirms every listed paper exists and is published. It
// returns the IDs that failed the check.
func (c *Client) VerifyPublished(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	papers, err := c.GetPapers(ctx, ids)
	if err != nil {
		return nil, err
	}

	published := make(map[uuid.UUID]bool, len(papers))
	for _, p := range papers {
		published[p.ID] = p.Published
	}

	var unpublished []uuid.UUID
	for _, id := range ids {
		if !published[id] {
			unpublished = append(unpublished, id)
		}
	}
	return unpublished, nil
}

// ListAvailable returns published papers not yet claimed by any offer.
func (c *Client) ListAvailable(ctx context.Context, query AvailableQuery) ([]Paper, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}

	params := url.Values{}
	params.Set("taken", "false")
	params.Set("published", "true")
	if query.TestType != "" {
		params.Set("test_type", query.TestType.String())
	}
	if query.SubCategory != "" {
		params.Set("sub_category", query.SubCategory)
	}
	if strings.TrimSpace(query.Search) != "" {
		params.Set("search", strings.TrimSpace(query.Search))
	}

	var apiResp struct {
		Papers []Paper `json:"papers"`
	}
	if err := c.do(ctx, http.MethodGet, "papers?"+params.Encode(), nil, &apiResp); err != nil {
		return nil, err
	}
	return apiResp.Papers, nil
}

// ClaimPapers marks the papers as taken by the given offer.
func (c *Client) ClaimPapers(ctx context.Context, subscriptionID uuid.UUID, ids []uuid.UUID) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	if len(ids) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one paper ID is required")
	}

	payload, err := json.Marshal(struct {
		SubscriptionID uuid.UUID   `json:"subscription_id"`
		PaperIDs       []uuid.UUID `json:"paper_ids"`
	}{SubscriptionID: subscriptionID, PaperIDs: ids})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal claim papers request")
	}

	return c.do(ctx, http.MethodPost, "papers/claim", payload, nil)
}

// ReleasePapers returns papers to the unclaimed pool. Releasing an already
// released paper is a no-op on the catalog side.
func (c *Client) ReleasePapers(ctx context.Context, ids []uuid.UUID) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	if len(ids) == 0 {
		return nil
	}

	payload, err := json.Marshal(struct {
		PaperIDs []uuid.UUID `json:"paper_ids"`
	}{PaperIDs: ids})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal release papers request")
	}

	return c.do(ctx, http.MethodPost, "papers/release", payload, nil)
}

// Ping checks catalog reachability for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build catalog request")
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute catalog request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "catalog request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode catalog response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
