// Package firecrawl is an HTTP client for the Firecrawl v2 map and scrape endpoints.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/creator-outreach-sync/internal/blocklist"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const maxResponseBytes = 8 << 20

// Config points the client at a Firecrawl deployment.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client implements outreach.ExtractionClient against Firecrawl.
type Client struct {
	http      *http.Client
	baseURL   string
	timeout   time.Duration
	userAgent string
}

// New builds a Client. A nil httpClient uses http.DefaultTransport.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:      httpClient,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
	}
}

type mapRequest struct {
	URL     string `json:"url"`
	Search  string `json:"search,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Sitemap string `json:"sitemap"`
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

// Map lists URLs on a site. Links come back as plain strings or {url} objects
// depending on the API version, so both shapes are accepted.
func (c *Client) Map(ctx context.Context, apiKey string, req outreach.MapRequest) ([]string, error) {
	body, err := c.post(ctx, apiKey, "/v2/map", mapRequest{
		URL:     req.URL,
		Search:  req.Search,
		Limit:   req.Limit,
		Sitemap: "include",
	})
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", req.URL, err)
	}
	links := gjson.GetBytes(body, "links")
	if !links.Exists() {
		links = gjson.GetBytes(body, "data.links")
	}
	var out []string
	links.ForEach(func(_, value gjson.Result) bool {
		link := value.String()
		if value.IsObject() {
			link = value.Get("url").String()
		}
		if link = strings.TrimSpace(link); link != "" {
			out = append(out, link)
		}
		return true
	})
	return out, nil
}

// Scrape fetches one page as HTML plus markdown and its outgoing links.
func (c *Client) Scrape(ctx context.Context, apiKey string, pageURL string) (outreach.ScrapeResult, error) {
	body, err := c.post(ctx, apiKey, "/v2/scrape", scrapeRequest{
		URL:             pageURL,
		Formats:         []string{"html", "markdown", "links"},
		OnlyMainContent: false,
	})
	if err != nil {
		return outreach.ScrapeResult{}, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	data := gjson.GetBytes(body, "data")
	result := outreach.ScrapeResult{
		URL:        pageURL,
		StatusCode: int(data.Get("metadata.statusCode").Int()),
		HTML:       data.Get("html").String(),
		Markdown:   data.Get("markdown").String(),
	}
	if source := data.Get("metadata.sourceURL").String(); source != "" {
		result.URL = source
	}
	for _, link := range data.Get("links").Array() {
		if value := strings.TrimSpace(link.String()); value != "" {
			result.Links = append(result.Links, value)
		}
	}
	if result.StatusCode >= http.StatusBadRequest {
		return result, &outreach.ServiceError{
			Class:      outreach.ClassPermanent,
			StatusCode: result.StatusCode,
			Message:    "target page returned an error status",
		}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, apiKey, path string, payload any) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("send request: %w", err)
		}
		return nil, &outreach.ServiceError{Class: outreach.ClassTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &outreach.ServiceError{Class: outreach.ClassTransient, StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}
	if svcErr := classify(resp.StatusCode, body); svcErr != nil {
		return nil, svcErr
	}
	return body, nil
}

// classify maps a response to a ServiceError, or nil on success.
func classify(status int, body []byte) error {
	message := gjson.GetBytes(body, "error").String()
	if message == "" {
		message = gjson.GetBytes(body, "message").String()
	}
	success := gjson.GetBytes(body, "success")
	if status < http.StatusBadRequest && (!success.Exists() || success.Bool()) {
		return nil
	}
	if message == "" {
		message = http.StatusText(status)
	}

	svcErr := &outreach.ServiceError{StatusCode: status, Message: message}
	lower := strings.ToLower(message)
	switch {
	case blocklist.IsNotSupportedMessage(message):
		svcErr.Class = outreach.ClassUnsupported
	case status == http.StatusPaymentRequired,
		strings.Contains(lower, "insufficient credits"),
		strings.Contains(lower, "payment required"):
		svcErr.Class = outreach.ClassQuota
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		svcErr.Class = outreach.ClassTransient
	case status < http.StatusBadRequest:
		// success=false with a 2xx status
		svcErr.Class = outreach.ClassTransient
	default:
		svcErr.Class = outreach.ClassPermanent
	}
	return svcErr
}
