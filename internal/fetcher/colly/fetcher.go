// Package collyfetcher implements outreach.ExtractionClient by fetching pages
// directly with gocolly. It needs no API key and is meant for local runs.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Client fetches pages with a Colly collector cloned per call.
type Client struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// page is what one visit produced.
type page struct {
	url        string
	statusCode int
	body       []byte
	anchors    []anchor
	err        error
}

type anchor struct {
	href string
	text string
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger.Named("colly"),
	}
}

// Map visits the site root and returns same-host links whose URL or anchor
// text mentions req.Search, capped at req.Limit.
func (c *Client) Map(ctx context.Context, _ string, req outreach.MapRequest) ([]string, error) {
	result, err := c.visit(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", req.URL, err)
	}
	root, err := url.Parse(result.url)
	if err != nil {
		return nil, fmt.Errorf("map %s: parse final url: %w", req.URL, err)
	}
	search := strings.ToLower(strings.TrimSpace(req.Search))
	seen := make(map[string]struct{})
	var links []string
	for _, a := range result.anchors {
		u, err := url.Parse(a.href)
		if err != nil || !sameSite(root, u) {
			continue
		}
		u.Fragment = ""
		link := u.String()
		if _, dup := seen[link]; dup {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(link), search) &&
			!strings.Contains(strings.ToLower(a.text), search) {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
		if req.Limit > 0 && len(links) >= req.Limit {
			break
		}
	}
	return links, nil
}

// Scrape fetches one page and returns its HTML and absolute links.
func (c *Client) Scrape(ctx context.Context, _ string, pageURL string) (outreach.ScrapeResult, error) {
	result, err := c.visit(ctx, pageURL)
	if err != nil {
		return outreach.ScrapeResult{}, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	out := outreach.ScrapeResult{
		URL:        result.url,
		StatusCode: result.statusCode,
		HTML:       string(result.body),
	}
	for _, a := range result.anchors {
		out.Links = append(out.Links, a.href)
	}
	return out, nil
}

func (c *Client) visit(ctx context.Context, target string) (page, error) {
	var result page
	collector, robotsState := c.buildCollector(&result)
	err := c.runCollector(ctx, collector, target, &result)
	if robotsState != nil {
		if reason, ok := robotsState.fallbackReason(hostOf(target)); ok {
			c.logger.Debug("robots.txt unavailable, treating as allow-all",
				zap.String("url", target), zap.String("reason", reason))
		}
	}
	if err != nil {
		return page{}, err
	}
	return result, nil
}

func (c *Client) buildCollector(result *page) (*colly.Collector, *robotsProbeState) {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	var robotsState *robotsProbeState
	baseTransport := c.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if c.cfg.RespectRobots {
		robotsState = newRobotsProbeState()
		collector.WithTransport(&robotsAwareTransport{base: baseTransport, state: robotsState})
	} else {
		collector.WithTransport(baseTransport)
	}

	configureCollectorHooks(collector, result)
	return collector, robotsState
}

func configureCollectorHooks(hooks collectorHooks, result *page) {
	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.statusCode = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" {
			return
		}
		result.anchors = append(result.anchors, anchor{href: href, text: strings.TrimSpace(e.Text)})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.statusCode = r.StatusCode
		}
		result.err = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string, result *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if err == nil {
			return nil
		}
		return classifyVisitError(result.statusCode, err)
	}
}

// classifyVisitError maps a failed visit onto the extraction error classes.
func classifyVisitError(status int, err error) error {
	svcErr := &outreach.ServiceError{StatusCode: status, Message: err.Error(), Err: err}
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain):
		svcErr.Class = outreach.ClassUnsupported
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		svcErr.Class = outreach.ClassTransient
	case status >= http.StatusBadRequest:
		svcErr.Class = outreach.ClassPermanent
	default:
		svcErr.Class = outreach.ClassTransient
	}
	return svcErr
}

func sameSite(root, u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return outreach.NormalizeDomain(u.Hostname()) == outreach.NormalizeDomain(root.Hostname())
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
