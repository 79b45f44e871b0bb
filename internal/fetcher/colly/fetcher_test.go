package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const homePage = `<html><body>
<a href="/contact">Get in touch</a>
<a href="/about">About us</a>
<a href="/pages/contact-us#form">Contact form</a>
<a href="/shop">Shop</a>
<a href="https://instagram.com/maker">Instagram</a>
<a href="mailto:hi@example.com">Email</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<form><textarea name="message"></textarea></form><a href="/">home</a>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMapFiltersSameSiteLinksBySearch(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	client := New(Config{Timeout: time.Second}, nil)

	links, err := client.Map(context.Background(), "", outreach.MapRequest{URL: srv.URL, Search: "contact", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/contact", srv.URL + "/pages/contact-us"}, links)

	limited, err := client.Map(context.Background(), "", outreach.MapRequest{URL: srv.URL, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestScrapeReturnsBodyAndLinks(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	client := New(Config{UserAgent: "outreach-test", Timeout: time.Second}, nil)

	page, err := client.Scrape(context.Background(), "", srv.URL+"/contact")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, page.HTML, "<textarea")
	require.Equal(t, []string{srv.URL + "/"}, page.Links)
}

func TestScrapeClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	client := New(Config{Timeout: time.Second}, nil)

	_, err := client.Scrape(context.Background(), "", srv.URL+"/missing")
	require.Equal(t, outreach.ClassPermanent, outreach.ClassOf(err))

	_, err = client.Scrape(context.Background(), "", srv.URL+"/broken")
	require.Equal(t, outreach.ClassTransient, outreach.ClassOf(err))
}

func TestScrapeRobotsDisallowIsUnsupported(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	client := New(Config{RespectRobots: true, Timeout: time.Second}, nil)

	_, err := client.Scrape(context.Background(), "", srv.URL+"/private")
	require.Error(t, err)
	require.Equal(t, outreach.ClassUnsupported, outreach.ClassOf(err))
}

func TestBuildCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	client := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second}, nil)
	collector, state := client.buildCollector(&page{})
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.NotNil(t, state)

	client = New(Config{}, nil)
	collector, state = client.buildCollector(&page{})
	require.True(t, collector.IgnoreRobotsTxt)
	require.Nil(t, state)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var result page
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &result)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onHTML)
	require.NotNil(t, hooks.onError)
	require.Equal(t, "a[href]", hooks.selector)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/contact")},
	})
	require.Equal(t, http.StatusCreated, result.statusCode)
	require.Equal(t, "body", string(result.body))
	require.Equal(t, "https://example.com/contact", result.url)

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("boom"))
	require.EqualError(t, result.err, "boom")
	require.Equal(t, http.StatusNotFound, result.statusCode)
}

func TestClassifyVisitError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		err    error
		want   outreach.ErrorClass
	}{
		{"robots", 0, colly.ErrRobotsTxtBlocked, outreach.ClassUnsupported},
		{"network", 0, errors.New("connection refused"), outreach.ClassTransient},
		{"rate limited", http.StatusTooManyRequests, errors.New("Too Many Requests"), outreach.ClassTransient},
		{"server", http.StatusServiceUnavailable, errors.New("Service Unavailable"), outreach.ClassTransient},
		{"not found", http.StatusNotFound, errors.New("Not Found"), outreach.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, outreach.ClassOf(classifyVisitError(tt.status, tt.err)))
		})
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onHTML     colly.HTMLCallback
	selector   string
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
