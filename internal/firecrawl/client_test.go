package firecrawl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: time.Second, UserAgent: "test-agent"}, srv.Client())
}

func TestMapSendsSearchAndParsesBothLinkShapes(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/map", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://example.com", body["url"])
		require.Equal(t, "contact", body["search"])
		require.EqualValues(t, 5, body["limit"])
		_, _ = w.Write([]byte(`{"success":true,"links":["https://example.com/contact",{"url":"https://example.com/about","title":"About"}," "]}`))
	})

	links, err := client.Map(context.Background(), "key-1", outreach.MapRequest{URL: "https://example.com", Search: "contact", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/contact", "https://example.com/about"}, links)
}

func TestScrapeParsesData(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/scrape", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"html":"<a href=\"mailto:hello@example.com\">mail</a>","markdown":"hello","links":["https://example.com/faq"],"metadata":{"statusCode":200,"sourceURL":"https://example.com/contact"}}}`))
	})

	page, err := client.Scrape(context.Background(), "key", "https://example.com/contact")
	require.NoError(t, err)
	require.Equal(t, 200, page.StatusCode)
	require.Contains(t, page.HTML, "mailto:hello@example.com")
	require.Equal(t, []string{"https://example.com/faq"}, page.Links)
}

func TestScrapeTargetErrorStatusIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"html":"not found","metadata":{"statusCode":404}}}`))
	})
	_, err := client.Scrape(context.Background(), "key", "https://example.com/missing")
	require.Equal(t, outreach.ClassPermanent, outreach.ClassOf(err))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   outreach.ErrorClass
	}{
		{"payment required", http.StatusPaymentRequired, `{"success":false,"error":"Payment Required"}`, outreach.ClassQuota},
		{"insufficient credits", http.StatusForbidden, `{"success":false,"error":"Insufficient credits to perform this request."}`, outreach.ClassQuota},
		{"unsupported", http.StatusForbidden, `{"success":false,"error":"This website is not currently supported. Please reach out to help@firecrawl.com"}`, outreach.ClassUnsupported},
		{"rate limited", http.StatusTooManyRequests, `{"success":false,"error":"Rate limit exceeded"}`, outreach.ClassTransient},
		{"server error", http.StatusBadGateway, `upstream`, outreach.ClassTransient},
		{"success false", http.StatusOK, `{"success":false,"error":"try later"}`, outreach.ClassTransient},
		{"bad request", http.StatusBadRequest, `{"success":false,"error":"invalid url"}`, outreach.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Map(context.Background(), "key", outreach.MapRequest{URL: "https://example.com"})
			require.Error(t, err)
			var svcErr *outreach.ServiceError
			require.True(t, errors.As(err, &svcErr))
			require.Equal(t, tt.want, svcErr.Class)
			require.Equal(t, tt.status, svcErr.StatusCode)
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client())

	_, err := client.Map(context.Background(), "key", outreach.MapRequest{URL: "https://slow.example"})
	require.Error(t, err)
	require.Equal(t, outreach.ClassTransient, outreach.ClassOf(err))
}

func TestCallerCancellationIsNotClassified(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"links":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Map(ctx, "key", outreach.MapRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.Canceled)
}
