package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/credentials"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/report"
)

func TestHealthzAndRequestID(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	NewServer(Deps{}, nil).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsDatabase(t *testing.T) {
	t.Parallel()

	ok := serve(t, NewServer(Deps{DB: fakePinger{}}, nil), "/readyz")
	require.Equal(t, http.StatusOK, ok.Code)

	down := serve(t, NewServer(Deps{DB: fakePinger{err: errors.New("dial tcp: refused")}}, nil), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, down.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLastRun(t *testing.T) {
	t.Parallel()

	reporter := report.New(nil, nil, report.Config{}, nil)
	server := NewServer(Deps{Runs: reporter}, nil)

	require.Equal(t, http.StatusNotFound, serve(t, server, "/v1/runs/last").Code)

	reporter.Record(context.Background(), outreach.RunSummary{
		RunID:        "run-9",
		StartedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Processed:    4,
		StatusCounts: map[outreach.ContactStatus]int{outreach.ContactNotFound: 4},
	}, nil)

	rec := serve(t, server, "/v1/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run report.RunCompleted `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-9", body.Run.RunID)
	require.Equal(t, 4, body.Run.Summary.StatusCounts[outreach.ContactNotFound])
}

func TestCredentialStats(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(Deps{}, nil), "/v1/credentials").Code)

	rec := serve(t, NewServer(Deps{Pool: fakePool{Total: 3, Active: 2, Exhausted: 1}}, nil), "/v1/credentials")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]credentials.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, credentials.Stats{Total: 3, Active: 2, Exhausted: 1}, body["credentials"])
}

func TestListBlocklistPaging(t *testing.T) {
	t.Parallel()

	lister := fakeLister{entries: []outreach.BlockedDomain{
		{Domain: "a.example"}, {Domain: "b.example"}, {Domain: "c.example"},
	}}
	server := NewServer(Deps{Blocklist: lister}, nil)

	rec := serve(t, server, "/v1/blocklist?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Domains []outreach.BlockedDomain `json:"domains"`
		Total   int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Domains, 2)
	require.Equal(t, "b.example", body.Domains[0].Domain)

	rec = serve(t, server, "/v1/blocklist?offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"domains":[]`)

	require.Equal(t, http.StatusBadRequest, serve(t, server, "/v1/blocklist?limit=-1").Code)
}

func TestListBlocklistStoreError(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Blocklist: fakeLister{err: errors.New("boom")}}, nil)
	require.Equal(t, http.StatusInternalServerError, serve(t, server, "/v1/blocklist").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func serve(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakePool credentials.Stats

func (f fakePool) Stats() credentials.Stats { return credentials.Stats(f) }

type fakeLister struct {
	entries []outreach.BlockedDomain
	err     error
}

func (f fakeLister) ListBlockedDomains(context.Context) ([]outreach.BlockedDomain, error) {
	return f.entries, f.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
