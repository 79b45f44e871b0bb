package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-outreach-sync/internal/config"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	memorypublisher "github.com/JakeFAU/creator-outreach-sync/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/creator-outreach-sync/internal/storage/memory"
)

type contactClient struct{}

func (contactClient) Map(_ context.Context, _ string, req outreach.MapRequest) ([]string, error) {
	return []string{req.URL + "/contact"}, nil
}

func (contactClient) Scrape(_ context.Context, _ string, pageURL string) (outreach.ScrapeResult, error) {
	return outreach.ScrapeResult{
		URL:        pageURL,
		StatusCode: http.StatusOK,
		HTML:       `<p>Write to <a href="mailto:studio@maker.example">studio@maker.example</a></p><form action="/send"><textarea name="message"></textarea></form>`,
	}, nil
}

func testConfig() config.Config {
	return config.Config{
		Pipeline:    config.PipelineConfig{Concurrency: 4, BatchSize: 2},
		Extractor:   config.ExtractorConfig{Backend: config.BackendFirecrawl, MapLimit: 5, MaxPages: 3, MaxRetries: 1},
		Credentials: config.CredentialsConfig{MaxInFlight: 4, AcquireTimeoutSeconds: 1},
		Storage:     config.StorageConfig{Backend: "memory", Prefix: "runs"},
		Sync:        config.SyncConfig{ChunkSize: 10},
		PubSub:      config.PubSubConfig{TopicName: "outreach-runs"},
	}
}

type fixture struct {
	app       *App
	store     *memorystorage.Store
	blobs     *memorystorage.BlobStore
	publisher *memorypublisher.Publisher
}

func newFixture(t *testing.T, cfg config.Config) fixture {
	t.Helper()
	store := memorystorage.NewStore()
	store.PutCredential(outreach.Credential{ID: "cred-1", APIKey: "key-1", Status: outreach.CredentialActive})
	store.PutCreator(outreach.Creator{
		ID:       42,
		Slug:     "maker",
		Name:     "Maker Studio",
		Websites: []outreach.Website{{URL: "https://maker.example"}},
		DataHash: "h42",
	})
	blobs := memorystorage.NewBlobStore()
	pub := memorypublisher.New()

	app, err := Build(context.Background(), cfg, nil, Overrides{
		Store:     store,
		Client:    contactClient{},
		Blobs:     blobs,
		Publisher: pub,
	})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return fixture{app: app, store: store, blobs: blobs, publisher: pub}
}

func TestRunContactsEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx := context.Background()

	event, err := f.app.RunContacts(ctx)
	require.NoError(t, err)
	require.Empty(t, event.Error)
	require.Equal(t, 1, event.Summary.Processed)
	require.Equal(t, 1, event.Summary.StatusCounts[outreach.ContactCompleted])

	row, ok := f.store.Outreach(42)
	require.True(t, ok)
	require.Equal(t, outreach.ContactCompleted, row.ContactStatus)
	require.Equal(t, "studio@maker.example", row.Email)
	require.True(t, row.HasContactForm)
	require.True(t, row.HasAnyContact)
	require.Equal(t, 1, row.ContactAttempts)
	require.Equal(t, outreach.OutreachNotContacted, row.OutreachStatus)

	st, err := f.app.State(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, st.LastSiteHash)
	require.NotNil(t, st.LastContactCheckAt)

	require.Len(t, f.publisher.Messages(), 1)
	require.NotEmpty(t, event.ArchiveURI)

	// the same creator is unchanged on a second run
	event, err = f.app.RunContacts(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, event.Summary.Processed)

	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/last", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), event.RunID)
}

func TestRunContactsDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Pipeline.DryRun = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	event, err := f.app.RunContacts(ctx)
	require.NoError(t, err)
	require.True(t, event.Summary.DryRun)
	require.Equal(t, 1, event.Summary.Processed)

	_, ok := f.store.Outreach(42)
	require.False(t, ok)
	st, err := f.app.State(ctx)
	require.NoError(t, err)
	require.Empty(t, st.LastSiteHash)
	cred, ok := f.store.Credential("cred-1")
	require.True(t, ok)
	require.Equal(t, outreach.CredentialActive, cred.Status)
}

func TestRunContactsWithoutCredentialsAborts(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewStore()
	store.PutCreator(outreach.Creator{ID: 7, Websites: []outreach.Website{{URL: "https://seven.example"}}, DataHash: "h7"})
	pub := memorypublisher.New()
	app, err := Build(context.Background(), testConfig(), nil, Overrides{
		Store:     store,
		Client:    contactClient{},
		Blobs:     memorystorage.NewBlobStore(),
		Publisher: pub,
	})
	require.NoError(t, err)
	t.Cleanup(app.Close)

	event, err := app.RunContacts(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, event.Error)
	require.Len(t, pub.Messages(), 1)
	_, ok := store.Outreach(7)
	require.False(t, ok)
}

func TestSyncSnapshotsMergesAndAdvancesWatermark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"creators": [{"id": 9, "slug": "nine", "name": "Nine", "websites": [{"url": "https://nine.example"}], "data_hash": "h9"}],
		"projects": [{"id": 90, "creator_id": 9, "name": "Kit", "state": "live", "created_at_source": "2026-03-01T10:00:00Z"}]
	}`), 0o600))

	rep, err := f.app.SyncSnapshots(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Creators.Inserted)
	require.Equal(t, 1, rep.Projects.Inserted)

	st, err := f.app.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastProjectCreatedAt)
	require.True(t, st.LastProjectCreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	rows, err := f.store.ListCandidateRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestSyncSnapshotsRequiresSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	_, err := f.app.SyncSnapshots(context.Background(), "")
	require.Error(t, err)
}

func TestMigrateNeedsPostgres(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	require.ErrorIs(t, f.app.Migrate(context.Background()), ErrMigrationsUnsupported)
}

func TestBuildDirectBackendHasNoCredentialPool(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Extractor.Backend = config.BackendDirect
	f := newFixture(t, cfg)
	require.Nil(t, f.app.pool)

	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
