package refresh

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/erp"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/pipeline"
	"edgesync.shamra.dev/stream"
	"edgesync.shamra.dev/transform"
	"edgesync.shamra.dev/webhook"
)

type fixture struct {
	refresher *Refresher
	streams   *stream.Manager
	store     *kv.Store
	requests  *atomic.Int32
}

// newFixture serves an ERP with two products (three item codes); item code
// BAD-1 always fails with a 500.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/method/edge_sync.published_index", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":[{"name":"A","item_codes":["A-1","A-2"]},{"name":"B","item_codes":["B-1","A-1"]}]}`))
	})
	mux.HandleFunc("GET /api/resource/Website Item/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/resource/Website Item/")
		w.Write([]byte(`{"data":{"name":"` + id + `","web_item_name":"Item ` + id + `"}}`))
	})
	mux.HandleFunc("/api/method/edge_sync.item_price", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("item_code") == "BAD-1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"message":{"retail":10,"wholesale":8}}`))
	})
	mux.HandleFunc("/api/method/edge_sync.item_stock_warehouses", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":["Homs"]}`))
	})
	mux.HandleFunc("/api/method/edge_sync.hero_images", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":[]}`))
	})
	mux.HandleFunc("/api/method/edge_sync.bundle_images", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":[]}`))
	})
	mux.HandleFunc("/api/method/edge_sync.app_home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"title":"Welcome","sections":[]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := kv.NewStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := cache.New(store, nil, log)
	streams := stream.NewManager(store)
	committer := pipeline.NewCommitter(c, streams, log)
	client := erp.NewClient(erp.Config{BaseURL: srv.URL, Retries: 1})
	proc := webhook.NewProcessor(client, c, store, committer, log)

	require.NoError(t, transform.SaveWarehouseReference(context.Background(), store,
		[]transform.Warehouse{{Name: "Homs"}, {Name: "Hama"}}))

	return &fixture{
		refresher: New(client, store, proc, 2, log),
		streams:   streams,
		store:     store,
		requests:  &requests,
	}
}

func TestRunRefreshesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	summary, err := f.refresher.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Products.Total)
	assert.Equal(t, 2, summary.Products.Updated)
	assert.Equal(t, 3, summary.Prices.Total, "item codes are deduplicated across products")
	assert.Equal(t, 3, summary.Prices.Updated)
	assert.Equal(t, 3, summary.Stocks.Updated)
	assert.Equal(t, 1, summary.Home.Updated)
	assert.Empty(t, summary.Products.Errors)
	assert.NotEmpty(t, summary.Duration)
}

func TestRunSecondPassIsSilent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.refresher.Run(ctx)
	require.NoError(t, err)
	before, err := f.streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)

	summary, err := f.refresher.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Products.Updated)
	assert.Equal(t, 2, summary.Products.Unchanged)

	after, err := f.streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, before, after, "unchanged refresh appends nothing")
}

func TestRunFamilyRecordsErrorsAndContinues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	summary := f.refresher.runFamily(ctx, []string{"A-1", "BAD-1", "B-1"}, func(ctx context.Context, id string) (*pipeline.Result, error) {
		return f.refresher.proc.ProcessPrice(ctx, id)
	})

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Updated)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "BAD-1", summary.Errors[0].ID)
}

func TestDedupeItemCodes(t *testing.T) {
	codes := dedupeItemCodes([]erp.IndexEntry{
		{Name: "A", ItemCodes: []string{"A-1", "A-2"}},
		{Name: "B", ItemCodes: []string{"A-1", "", "B-1"}},
	})
	assert.Equal(t, []string{"A-1", "A-2", "B-1"}, codes)
}
