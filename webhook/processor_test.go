package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
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
)

type env struct {
	proc    *Processor
	cache   *cache.Cache
	streams *stream.Manager
	store   *kv.Store
}

// erpFixture serves a minimal ERPNext lookalike.
func erpFixture() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/resource/Website Item/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"name":"WEB-ITM-0002","web_item_name":"Olive Soap","item_code":"SOAP-1"}}`))
	})
	mux.HandleFunc("/api/method/edge_sync.item_price", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"retail":100,"wholesale":80}}`))
	})
	mux.HandleFunc("/api/method/edge_sync.item_stock_warehouses", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":["Homs Store - P"]}`))
	})
	mux.HandleFunc("/api/method/edge_sync.hero_images", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":["/files/h1.png"]}`))
	})
	mux.HandleFunc("/api/method/edge_sync.app_home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"title":"Welcome","sections":[{"title":"Deals","items":["a"]}]}}`))
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{1, 2, 3})
	})
	return mux
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	srv := httptest.NewServer(erpFixture())
	t.Cleanup(srv.Close)

	store := kv.NewStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := cache.New(store, nil, log)
	streams := stream.NewManager(store)
	committer := pipeline.NewCommitter(c, streams, log)
	client := erp.NewClient(erp.Config{BaseURL: srv.URL})

	return &env{
		proc:    NewProcessor(client, c, store, committer, log),
		cache:   c,
		streams: streams,
		store:   store,
	}
}

func TestProcessFirstTimeProductIngest(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	res, err := e.proc.Process(ctx, Payload{EntityType: "product", ItemCode: "WEB-ITM-0002"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, uint64(1), res.Version)
	assert.NotEmpty(t, res.StreamID)

	entry, err := e.cache.ReadHash(ctx, cache.FamilyProduct, "WEB-ITM-0002")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(1), entry.Version)
	assert.Equal(t, res.DataHash, entry.DataHash)

	entries, err := e.streams.Read(ctx, cache.FamilyProduct, "0", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.DataHash, entries[0].DataHash)
	assert.Equal(t, uint64(1), entries[0].Version)
}

func TestProcessNoChangeReplay(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	payload := Payload{EntityType: "product", ItemCode: "WEB-ITM-0002"}
	_, err := e.proc.Process(ctx, payload)
	require.NoError(t, err)

	res, err := e.proc.Process(ctx, payload)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.StreamID)

	n, err := e.streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "replay appends nothing")
}

func TestProcessSilentDriftReconverges(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	payload := Payload{EntityType: "product", ItemCode: "WEB-ITM-0002"}
	first, err := e.proc.Process(ctx, payload)
	require.NoError(t, err)

	// Hand-edit the simple key behind the pipeline's back.
	require.NoError(t, e.store.Set(ctx, cache.SimpleKey(cache.FamilyProduct, "WEB-ITM-0002"), `{"name":"edited"}`, 0))

	res, err := e.proc.Process(ctx, payload)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, uint64(2), res.Version)
	assert.Equal(t, first.DataHash, res.DataHash, "the ERP value did not change")

	n, err := e.streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	simple, err := e.cache.ReadSimple(ctx, cache.FamilyProduct, "WEB-ITM-0002")
	require.NoError(t, err)
	assert.NotContains(t, string(simple), "edited", "simple key reconverged")
}

func TestProcessPrice(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	res, err := e.proc.Process(ctx, Payload{EntityType: "price", ItemCode: "SOAP-1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)

	simple, err := e.cache.ReadSimple(ctx, cache.FamilyPrice, "SOAP-1")
	require.NoError(t, err)
	assert.JSONEq(t, `[100,80]`, string(simple))
}

func TestProcessStock(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	t.Run("empty reference rejects", func(t *testing.T) {
		_, err := e.proc.Process(ctx, Payload{EntityType: "stock", ItemCode: "SOAP-1"})
		assert.ErrorIs(t, err, transform.ErrEmptyWarehouseReference)
	})

	t.Run("writes the availability vector", func(t *testing.T) {
		reference := []transform.Warehouse{
			{Name: "Idlib"}, {Name: "Allepo"}, {Name: "Homs"}, {Name: "Hama"}, {Name: "Latakia"},
		}
		require.NoError(t, transform.SaveWarehouseReference(ctx, e.store, reference))

		res, err := e.proc.Process(ctx, Payload{EntityType: "stock", ItemCode: "SOAP-1"})
		require.NoError(t, err)
		assert.True(t, res.Changed)

		simple, err := e.cache.ReadSimple(ctx, cache.FamilyStock, "SOAP-1")
		require.NoError(t, err)
		assert.JSONEq(t, `[0,0,1,0,0]`, string(simple))
	})
}

func TestProcessSingletons(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	t.Run("hero uses the family as entity id", func(t *testing.T) {
		res, err := e.proc.Process(ctx, Payload{EntityType: "hero"})
		require.NoError(t, err)
		assert.True(t, res.Changed)

		entry, err := e.cache.ReadHash(ctx, cache.FamilyHero, "hero")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Contains(t, string(entry.Data), "data:image/png;base64,")
	})

	t.Run("home", func(t *testing.T) {
		res, err := e.proc.Process(ctx, Payload{EntityType: "home"})
		require.NoError(t, err)
		assert.True(t, res.Changed)

		entry, err := e.cache.ReadHash(ctx, cache.FamilyHome, "home")
		require.NoError(t, err)
		require.NotNil(t, entry)
	})
}

func TestProcessValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	t.Run("unknown family", func(t *testing.T) {
		_, err := e.proc.Process(ctx, Payload{EntityType: "order"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("product without item code", func(t *testing.T) {
		_, err := e.proc.Process(ctx, Payload{EntityType: "product"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("message has no webhook path", func(t *testing.T) {
		_, err := e.proc.Process(ctx, Payload{EntityType: "message"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}
