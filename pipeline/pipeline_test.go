package pipeline

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/canonical"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/stream"
)

func newTestCommitter(t *testing.T) (*Committer, *cache.Cache, *stream.Manager) {
	t.Helper()
	committer, c, streams, _ := newTestCommitterWithStore(t)
	return committer, c, streams
}

func newTestCommitterWithStore(t *testing.T) (*Committer, *cache.Cache, *stream.Manager, *kv.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := kv.NewStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := cache.New(store, nil, log)
	streams := stream.NewManager(store)
	return NewCommitter(c, streams, log), c, streams, store
}

func TestCommitFirstIngest(t *testing.T) {
	ctx := context.Background()
	committer, c, streams := newTestCommitter(t)

	value := map[string]interface{}{"name": "soap", "item_code": "WEB-ITM-0002"}
	wantHash, err := canonical.Hash(value)
	require.NoError(t, err)

	res, err := committer.Commit(ctx, cache.FamilyProduct, "WEB-ITM-0002", value)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, Create, res.Outcome)
	assert.Equal(t, uint64(1), res.Version)
	assert.Equal(t, wantHash, res.DataHash)
	assert.NotEmpty(t, res.StreamID)

	entry, err := c.ReadHash(ctx, cache.FamilyProduct, "WEB-ITM-0002")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(1), entry.Version)
	assert.Equal(t, wantHash, entry.DataHash)

	entries, err := streams.Read(ctx, cache.FamilyProduct, "0", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wantHash, entries[0].DataHash)
	assert.Equal(t, uint64(1), entries[0].Version)
}

func TestCommitIdempotentByValue(t *testing.T) {
	ctx := context.Background()
	committer, _, streams := newTestCommitter(t)

	value := map[string]interface{}{"name": "soap"}
	_, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)

	res, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, NoChange, res.Outcome)
	assert.Equal(t, uint64(1), res.Version)
	assert.Empty(t, res.StreamID)

	n, err := streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "replay must not append")
}

func TestCommitMismatch(t *testing.T) {
	ctx := context.Background()
	committer, _, streams := newTestCommitter(t)

	_, err := committer.Commit(ctx, cache.FamilyProduct, "P1", map[string]interface{}{"v": 1})
	require.NoError(t, err)

	res, err := committer.Commit(ctx, cache.FamilyProduct, "P1", map[string]interface{}{"v": 2})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, Mismatch, res.Outcome)
	assert.Equal(t, uint64(2), res.Version)

	n, err := streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCommitSilentDrift(t *testing.T) {
	ctx := context.Background()
	committer, c, streams := newTestCommitter(t)

	value := map[string]interface{}{"name": "soap"}
	first, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)

	// Operator hand-edits the simple key out-of-band.
	require.NoError(t, c.WriteSimple(ctx, cache.FamilyProduct, "P1", map[string]interface{}{"name": "edited"}))

	res, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, SilentDrift, res.Outcome)
	assert.Equal(t, uint64(2), res.Version)
	assert.Equal(t, first.DataHash, res.DataHash, "digest is unchanged, only the simple key drifted")

	// The simple key reconverged.
	simple, err := c.ReadSimple(ctx, cache.FamilyProduct, "P1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"soap"}`, string(simple))

	n, err := streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "drift repair appends")
}

func TestCommitSilentDriftOnMissingSimpleKey(t *testing.T) {
	ctx := context.Background()
	committer, _, _, store := newTestCommitterWithStore(t)

	value := map[string]interface{}{"name": "soap"}
	_, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)

	// Simulate a crash between the hash-entry write and the simple-key
	// write: the simple key is missing while the hash entry is current.
	require.NoError(t, store.Del(ctx, cache.SimpleKey(cache.FamilyProduct, "P1")))

	outcome, _, _, err := committer.Detect(ctx, cache.FamilyProduct, "P1", value)
	require.NoError(t, err)
	assert.Equal(t, SilentDrift, outcome)
}

func TestDetectDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	committer, c, streams := newTestCommitter(t)

	outcome, hash, entry, err := committer.Detect(ctx, cache.FamilyProduct, "P1", "value")
	require.NoError(t, err)
	assert.Equal(t, Create, outcome)
	assert.NotEmpty(t, hash)
	assert.Nil(t, entry)

	stored, err := c.ReadHash(ctx, cache.FamilyProduct, "P1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	n, err := streams.Len(ctx, cache.FamilyProduct)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommitDeletion(t *testing.T) {
	ctx := context.Background()
	committer, c, streams := newTestCommitter(t)

	_, err := committer.Commit(ctx, cache.FamilyProduct, "P1", "value")
	require.NoError(t, err)

	res, err := committer.CommitDeletion(ctx, cache.FamilyProduct, "P1")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, canonical.DeletionHash("P1"), res.DataHash)
	assert.Equal(t, uint64(2), res.Version)

	entry, err := c.ReadHash(ctx, cache.FamilyProduct, "P1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	entries, err := streams.Read(ctx, cache.FamilyProduct, "0", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, canonical.DeletionHash("P1"), entries[1].DataHash)
}

func TestVersionMonotonicAcrossOutcomes(t *testing.T) {
	ctx := context.Background()
	committer, c, _ := newTestCommitter(t)

	var last uint64
	for i, value := range []interface{}{"a", "b", "a", "c"} {
		_, err := committer.Commit(ctx, cache.FamilyProduct, "P1", value)
		require.NoError(t, err, "commit %d", i)
		entry, err := c.ReadHash(ctx, cache.FamilyProduct, "P1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, entry.Version, last)
		last = entry.Version
	}
}
