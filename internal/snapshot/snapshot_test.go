package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dropDatabas3/ruledir/internal/cache"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *rules.Directory {
	t.Helper()
	dir := rules.NewDirectory(rules.DirectoryOptions{})
	require.NoError(t, dir.Merge(rules.Snapshot{
		"acme": {
			{ID: "r1", Version: rules.Version{Counter: 2, Node: "a"}, BatchStatus: true, Definition: json.RawMessage(`{"type":"count"}`)},
			{ID: "r2", Version: rules.Version{Counter: 1, Node: "a"}},
		},
	}))
	return dir
}

func TestResync_FromHTTPPeer(t *testing.T) {
	peer := seeded(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SnapshotPath, r.URL.Path)
		_ = json.NewEncoder(w).Encode(Document{Node: "a", Projects: peer.Entries()})
	}))
	defer srv.Close()

	local := rules.NewDirectory(rules.DirectoryOptions{})
	require.NoError(t, local.Merge(rules.Snapshot{"acme": {{ID: "gone", Version: rules.Version{Counter: 9}}}}))

	require.NoError(t, Resync(context.Background(), NewHTTPSource(srv.URL+"/"), local))
	assert.Equal(t, peer.Entries(), local.Entries())
}

func TestResync_RepairsProjectEmptiedOnPeer(t *testing.T) {
	peer := rules.NewDirectory(rules.DirectoryOptions{})
	ph := rules.NewHandler(peer, rules.HandlerOptions{})
	ctx := context.Background()
	_, err := ph.Apply(ctx, rules.Mutation{Kind: rules.KindAdd, Project: "acme", RuleID: "r1", Version: rules.Version{Counter: 1, Node: "a"}, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = ph.Apply(ctx, rules.Mutation{Kind: rules.KindDelete, Project: "acme", RuleID: "r1", Version: rules.Version{Counter: 2, Node: "a"}})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Document{Node: "a", Projects: peer.SnapshotEntries()})
	}))
	defer srv.Close()

	local := rules.NewDirectory(rules.DirectoryOptions{})
	require.NoError(t, local.Merge(rules.Snapshot{"acme": {{ID: "r1", Version: rules.Version{Counter: 1, Node: "a"}}}}))

	require.NoError(t, Resync(ctx, NewHTTPSource(srv.URL), local))
	assert.Empty(t, local.Get("acme"), "the missed DELETE must be repaired by resync")
}

func TestResync_HTTPErrorLeavesDirectoryUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	local := seeded(t)
	before := local.Entries()
	err := Resync(context.Background(), NewHTTPSource(srv.URL), local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
	assert.Equal(t, before, local.Entries())
}

func TestResync_InvalidSnapshotRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"projects":[{"project":"acme","rules":[{"id":""}]}]}`))
	}))
	defer srv.Close()

	local := seeded(t)
	err := Resync(context.Background(), NewHTTPSource(srv.URL), local)
	require.ErrorIs(t, err, rules.ErrMalformed)
	assert.Len(t, local.Get("acme"), 2)
}

func TestStore_PublishAndResyncOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.New(cache.Config{Driver: "redis", Addr: mr.Addr(), Prefix: "ruledir"})
	require.NoError(t, err)
	defer c.Close()

	store := NewStore(c, "", 0)
	pub := &Publisher{Store: store, Dir: seeded(t), Node: "coordinator"}
	require.NoError(t, pub.PublishOnce(context.Background()))
	assert.True(t, mr.Exists("ruledir:"+DefaultKey))

	joiner := rules.NewDirectory(rules.DirectoryOptions{})
	require.NoError(t, Resync(context.Background(), store, joiner))
	assert.Equal(t, pub.Dir.Entries(), joiner.Entries())
}

func TestPublisher_IncludesEmptiedProjects(t *testing.T) {
	coord := seeded(t)
	require.NoError(t, coord.Merge(rules.Snapshot{"acme": nil}))
	store := NewStore(cache.NewMemory(""), "", 0)
	require.NoError(t, (&Publisher{Store: store, Dir: coord}).PublishOnce(context.Background()))

	joiner := seeded(t)
	require.NoError(t, Resync(context.Background(), store, joiner))
	assert.Empty(t, joiner.Get("acme"))
}

func TestStore_FetchMissing(t *testing.T) {
	store := NewStore(cache.NewMemory(""), "k", 0)
	_, err := store.Fetch(context.Background())
	require.True(t, cache.IsNotFound(err))
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	store := NewStore(cache.NewMemory(""), "", 0)
	pub := &Publisher{Store: store, Dir: seeded(t), Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := store.Fetch(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
