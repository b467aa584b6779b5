package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_Overwrites(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "old", v(9)))
	mustApply(t, h, add("Q", "keep", v(1)))

	r1 := Rule{ID: "r1", Version: v(1), Definition: json.RawMessage(`{}`)}
	r2 := Rule{ID: "r2", Version: v(1), BatchStatus: true}
	require.NoError(t, dir.Merge(Snapshot{"P": {r1, r2}}))

	got := dir.Get("P")
	assert.Equal(t, []string{"r1", "r2"}, ids(got))
	assert.Equal(t, "P", got[0].Project)
	assert.True(t, got[1].BatchStatus)
	assert.Equal(t, []string{"keep"}, ids(dir.Get("Q")), "projects not in the snapshot are untouched")
}

func TestMerge_ResetsBatchStatusAndBypassesVersions(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))
	mustApply(t, h, batch("P", "r1", v(5)))

	require.NoError(t, dir.Merge(Snapshot{"P": {{ID: "r1", Version: v(2)}}}))
	got := dir.Get("P")
	require.Len(t, got, 1)
	assert.False(t, got[0].BatchStatus)
	assert.Equal(t, v(2), got[0].Version)
}

func TestMerge_EmptySetClearsProject(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))
	require.NoError(t, dir.Merge(Snapshot{"P": nil}))
	assert.Empty(t, dir.Get("P"))
	assert.Empty(t, dir.Projects())
}

func TestMerge_DropsTombstonesForSnapshotRules(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, del("P", "r1", v(3)))
	require.Equal(t, 1, dir.Tombstones())

	require.NoError(t, dir.Merge(Snapshot{"P": {{ID: "r1", Version: v(1)}}}))
	assert.Equal(t, 0, dir.Tombstones())
	assert.Equal(t, OutcomeApplied, mustApply(t, h, batch("P", "r1", v(2))))
}

func TestMerge_InvalidSnapshotChangesNothing(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))

	err := dir.Merge(Snapshot{"Q": {{ID: "ok"}}, "P": {{ID: ""}}})
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []string{"P"}, dir.Projects())

	require.ErrorIs(t, dir.Merge(Snapshot{"": {{ID: "x"}}}), ErrMalformed)
}

func TestReplace_MatchesSnapshotExactly(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "old", v(9)))
	mustApply(t, h, add("Q", "gone", v(1)))
	mustApply(t, h, del("R", "x", v(4)))

	require.NoError(t, dir.Replace(Snapshot{"P": {{ID: "r1", Version: v(1)}}}))
	assert.Equal(t, []string{"r1"}, ids(dir.Get("P")))
	assert.Empty(t, dir.Get("Q"), "projects missing from the snapshot end up empty")
	assert.Equal(t, []string{"P"}, dir.Projects())
	assert.Zero(t, dir.Tombstones())
}

func TestReplace_InvalidSnapshotChangesNothing(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))
	err := dir.Replace(Snapshot{"Q": {{ID: ""}}})
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, []string{"r1"}, ids(dir.Get("P")))
}

func TestSnapshotEntries_IncludesEmptiedProjects(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))
	mustApply(t, h, add("Q", "r2", v(1)))
	mustApply(t, h, del("Q", "r2", v(2)))

	got := dir.SnapshotEntries()
	require.Len(t, got, 2)
	assert.Equal(t, "Q", got[1].Project)
	assert.NotNil(t, got[1].Rules)
	assert.Empty(t, got[1].Rules)
	assert.Len(t, dir.Entries(), 1, "Entries keeps omitting empty projects")

	b, err := json.Marshal(got[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"project":"Q","rules":[]}`, string(b))
}

func TestClear(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("P", "r1", v(1)))
	mustApply(t, h, del("P", "r2", v(1)))
	dir.Clear()

	assert.Empty(t, dir.Projects())
	assert.Empty(t, dir.Entries())
	assert.Equal(t, 0, dir.Len())
	assert.Equal(t, 0, dir.Tombstones())

	// sigue usable después del clear
	assert.Equal(t, OutcomeApplied, mustApply(t, h, add("P", "r1", v(1))))
}

func TestEntries_SortedAndConsistent(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("b", "r2", v(1)))
	mustApply(t, h, add("b", "r1", v(1)))
	mustApply(t, h, add("a", "r1", v(1)))

	es := dir.Entries()
	require.Len(t, es, 2)
	assert.Equal(t, "a", es[0].Project)
	assert.Equal(t, []string{"r1", "r2"}, ids(es[1].Rules))
	assert.Equal(t, []string{"a", "b"}, dir.Projects())
	assert.Equal(t, 3, dir.Len())

	snap := SnapshotOf(es)
	assert.Len(t, snap["b"], 2)
}

func TestGet_ReturnsCopies(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("p", "r", v(1)))

	got := dir.Get("p")
	got[0].BatchStatus = true
	got[0].Definition[0] = 'X'

	again := dir.Get("p")
	assert.False(t, again[0].BatchStatus)
	assert.JSONEq(t, `{"type":"count"}`, string(again[0].Definition))
}

func TestTombstoneRetention_Expires(t *testing.T) {
	dir := NewDirectory(DirectoryOptions{TombstoneRetention: 50 * time.Millisecond})
	h := NewHandler(dir, HandlerOptions{})
	mustApply(t, h, add("p", "r", v(1)))
	mustApply(t, h, del("p", "r", v(2)))
	assert.Equal(t, OutcomeStale, mustApply(t, h, add("p", "r", v(1))))

	time.Sleep(120 * time.Millisecond)
	// pasado el retention el tombstone ya no protege
	assert.Equal(t, OutcomeApplied, mustApply(t, h, add("p", "r", v(1))))
}

func TestConcurrentMutations_SameProject(t *testing.T) {
	h, dir := newTestHandler()
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= perWriter; i++ {
				m := add("p", "r", Version{Counter: uint64(i), Node: fmt.Sprintf("n%d", w)})
				_, _ = h.Apply(context.Background(), m)
			}
		}(w)
	}
	wg.Wait()

	got := dir.Get("p")
	require.Len(t, got, 1)
	assert.Equal(t, Version{Counter: perWriter, Node: fmt.Sprintf("n%d", writers-1)}, got[0].Version)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	h, dir := newTestHandler()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, e := range dir.Entries() {
				for _, r := range e.Rules {
					if r.Project != e.Project {
						t.Errorf("torn read: rule %s/%s listed under %s", r.Project, r.ID, e.Project)
						return
					}
				}
			}
		}
	}()

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			project := fmt.Sprintf("p%d", p)
			for i := 1; i <= 300; i++ {
				_, err := h.Apply(context.Background(), add(project, fmt.Sprintf("r%d", i%10), v(uint64(i))))
				assert.NoError(t, err)
			}
		}(p)
	}

	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, 40, dir.Len())
}
