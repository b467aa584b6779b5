package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(n uint64) Version { return Version{Counter: n, Node: "n1"} }

func add(project, id string, ver Version) Mutation {
	return Mutation{Kind: KindAdd, Project: project, RuleID: id, Version: ver, Payload: json.RawMessage(`{"type":"count"}`)}
}

func del(project, id string, ver Version) Mutation {
	return Mutation{Kind: KindDelete, Project: project, RuleID: id, Version: ver}
}

func batch(project, id string, ver Version) Mutation {
	return Mutation{Kind: KindUpdateBatch, Project: project, RuleID: id, Version: ver}
}

func newTestHandler() (*Handler, *Directory) {
	dir := NewDirectory(DirectoryOptions{})
	return NewHandler(dir, HandlerOptions{}), dir
}

func mustApply(t *testing.T, h *Handler, m Mutation) Outcome {
	t.Helper()
	out, err := h.Apply(context.Background(), m)
	require.NoError(t, err)
	return out
}

func ids(rs []Rule) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestAcmeScenario(t *testing.T) {
	h, dir := newTestHandler()

	require.Equal(t, OutcomeApplied, mustApply(t, h, add("acme", "r1", v(1))))
	assert.Equal(t, []string{"r1"}, ids(dir.Get("acme")))

	require.Equal(t, OutcomeApplied, mustApply(t, h, batch("acme", "r1", v(2))))
	got := dir.Get("acme")
	require.Len(t, got, 1)
	assert.True(t, got[0].BatchStatus)

	// DELETE reordenado y viejo
	require.Equal(t, OutcomeStale, mustApply(t, h, del("acme", "r1", v(1))))
	got = dir.Get("acme")
	require.Len(t, got, 1)
	assert.True(t, got[0].BatchStatus)

	require.Equal(t, OutcomeApplied, mustApply(t, h, del("acme", "r1", v(3))))
	assert.Empty(t, dir.Get("acme"))
}

func TestApply_Idempotent(t *testing.T) {
	for _, m := range []Mutation{add("p", "r", v(1)), batch("p", "r", v(2)), del("p", "r", v(3))} {
		h, dir := newTestHandler()
		if m.Kind != KindAdd {
			mustApply(t, h, add("p", "r", v(1)))
		}
		mustApply(t, h, m)
		once := dir.Get("p")

		assert.NotEqual(t, OutcomeApplied, mustApply(t, h, m), "replay of %s must not apply", m.Kind)
		assert.Equal(t, once, dir.Get("p"))
	}
}

func TestApply_VersionDominance_EitherOrder(t *testing.T) {
	pairs := [][2]Mutation{
		{add("p", "r", v(1)), add("p", "r", v(2))},
		{add("p", "r", v(1)), del("p", "r", v(2))},
		{del("p", "r", v(1)), add("p", "r", v(2))},
	}
	for _, pair := range pairs {
		lo, hi := pair[0], pair[1]

		h1, d1 := newTestHandler()
		mustApply(t, h1, lo)
		mustApply(t, h1, hi)

		h2, d2 := newTestHandler()
		mustApply(t, h2, hi)
		mustApply(t, h2, lo)

		h3, d3 := newTestHandler()
		mustApply(t, h3, hi)

		assert.Equal(t, d3.Get("p"), d1.Get("p"), "%s then %s", lo.Kind, hi.Kind)
		assert.Equal(t, d3.Get("p"), d2.Get("p"), "%s then %s (reordered)", hi.Kind, lo.Kind)
	}
}

func TestApply_NoResurrection(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("p", "r", v(1)))
	mustApply(t, h, del("p", "r", v(2)))

	assert.Equal(t, OutcomeStale, mustApply(t, h, add("p", "r", v(1))))
	assert.Empty(t, dir.Get("p"))
	assert.Equal(t, 1, dir.Tombstones())
}

func TestApply_NoResurrection_DeleteArrivesFirst(t *testing.T) {
	h, dir := newTestHandler()
	assert.Equal(t, OutcomeIgnored, mustApply(t, h, del("p", "r", v(2))))
	assert.Equal(t, OutcomeStale, mustApply(t, h, add("p", "r", v(1))))
	assert.Empty(t, dir.Get("p"))

	// un ADD posterior al DELETE sí revive la identidad
	assert.Equal(t, OutcomeApplied, mustApply(t, h, add("p", "r", v(3))))
	assert.Equal(t, []string{"r"}, ids(dir.Get("p")))
	assert.Equal(t, 0, dir.Tombstones())
}

func TestApply_EqualVersionIsStale(t *testing.T) {
	h, _ := newTestHandler()
	mustApply(t, h, add("p", "r", v(1)))
	assert.Equal(t, OutcomeStale, mustApply(t, h, batch("p", "r", v(1))))
	assert.Equal(t, OutcomeStale, mustApply(t, h, del("p", "r", v(1))))
}

func TestApply_NodeBreaksTies(t *testing.T) {
	h, dir := newTestHandler()
	a := add("p", "r", Version{Counter: 5, Node: "a"})
	b := add("p", "r", Version{Counter: 5, Node: "b"})
	b.Payload = json.RawMessage(`{"type":"sum"}`)

	mustApply(t, h, b)
	assert.Equal(t, OutcomeStale, mustApply(t, h, a))
	assert.JSONEq(t, `{"type":"sum"}`, string(dir.Get("p")[0].Definition))
}

func TestApply_UpdateBatchAddressesSingleRule(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("p", "r1", v(1)))
	mustApply(t, h, add("p", "r2", v(1)))

	mustApply(t, h, batch("p", "r2", v(2)))
	got := dir.Get("p")
	require.Len(t, got, 2)
	assert.False(t, got[0].BatchStatus, "r1 must not be touched")
	assert.True(t, got[1].BatchStatus)
	assert.Equal(t, v(2), got[1].Version)
}

func TestApply_UnknownTargetsAreNoop(t *testing.T) {
	h, dir := newTestHandler()
	assert.Equal(t, OutcomeIgnored, mustApply(t, h, batch("nope", "r", v(1))))
	assert.Equal(t, OutcomeIgnored, mustApply(t, h, del("nope", "r", v(1))))
	assert.Empty(t, dir.Projects())
}

func TestApply_PerProjectIsolation(t *testing.T) {
	h, dir := newTestHandler()
	mustApply(t, h, add("a", "r", v(1)))
	mustApply(t, h, add("b", "r", v(1)))

	mustApply(t, h, batch("a", "r", v(2)))
	mustApply(t, h, del("a", "r", v(3)))

	require.Len(t, dir.Get("b"), 1)
	assert.False(t, dir.Get("b")[0].BatchStatus)
	assert.Equal(t, []string{"b"}, dir.Projects())
}

func TestApply_Malformed(t *testing.T) {
	h, dir := newTestHandler()
	cases := map[string]Mutation{
		"missing project": {Kind: KindAdd, RuleID: "r", Version: v(1), Payload: json.RawMessage(`{}`)},
		"missing id":      {Kind: KindAdd, Project: "p", Version: v(1), Payload: json.RawMessage(`{}`)},
		"missing version": {Kind: KindDelete, Project: "p", RuleID: "r"},
		"add no payload":  {Kind: KindAdd, Project: "p", RuleID: "r", Version: v(1)},
		"add null":        {Kind: KindAdd, Project: "p", RuleID: "r", Version: v(1), Payload: json.RawMessage(`null`)},
		"unknown kind":    {Kind: "RENAME", Project: "p", RuleID: "r", Version: v(1)},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := h.Apply(context.Background(), m)
			require.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, OutcomeRejected, out)
		})
	}
	assert.Empty(t, dir.Projects())

	// el handler sigue usable
	assert.Equal(t, OutcomeApplied, mustApply(t, h, add("p", "r", v(1))))
}

func TestHandleMessage(t *testing.T) {
	h, dir := newTestHandler()
	data, err := Encode(add("acme", "r1", v(7)))
	require.NoError(t, err)

	out, err := h.HandleMessage(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, v(7), dir.Get("acme")[0].Version)

	_, err = h.HandleMessage(context.Background(), []byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformed)
	_, err = h.HandleMessage(context.Background(), nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_WireFormat(t *testing.T) {
	m, err := Decode([]byte(`{"kind":"UPDATE_BATCH","project":"acme","ruleId":"r1","version":{"counter":2,"node":"n2"}}`))
	require.NoError(t, err)
	assert.Equal(t, batch("acme", "r1", Version{Counter: 2, Node: "n2"}), m)
}

func TestHandler_ObservesClock(t *testing.T) {
	clock := NewClock("local")
	h := NewHandler(NewDirectory(DirectoryOptions{}), HandlerOptions{Clock: clock})
	mustApply(t, h, add("p", "r", Version{Counter: 41, Node: "peer"}))

	next := clock.Next()
	assert.True(t, next.Dominates(Version{Counter: 41, Node: "peer"}))
	assert.Equal(t, uint64(42), next.Counter)
}
