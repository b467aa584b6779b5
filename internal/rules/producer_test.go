package rules

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	sent []Mutation
	err  error
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, m Mutation) error {
	r.sent = append(r.sent, m)
	return r.err
}

func TestProducer_VersionsAreFreshAndDominant(t *testing.T) {
	clock := NewClock("n1")
	out := &recordingBroadcaster{}
	p := NewProducer(clock, out)
	ctx := context.Background()

	a, err := p.Add(ctx, "acme", "r1", json.RawMessage(`{"type":"count"}`))
	require.NoError(t, err)
	b, err := p.UpdateBatch(ctx, "acme", "r1")
	require.NoError(t, err)
	c, err := p.Delete(ctx, "acme", "r1")
	require.NoError(t, err)

	require.Len(t, out.sent, 3)
	assert.True(t, b.Version.Dominates(a.Version))
	assert.True(t, c.Version.Dominates(b.Version))
	assert.Equal(t, "n1", c.Version.Node)
}

func TestProducer_RejectsBeforeBroadcast(t *testing.T) {
	out := &recordingBroadcaster{}
	p := NewProducer(NewClock("n1"), out)

	_, err := p.Add(context.Background(), "acme", "r1", nil)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Empty(t, out.sent)
}

func TestProducer_PropagatesBroadcastError(t *testing.T) {
	boom := errors.New("fabric down")
	p := NewProducer(NewClock("n1"), &recordingBroadcaster{err: boom})
	_, err := p.Delete(context.Background(), "acme", "r1")
	require.ErrorIs(t, err, boom)
}

func TestLocalBroadcaster_UsesHandlerPath(t *testing.T) {
	h, dir := newTestHandler()
	p := NewProducer(NewClock("n1"), LocalBroadcaster{Handler: h})

	_, err := p.Add(context.Background(), "acme", "r1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids(dir.Get("acme")))
}

func TestVersion_Compare(t *testing.T) {
	assert.True(t, Version{Counter: 2}.Dominates(Version{Counter: 1, Node: "z"}))
	assert.True(t, Version{Counter: 1, Node: "b"}.Dominates(Version{Counter: 1, Node: "a"}))
	assert.False(t, Version{Counter: 1, Node: "a"}.Dominates(Version{Counter: 1, Node: "a"}))
	assert.True(t, Version{}.IsZero())
	assert.Equal(t, "3@n1", Version{Counter: 3, Node: "n1"}.String())
}
