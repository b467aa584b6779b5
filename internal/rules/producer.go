package rules

import (
	"context"
	"encoding/json"
)

// Broadcaster publica una mutación al resto del cluster (y a este mismo nodo).
type Broadcaster interface {
	Broadcast(ctx context.Context, m Mutation) error
}

// Producer arma mutaciones originadas en este nodo con versiones frescas del Clock.
type Producer struct {
	clock *Clock
	out   Broadcaster
}

func NewProducer(clock *Clock, out Broadcaster) *Producer {
	return &Producer{clock: clock, out: out}
}

// Add publica un ADD con la definición dada.
func (p *Producer) Add(ctx context.Context, project, id string, def json.RawMessage) (Mutation, error) {
	return p.emit(ctx, Mutation{Kind: KindAdd, Project: project, RuleID: id, Payload: def})
}

// Delete publica un DELETE.
func (p *Producer) Delete(ctx context.Context, project, id string) (Mutation, error) {
	return p.emit(ctx, Mutation{Kind: KindDelete, Project: project, RuleID: id})
}

// UpdateBatch publica un UPDATE_BATCH.
func (p *Producer) UpdateBatch(ctx context.Context, project, id string) (Mutation, error) {
	return p.emit(ctx, Mutation{Kind: KindUpdateBatch, Project: project, RuleID: id})
}

func (p *Producer) emit(ctx context.Context, m Mutation) (Mutation, error) {
	m.Version = p.clock.Next()
	if err := m.Validate(); err != nil {
		return m, err
	}
	if err := p.out.Broadcast(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// LocalBroadcaster aplica directo sobre un Handler. Sirve para un nodo sin fabric
// (single node, tests) usando el mismo camino que un mensaje remoto.
type LocalBroadcaster struct {
	Handler *Handler
}

func (b LocalBroadcaster) Broadcast(ctx context.Context, m Mutation) error {
	_, err := b.Handler.Apply(ctx, m)
	return err
}
