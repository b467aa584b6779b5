package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/ruledir/internal/cache"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
)

// DefaultKey es la key bajo la que el coordinador publica el snapshot.
const DefaultKey = "snapshot"

// Store guarda el snapshot del coordinador en un cache.Client compartido (Redis en prod).
type Store struct {
	c   cache.Client
	key string
	ttl time.Duration
}

// NewStore crea un Store. ttl 0 = el snapshot no expira.
func NewStore(c cache.Client, key string, ttl time.Duration) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{c: c, key: key, ttl: ttl}
}

func (s *Store) Name() string { return "cache" }

// Publish serializa y guarda el snapshot.
func (s *Store) Publish(ctx context.Context, doc Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, s.key, b, s.ttl)
}

func (s *Store) Fetch(ctx context.Context) (rules.Snapshot, error) {
	b, err := s.c.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("stored snapshot decode: %w", err)
	}
	return rules.SnapshotOf(doc.Projects), nil
}

// Publisher publica periódicamente el directorio local en un Store (rol coordinador).
type Publisher struct {
	Store    *Store
	Dir      *rules.Directory
	Node     string
	Interval time.Duration
}

// PublishOnce publica el estado actual.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	return p.Store.Publish(ctx, Document{Node: p.Node, Projects: p.Dir.SnapshotEntries()})
}

// Run publica cada Interval hasta que ctx termine.
func (p *Publisher) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := logger.From(ctx).With(logger.Component("snapshot-publisher"))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn("snapshot publish failed", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
