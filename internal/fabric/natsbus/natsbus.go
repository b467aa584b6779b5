// Package natsbus conecta el Handler de reglas a un subject NATS compartido por todo el
// cluster. Cada nodo, incluido el que produce la mutación, se suscribe al mismo subject,
// así la aplicación local y la remota usan el mismo camino.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject es el topic de replicación de reglas.
const DefaultSubject = "rules.replication"

// Config holds NATS-specific configuration
type Config struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Bus publica mutaciones en el subject y entrega las recibidas a un rules.Handler.
type Bus struct {
	conn *nats.Conn
	cfg  Config
	log  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Connect abre la conexión NATS.
func Connect(cfg Config) (*Bus, error) {
	cfg.applyDefaults()
	log := logger.Named("natsbus").With(logger.Subject(cfg.Subject))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			// mensajes perdidos durante el corte se recuperan con un resync por snapshot
			log.Warn("disconnected from NATS", logger.Err(err))
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Bus{conn: conn, cfg: cfg, log: log}, nil
}

// Subject devuelve el subject de replicación.
func (b *Bus) Subject() string { return b.cfg.Subject }

// Broadcast publica m en el subject y hace flush para reportar errores de envío.
func (b *Bus) Broadcast(ctx context.Context, m rules.Mutation) error {
	data, err := rules.Encode(m)
	if err != nil {
		return err
	}
	err = b.publish(ctx, data)
	metrics.ObserveBroadcast("nats", err)
	return err
}

func (b *Bus) publish(ctx context.Context, data []byte) error {
	if err := b.conn.Publish(b.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.cfg.Subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return b.conn.FlushWithContext(ctx)
	}
	return b.conn.FlushTimeout(b.cfg.Timeout)
}

// Subscribe entrega cada mensaje del subject a h. Los errores de mutaciones mal formadas
// quedan en el log del handler; nunca cortan la suscripción.
func (b *Bus) Subscribe(ctx context.Context, h *rules.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return errors.New("natsbus: already subscribed")
	}
	base := logger.ToContext(ctx, b.log)
	sub, err := b.conn.Subscribe(b.cfg.Subject, func(msg *nats.Msg) {
		_, _ = h.HandleMessage(base, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.Subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	b.sub = sub
	b.log.Info("subscribed to replication subject")
	return nil
}

// Connected reporta si la conexión está activa (para /readyz).
func (b *Bus) Connected() bool { return b.conn != nil && b.conn.IsConnected() }

// Close desuscribe y drena la conexión.
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.log.Warn("failed to unsubscribe", logger.Err(err))
		}
	}
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
