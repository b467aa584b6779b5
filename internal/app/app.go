// Package app arma un nodo completo a partir de config.Config: directorio, handler,
// fabric de replicación, snapshot exchange y servidor HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dropDatabas3/ruledir/internal/cache"
	"github.com/dropDatabas3/ruledir/internal/cluster"
	"github.com/dropDatabas3/ruledir/internal/config"
	"github.com/dropDatabas3/ruledir/internal/fabric/natsbus"
	"github.com/dropDatabas3/ruledir/internal/http/server"
	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/dropDatabas3/ruledir/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Options permite inyectar dependencias en tests.
type Options struct {
	// Registry recibe las métricas. nil = prometheus.NewRegistry().
	Registry *prometheus.Registry
}

// Node es el contenedor de un nodo del directorio.
type Node struct {
	cfg *config.Config
	log *zap.Logger

	Clock     *rules.Clock
	Directory *rules.Directory
	Handler   *rules.Handler
	Producer  *rules.Producer

	bus   *natsbus.Bus
	raft  *cluster.Node
	cache cache.Client

	registry *prometheus.Registry
	router   http.Handler
}

// New construye el nodo. Conecta al fabric pero todavía no sirve HTTP ni se suscribe;
// eso ocurre en Start/Run.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:      cfg,
		log:      logger.Named("app").With(logger.NodeID(cfg.Node.ID)),
		registry: opts.Registry,
	}
	if n.registry == nil {
		n.registry = prometheus.NewRegistry()
	}

	n.Clock = rules.NewClock(cfg.Node.ID)
	n.Directory = rules.NewDirectory(rules.DirectoryOptions{TombstoneRetention: cfg.Directory.TombstoneRetention})
	n.Handler = rules.NewHandler(n.Directory, rules.HandlerOptions{Clock: n.Clock})

	if err := metrics.RegisterRules(n.registry, n.Directory); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	out, err := n.buildFabric()
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.Producer = rules.NewProducer(n.Clock, out)

	if cfg.Snapshot.Source == "cache" || cfg.Snapshot.Publish {
		c, err := cache.New(cache.Config{
			Driver:   cfg.Cache.Kind,
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("cache: %w", err)
		}
		n.cache = c
	}

	deps := server.Deps{
		NodeID:   cfg.Node.ID,
		Handler:  n.Handler,
		Producer: n.Producer,
		Gatherer: n.registry,
		Checks:   n.readyChecks(),
	}
	if n.raft != nil {
		// en modo raft el log es el único camino de escritura
		deps.Log = n.raft
		deps.Raft = n.raft
	}
	n.router = server.NewRouter(deps)
	return n, nil
}

func (n *Node) buildFabric() (rules.Broadcaster, error) {
	switch n.cfg.Fabric.Kind {
	case "nats":
		bus, err := natsbus.Connect(natsbus.Config{
			URL:           n.cfg.NATS.URL,
			Subject:       n.cfg.NATS.Subject,
			Name:          "ruledir-" + n.cfg.Node.ID,
			ReconnectWait: n.cfg.NATS.ReconnectWait,
			Timeout:       n.cfg.NATS.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		n.bus = bus
		return bus, nil
	case "raft":
		if err := metrics.RegisterRaft(n.registry); err != nil {
			return nil, fmt.Errorf("register raft metrics: %w", err)
		}
		node, err := cluster.NewNode(cluster.NodeOptions{
			NodeID:           n.cfg.Node.ID,
			RaftAddr:         n.cfg.Raft.Addr,
			RaftDir:          n.cfg.Raft.Dir,
			FSM:              cluster.NewFSM(n.Handler),
			Peers:            n.cfg.Raft.Peers,
			DisableBootstrap: n.cfg.Raft.DisableBootstrap,
			ApplyTimeout:     n.cfg.Raft.ApplyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("raft: %w", err)
		}
		n.raft = node
		return node, nil
	default:
		return rules.LocalBroadcaster{Handler: n.Handler}, nil
	}
}

func (n *Node) readyChecks() map[string]server.ReadyCheck {
	checks := map[string]server.ReadyCheck{}
	if bus := n.bus; bus != nil {
		checks["nats"] = func(context.Context) error {
			if !bus.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if node := n.raft; node != nil {
		checks["raft"] = func(context.Context) error {
			if node.LeaderID() == "" {
				return errors.New("no leader")
			}
			return nil
		}
	}
	if c := n.cache; c != nil {
		checks["cache"] = func(ctx context.Context) error { return c.Ping(ctx) }
	}
	return checks
}

// Router devuelve el handler HTTP del nodo.
func (n *Node) Router() http.Handler { return n.router }

// Registry devuelve el registry de métricas del nodo.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// snapshotSource devuelve la fuente de resync configurada, o nil.
func (n *Node) snapshotSource() snapshot.Source {
	switch n.cfg.Snapshot.Source {
	case "http":
		return snapshot.NewHTTPSource(n.cfg.Snapshot.PeerURL)
	case "cache":
		return snapshot.NewStore(n.cache, n.cfg.Snapshot.Key, n.cfg.Snapshot.TTL)
	}
	return nil
}

// Start se suscribe al fabric y hace el resync inicial. Un resync fallido no es fatal:
// el nodo sigue recibiendo mutaciones en vivo. En modo raft no hay resync acá: config
// lo rechaza y el estado llega por InstallSnapshot.
func (n *Node) Start(ctx context.Context) error {
	ctx = logger.ToContext(ctx, n.log)
	if n.bus != nil {
		if err := n.bus.Subscribe(ctx, n.Handler); err != nil {
			return err
		}
	}
	if src := n.snapshotSource(); src != nil {
		if err := snapshot.Resync(ctx, src, n.Directory); err != nil {
			n.log.Warn("startup resync failed, continuing with live mutations", logger.Err(err))
		}
	}
	return nil
}

// Run arranca el nodo y sirve HTTP en ln hasta que ctx termine. Al salir cierra el
// fabric y después limpia el directorio, así ninguna entrega tardía lo repuebla.
func (n *Node) Run(ctx context.Context, ln net.Listener) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	srv := server.New(ln.Addr().String(), n.router)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.log.Info("http listening", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if n.cfg.Snapshot.Publish && n.cache != nil {
		pub := &snapshot.Publisher{
			Store:    snapshot.NewStore(n.cache, n.cfg.Snapshot.Key, n.cfg.Snapshot.TTL),
			Dir:      n.Directory,
			Node:     n.cfg.Node.ID,
			Interval: n.cfg.Snapshot.PublishInterval,
		}
		g.Go(func() error { return pub.Run(logger.ToContext(gctx, n.log)) })
	}

	err := g.Wait()
	if cerr := n.Close(); cerr != nil {
		n.log.Warn("close", logger.Err(cerr))
	}
	n.Directory.Clear()
	n.log.Info("node stopped")
	return err
}

// Close cierra el fabric y el cache. Es seguro llamarlo más de una vez.
func (n *Node) Close() error {
	var errs []error
	if n.bus != nil {
		errs = append(errs, n.bus.Close())
		n.bus = nil
	}
	if n.raft != nil {
		errs = append(errs, n.raft.Close())
		n.raft = nil
	}
	if n.cache != nil {
		errs = append(errs, n.cache.Close())
		n.cache = nil
	}
	return errors.Join(errs...)
}
