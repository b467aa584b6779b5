package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"
)

// membershipTimeout es el timeout por defecto para operaciones de membership (AddVoter).
const membershipTimeout = 10 * time.Second

// ErrNotInitialized se devuelve al usar un Node nil o cerrado.
var ErrNotInitialized = errors.New("raft not initialized")

// Node es un wrapper liviano alrededor de *raft.Raft que implementa rules.Broadcaster:
// publicar una mutación es agregarla al log y esperar el commit.
type Node struct {
	r            *raft.Raft
	applyTimeout time.Duration
	id           raft.ServerID
	addr         raft.ServerAddress
	log          *zap.Logger
	membershipMu sync.Mutex
	stop         chan struct{}
}

// NodeOptions configura un Node. Si LogStore/StableStore/SnapshotStore/Transport son nil
// se crean BoltDB, snapshots en disco y transporte TCP bajo RaftDir/RaftAddr.
type NodeOptions struct {
	NodeID   string
	RaftAddr string
	RaftDir  string
	FSM      raft.FSM

	// Peers: conjunto estático nodeID -> raftAddr. Con más de un peer hace bootstrap
	// sólo el de menor NodeID.
	Peers map[string]string

	// DisableBootstrap: el nodo espera a ser agregado por el leader (join-only).
	DisableBootstrap bool

	ApplyTimeout time.Duration
	RaftConfig   *raft.Config

	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore
	Transport     raft.Transport
}

func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.FSM == nil {
		return nil, errors.New("invalid NodeOptions: NodeID and FSM are required")
	}
	log := logger.Named("cluster").With(logger.NodeID(opts.NodeID))

	var boltPath string
	if opts.LogStore == nil || opts.StableStore == nil || opts.SnapshotStore == nil {
		if opts.RaftDir == "" {
			return nil, errors.New("invalid NodeOptions: RaftDir is required for disk stores")
		}
		if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir raft dir: %w", err)
		}
	}
	if opts.LogStore == nil || opts.StableStore == nil {
		boltPath = filepath.Join(opts.RaftDir, "raft.db")
		bolt, err := raftboltdb.NewBoltStore(boltPath)
		if err != nil {
			return nil, fmt.Errorf("bolt store: %w", err)
		}
		opts.LogStore, opts.StableStore = bolt, bolt
	}
	if opts.SnapshotStore == nil {
		snaps, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		opts.SnapshotStore = snaps
	}
	if opts.Transport == nil {
		if opts.RaftAddr == "" {
			return nil, errors.New("invalid NodeOptions: RaftAddr is required for tcp transport")
		}
		trans, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("tcp transport: %w", err)
		}
		opts.Transport = trans
	}

	cfg := opts.RaftConfig
	if cfg == nil {
		cfg = raft.DefaultConfig()
	}
	cfg.LocalID = raft.ServerID(opts.NodeID)

	r, err := raft.NewRaft(cfg, opts.FSM, opts.LogStore, opts.StableStore, opts.SnapshotStore, opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	n := &Node{
		r:            r,
		applyTimeout: opts.ApplyTimeout,
		id:           cfg.LocalID,
		addr:         opts.Transport.LocalAddr(),
		log:          log,
		stop:         make(chan struct{}),
	}
	if n.applyTimeout <= 0 {
		n.applyTimeout = 5 * time.Second
	}

	hasState, err := raft.HasExistingState(opts.LogStore, opts.StableStore, opts.SnapshotStore)
	if err != nil {
		_ = r.Shutdown().Error()
		return nil, fmt.Errorf("check state: %w", err)
	}
	if !hasState {
		if err := n.bootstrap(opts); err != nil {
			_ = r.Shutdown().Error()
			return nil, err
		}
	}

	go n.watchLeadership()
	if boltPath != "" {
		go n.watchLogSize(boltPath)
	}
	return n, nil
}

func (n *Node) bootstrap(opts NodeOptions) error {
	if opts.DisableBootstrap {
		n.log.Info("join-only mode: skipping bootstrap", logger.String("raft_addr", string(n.addr)))
		return nil
	}
	if len(opts.Peers) <= 1 {
		conf := raft.Configuration{Servers: []raft.Server{{ID: n.id, Address: n.addr}}}
		if err := n.r.BootstrapCluster(conf).Error(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		n.log.Info("bootstrapped single-node cluster")
		return nil
	}

	ids := make([]string, 0, len(opts.Peers))
	for id := range opts.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if ids[0] != opts.NodeID {
		n.log.Info("waiting to join static cluster", logger.String("bootstrapper", ids[0]))
		return nil
	}
	servers := make([]raft.Server, 0, len(ids))
	for _, id := range ids {
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(opts.Peers[id])})
	}
	if err := n.r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("bootstrap(static): %w", err)
	}
	n.log.Info("bootstrapped static cluster", logger.Count(len(servers)))
	return nil
}

func (n *Node) watchLeadership() {
	ch := n.r.LeaderCh()
	for {
		select {
		case <-n.stop:
			return
		case v := <-ch:
			if v {
				metrics.RaftLeadershipChanges.Inc()
				n.log.Info("became raft leader")
			}
		}
	}
}

func (n *Node) watchLogSize(path string) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-t.C:
			if st, err := os.Stat(path); err == nil {
				metrics.RaftLogSizeBytes.Set(float64(st.Size()))
			}
		}
	}
}

// Broadcast agrega la mutación al log y espera commit o timeout.
// Sólo el leader acepta escrituras; en un follower devuelve raft.ErrNotLeader.
func (n *Node) Broadcast(ctx context.Context, m rules.Mutation) error {
	data, err := rules.Encode(m)
	if err != nil {
		return err
	}
	resp, err := n.ApplyBytes(ctx, data)
	metrics.ObserveBroadcast("raft", err)
	if err != nil {
		return err
	}
	if ferr, ok := resp.(error); ok {
		return ferr
	}
	return nil
}

// ApplyBytes envía bytes raw al log y devuelve la respuesta del FSM.
func (n *Node) ApplyBytes(ctx context.Context, data []byte) (interface{}, error) {
	if n == nil || n.r == nil {
		return nil, ErrNotInitialized
	}
	start := time.Now()
	fut := n.r.Apply(data, n.applyTimeout)
	if err := wait(ctx, fut); err != nil {
		return nil, err
	}
	metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
	return fut.Response(), nil
}

// wait respeta la cancelación de ctx mientras espera el future.
func wait(ctx context.Context, fut raft.Future) error {
	done := make(chan error, 1)
	go func() { done <- fut.Error() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// WaitForLeader bloquea hasta que el cluster tenga leader o ctx expire.
func (n *Node) WaitForLeader(ctx context.Context) error {
	if n == nil || n.r == nil {
		return ErrNotInitialized
	}
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if _, id := n.r.LeaderWithID(); id != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == raft.Leader
}

func (n *Node) LeaderID() string {
	if n == nil || n.r == nil {
		return ""
	}
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}

func (n *Node) NodeID() string   { return string(n.id) }
func (n *Node) RaftAddr() string { return string(n.addr) }

// Stats expone las estadísticas de raft.Raft.Stats().
func (n *Node) Stats() map[string]string {
	if n == nil || n.r == nil {
		return map[string]string{}
	}
	return n.r.Stats()
}

// Join agrega un voter al cluster. Idempotente si ya existe con la misma dirección;
// si cambió de dirección lo remueve y lo vuelve a agregar. El nodo nuevo recibe el
// estado vía InstallSnapshot (FSM.Restore -> Directory.Merge).
func (n *Node) Join(ctx context.Context, id, addr string) error {
	if n == nil || n.r == nil {
		return ErrNotInitialized
	}
	if id == "" || addr == "" {
		return errors.New("id and addr are required")
	}
	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()

	cf := n.r.GetConfiguration()
	if err := wait(ctx, cf); err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}
	for _, srv := range cf.Configuration().Servers {
		if srv.ID != raft.ServerID(id) {
			continue
		}
		if srv.Address == raft.ServerAddress(addr) {
			return nil
		}
		if err := wait(ctx, n.r.RemoveServer(srv.ID, 0, membershipTimeout)); err != nil {
			return fmt.Errorf("remove server before re-add: %w", err)
		}
		break
	}
	return wait(ctx, n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, membershipTimeout))
}

func (n *Node) Close() error {
	if n == nil || n.r == nil {
		return nil
	}
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
	return n.r.Shutdown().Error()
}
