// Package cluster usa Raft como fabric de mensajería alternativo a NATS:
// cada entrada del log es una rules.Mutation y el FSM la aplica por el mismo Handler
// que usa cualquier otro fabric. Restore usa Directory.Replace.
package cluster

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/hashicorp/raft"
)

// FSM aplica las entradas del log Raft sobre el directorio de reglas.
type FSM struct {
	h *rules.Handler
}

func NewFSM(h *rules.Handler) *FSM { return &FSM{h: h} }

// Apply decodifica la mutación y la pasa al Handler.
// Devuelve rules.Outcome, o error si la entrada está mal formada.
func (f *FSM) Apply(l *raft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return nil
	}
	ctx := logger.ToContext(context.Background(), logger.Named("cluster").With(logger.Int64("raft_index", int64(l.Index))))
	out, err := f.h.HandleMessage(ctx, l.Data)
	if err != nil {
		return err
	}
	return out
}

// Snapshot captura las entradas actuales. Las vistas del directorio son inmutables,
// así que el Persist posterior no necesita lock.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &dirSnap{entries: f.h.Directory().Entries()}, nil
}

// Restore reemplaza todo el directorio con el snapshot (gzip+JSON). Los proyectos
// ausentes del snapshot quedan vacíos.
func (f *FSM) Restore(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("snapshot gzip: %w", err)
	}
	defer gz.Close()

	var entries []rules.ProjectRules
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		return fmt.Errorf("snapshot decode: %w", err)
	}

	err = f.h.Directory().Replace(rules.SnapshotOf(entries))
	metrics.ObserveMerge("raft", err)
	if err != nil {
		return err
	}
	logger.Named("cluster").Info("raft snapshot restored", logger.Count(len(entries)))
	return nil
}

type dirSnap struct {
	entries []rules.ProjectRules
}

func (s *dirSnap) Persist(sink raft.SnapshotSink) error {
	gw := gzip.NewWriter(sink)
	if err := json.NewEncoder(gw).Encode(s.entries); err != nil {
		_ = gw.Close()
		_ = sink.Cancel()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *dirSnap) Release() {}
