// Package snapshot intercambia snapshots completos del directorio entre nodos para
// el camino de resync (node join o gap detectado en el fabric).
//
// Resync nunca pasa por el Handler: el snapshot se asume autoritativo y se aplica con
// Directory.Merge.
package snapshot

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
)

// Source entrega un snapshot autoritativo proyecto -> reglas.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (rules.Snapshot, error)
}

// Resync trae el snapshot de src y lo mergea en dir.
func Resync(ctx context.Context, src Source, dir *rules.Directory) error {
	log := logger.From(ctx).With(logger.Component("snapshot"), logger.String("source", src.Name()))

	snap, err := src.Fetch(ctx)
	if err != nil {
		metrics.ObserveMerge(src.Name(), err)
		log.Warn("snapshot fetch failed", logger.Err(err))
		return fmt.Errorf("snapshot fetch from %s: %w", src.Name(), err)
	}
	if err := dir.Merge(snap); err != nil {
		metrics.ObserveMerge(src.Name(), err)
		log.Warn("snapshot rejected", logger.Err(err))
		return err
	}
	metrics.ObserveMerge(src.Name(), nil)
	log.Info("directory resynced", logger.Count(len(snap)))
	return nil
}
