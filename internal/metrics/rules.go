package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MutationsTotal cuenta mutaciones por kind y resultado (applied|stale|ignored|rejected).
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledir_mutations_total",
		Help: "Mutaciones procesadas por el handler de replicación",
	}, []string{"kind", "outcome"})

	// MergesTotal cuenta resyncs por snapshot (result: ok|error).
	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledir_snapshot_merges_total",
		Help: "Merges de snapshot aplicados al directorio",
	}, []string{"source", "result"})

	// BroadcastsTotal cuenta publicaciones hacia el fabric (result: ok|error).
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ruledir_broadcasts_total",
		Help: "Mutaciones publicadas al fabric de mensajería",
	}, []string{"fabric", "result"})
)

// ObserveMutation registra el resultado de aplicar una mutación.
func ObserveMutation(kind, outcome string) {
	MutationsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveMerge registra un merge de snapshot.
func ObserveMerge(source string, err error) {
	MergesTotal.WithLabelValues(source, result(err)).Inc()
}

// ObserveBroadcast registra una publicación al fabric.
func ObserveBroadcast(fabric string, err error) {
	BroadcastsTotal.WithLabelValues(fabric, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DirectoryStats expone el tamaño del directorio como gauges calculados en cada scrape.
type DirectoryStats interface {
	Len() int
	Tombstones() int
}

// RegisterRules registra las métricas de replicación y, si dir no es nil, los gauges
// del directorio.
func RegisterRules(reg prometheus.Registerer, dir DirectoryStats) error {
	cs := []prometheus.Collector{MutationsTotal, MergesTotal, BroadcastsTotal}
	if dir != nil {
		cs = append(cs,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "ruledir_rules",
				Help: "Reglas vivas en el directorio",
			}, func() float64 { return float64(dir.Len()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "ruledir_tombstones",
				Help: "Tombstones retenidos",
			}, func() float64 { return float64(dir.Tombstones()) }),
		)
	}
	return register(reg, cs...)
}
