// Package server expone el directorio por HTTP: lectura, snapshot para peers,
// intake de mutaciones locales, /metrics y /readyz.
package server

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/ruledir/internal/http/errors"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyCheck reporta el estado de una dependencia (nil = ok).
type ReadyCheck func(ctx context.Context) error

// RaftAdmin es la parte de cluster.Node que usan las rutas de administración raft.
type RaftAdmin interface {
	Join(ctx context.Context, id, addr string) error
	IsLeader() bool
	LeaderID() string
	NodeID() string
	RaftAddr() string
	Stats() map[string]string
}

// Deps agrupa las dependencias del server.
type Deps struct {
	NodeID   string
	Handler  *rules.Handler
	Producer *rules.Producer
	Gatherer prometheus.Gatherer
	Checks   map[string]ReadyCheck

	// Log, si no es nil, es el log replicado (raft) por el que pasa toda escritura:
	// POST /v1/mutations se publica ahí y DELETE /v1/admin/directory responde 409.
	Log rules.Broadcaster
	// Raft habilita /v1/admin/raft. nil fuera del modo raft.
	Raft RaftAdmin
}

type api struct {
	deps Deps
	dir  *rules.Directory
}

// NewRouter arma el router chi con todas las rutas.
func NewRouter(d Deps) http.Handler {
	a := &api{deps: d, dir: d.Handler.Directory()}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})

	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", a.snapshot)
		r.Get("/projects", a.listProjects)
		r.Route("/projects/{project}/rules", func(r chi.Router) {
			r.Get("/", a.listRules)
			r.Put("/{id}", a.putRule)
			r.Delete("/{id}", a.deleteRule)
			r.Post("/{id}/batch", a.batchRule)
		})
		r.Post("/mutations", a.postMutation)
		r.Delete("/admin/directory", a.clearDirectory)
		if d.Raft != nil {
			r.Get("/admin/raft", a.raftStatus)
			r.Post("/admin/raft/join", a.raftJoin)
		}
	})
	return r
}

// requestLogger inyecta un logger scoped por request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := logger.Named("http").With(
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.ToContext(r.Context(), l)))
		l.Debug("request", logger.Status(ww.Status()), logger.Duration(time.Since(start)))
	})
}

// New devuelve un *http.Server listo para ListenAndServe.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

