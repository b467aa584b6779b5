package rules

import (
	"context"
	"errors"

	"github.com/dropDatabas3/ruledir/internal/metrics"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
)

// HandlerOptions configura el Handler.
type HandlerOptions struct {
	// Clock, si no es nil, observa cada versión entrante para que las mutaciones
	// producidas localmente dominen todo lo visto.
	Clock *Clock
}

// Handler es el único punto de entrada de mutaciones al Directory, sean locales o de un peer.
// Es seguro para uso concurrente.
type Handler struct {
	dir   *Directory
	clock *Clock
}

func NewHandler(dir *Directory, opts HandlerOptions) *Handler {
	return &Handler{dir: dir, clock: opts.Clock}
}

// Directory devuelve el directorio que escribe este handler.
func (h *Handler) Directory() *Directory { return h.dir }

// HandleMessage decodifica un mensaje de wire y lo aplica.
func (h *Handler) HandleMessage(ctx context.Context, data []byte) (Outcome, error) {
	m, err := Decode(data)
	if err != nil {
		metrics.ObserveMutation("unknown", string(OutcomeRejected))
		logger.From(ctx).Warn("rules: undecodable mutation", logger.Component("rules"), logger.Err(err))
		return OutcomeRejected, err
	}
	return h.Apply(ctx, m)
}

// Apply valida y aplica m. Stale e Ignored no son errores.
func (h *Handler) Apply(ctx context.Context, m Mutation) (Outcome, error) {
	log := logger.From(ctx).With(
		logger.Component("rules"),
		logger.Project(m.Project),
		logger.RuleID(m.RuleID),
		logger.Kind(string(m.Kind)),
		logger.Version(m.Version.String()),
	)

	if err := m.Validate(); err != nil {
		metrics.ObserveMutation(string(m.Kind), string(OutcomeRejected))
		log.Warn("rules: mutation rejected", logger.Err(err))
		return OutcomeRejected, err
	}
	if h.clock != nil {
		h.clock.Observe(m.Version)
	}

	var out Outcome
	switch m.Kind {
	case KindAdd:
		out = h.dir.applyAdd(m.rule())
	case KindDelete:
		out = h.dir.applyDelete(m.Project, m.RuleID, m.Version)
	case KindUpdateBatch:
		out = h.dir.applyUpdateBatch(m.Project, m.RuleID, m.Version)
	default:
		// Validate ya filtra kinds desconocidos; esto cubre un Kind agregado sin su rama.
		err := errors.Join(ErrMalformed, errUnknownKind)
		metrics.ObserveMutation(string(m.Kind), string(OutcomeRejected))
		log.Error("rules: no dispatch for kind", logger.Err(err))
		return OutcomeRejected, err
	}

	metrics.ObserveMutation(string(m.Kind), string(out))
	if out == OutcomeApplied {
		log.Debug("rules: mutation applied")
	} else {
		log.Debug("rules: mutation not applied", logger.Outcome(string(out)))
	}
	return out, nil
}
