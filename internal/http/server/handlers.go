package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	httperrors "github.com/dropDatabas3/ruledir/internal/http/errors"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/rules"
	"github.com/dropDatabas3/ruledir/internal/snapshot"
	"github.com/go-chi/chi/v5"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBody lee el body limitado a 1MB. Devuelve false si ya escribió el error.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.WriteError(w, httperrors.ErrBodyTooLarge)
			return nil, false
		}
		httperrors.WriteError(w, httperrors.ErrInvalidJSON.WithCause(err))
		return nil, false
	}
	return b, true
}

// mutationResponse es la respuesta de toda ruta que produce o aplica una mutación.
type mutationResponse struct {
	Mutation rules.Mutation `json:"mutation"`
	Outcome  rules.Outcome  `json:"outcome,omitempty"`
}

func writeMutationError(w http.ResponseWriter, err error) {
	if errors.Is(err, rules.ErrMalformed) {
		httperrors.WriteError(w, httperrors.ErrMalformedMutation.WithDetail(err.Error()).WithCause(err))
		return
	}
	httperrors.WriteError(w, httperrors.ErrBroadcastFailed.WithCause(err))
}

// GET /readyz
func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := map[string]string{}
	names := make([]string, 0, len(a.deps.Checks))
	for name := range a.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := a.deps.Checks[name](r.Context()); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"node":       a.deps.NodeID,
		"rules":      a.dir.Len(),
		"tombstones": a.dir.Tombstones(),
		"components": components,
	})
}

// GET /v1/snapshot
func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshot.Document{Node: a.deps.NodeID, Projects: a.dir.SnapshotEntries()})
}

// GET /v1/projects
func (a *api) listProjects(w http.ResponseWriter, r *http.Request) {
	projects := a.dir.Projects()
	if projects == nil {
		projects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GET /v1/projects/{project}/rules
func (a *api) listRules(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	writeJSON(w, http.StatusOK, rules.ProjectRules{Project: project, Rules: a.dir.Get(project)})
}

// PUT /v1/projects/{project}/rules/{id} (body = definición de la regla).
func (a *api) putRule(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}
	m, err := a.deps.Producer.Add(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"), body)
	a.produced(w, r, m, err)
}

// DELETE /v1/projects/{project}/rules/{id}
func (a *api) deleteRule(w http.ResponseWriter, r *http.Request) {
	m, err := a.deps.Producer.Delete(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"))
	a.produced(w, r, m, err)
}

// POST /v1/projects/{project}/rules/{id}/batch
func (a *api) batchRule(w http.ResponseWriter, r *http.Request) {
	m, err := a.deps.Producer.UpdateBatch(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "id"))
	a.produced(w, r, m, err)
}

func (a *api) produced(w http.ResponseWriter, r *http.Request, m rules.Mutation, err error) {
	if err != nil {
		logger.From(r.Context()).Warn("mutation not broadcast", logger.Project(m.Project), logger.RuleID(m.RuleID), logger.Err(err))
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, mutationResponse{Mutation: m})
}

// POST /v1/mutations: aplica una mutación ya versionada por el Handler (replay/ops).
// Con log replicado la mutación se agrega al log y se aplica en todos los nodos (202).
func (a *api) postMutation(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	m, err := rules.Decode(body)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON.WithDetail(err.Error()).WithCause(err))
		return
	}
	if a.deps.Log != nil {
		if err := m.Validate(); err != nil {
			writeMutationError(w, err)
			return
		}
		if err := a.deps.Log.Broadcast(r.Context(), m); err != nil {
			a.produced(w, r, m, err)
			return
		}
		writeJSON(w, http.StatusAccepted, mutationResponse{Mutation: m})
		return
	}
	out, err := a.deps.Handler.Apply(r.Context(), m)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Mutation: m, Outcome: out})
}

// DELETE /v1/admin/directory
func (a *api) clearDirectory(w http.ResponseWriter, r *http.Request) {
	if a.deps.Log != nil {
		httperrors.WriteError(w, httperrors.ErrReplicatedLog)
		return
	}
	a.dir.Clear()
	logger.From(r.Context()).Warn("directory cleared by admin request")
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/admin/raft
func (a *api) raftStatus(w http.ResponseWriter, r *http.Request) {
	rf := a.deps.Raft
	writeJSON(w, http.StatusOK, map[string]any{
		"node":      rf.NodeID(),
		"raft_addr": rf.RaftAddr(),
		"leader":    rf.LeaderID(),
		"is_leader": rf.IsLeader(),
		"stats":     rf.Stats(),
	})
}

type joinRequest struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// POST /v1/admin/raft/join: agrega un voter. Sólo el leader acepta.
func (a *api) raftJoin(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON.WithCause(err))
		return
	}
	if req.ID == "" || req.Addr == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON.WithDetail("id and addr are required"))
		return
	}
	rf := a.deps.Raft
	if !rf.IsLeader() {
		httperrors.WriteError(w, httperrors.ErrNotLeader.WithDetail("leader: "+rf.LeaderID()))
		return
	}
	if err := rf.Join(r.Context(), req.ID, req.Addr); err != nil {
		logger.From(r.Context()).Warn("raft join failed", logger.NodeID(req.ID), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrJoinFailed.WithDetail(err.Error()).WithCause(err))
		return
	}
	logger.From(r.Context()).Info("raft voter added", logger.NodeID(req.ID), logger.String("raft_addr", req.Addr))
	writeJSON(w, http.StatusOK, req)
}
