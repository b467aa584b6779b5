package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome es el resultado de aplicar una mutación al directorio.
type Outcome string

const (
	// OutcomeApplied: la mutación dominó y cambió el slot.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale: la versión no domina la guardada; sin efecto.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored: DELETE/UPDATE_BATCH sobre una identidad que no está viva.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected: mutación mal formada (acompaña a un error).
	OutcomeRejected Outcome = "rejected"
)

// DirectoryOptions configura un Directory.
type DirectoryOptions struct {
	// TombstoneRetention define cuánto se recuerda un DELETE. 0 = sin límite.
	TombstoneRetention time.Duration
}

// Directory es el mapa proyecto -> reglas compartido por todo el proceso.
//
// Cada proyecto tiene su shard: un mutex para escritores y un puntero atómico a una vista
// inmutable. Los lectores cargan la vista y nunca bloquean; los escritores copian la vista,
// la modifican y la publican entera, así que nadie observa una mutación a medias.
type Directory struct {
	shards sync.Map // project -> *shard
	tombs  *tombstones
}

type shard struct {
	mu   sync.Mutex
	view atomic.Pointer[projectView]
}

type projectView struct {
	rules map[string]Rule // ID -> Rule; no se modifica después de publicarse
}

var emptyView = &projectView{rules: map[string]Rule{}}

func NewDirectory(opts DirectoryOptions) *Directory {
	return &Directory{tombs: newTombstones(opts.TombstoneRetention)}
}

func (d *Directory) shard(project string) *shard {
	if s, ok := d.shards.Load(project); ok {
		return s.(*shard)
	}
	s := &shard{}
	s.view.Store(emptyView)
	actual, _ := d.shards.LoadOrStore(project, s)
	return actual.(*shard)
}

func (d *Directory) load(project string) *projectView {
	s, ok := d.shards.Load(project)
	if !ok {
		return emptyView
	}
	return s.(*shard).view.Load()
}

// Get devuelve las reglas vivas del proyecto ordenadas por ID (vacío si no existe).
func (d *Directory) Get(project string) []Rule {
	return d.load(project).sorted()
}

// Projects devuelve los proyectos con al menos una regla viva, ordenados.
func (d *Directory) Projects() []string {
	var out []string
	d.shards.Range(func(k, v any) bool {
		if len(v.(*shard).view.Load().rules) > 0 {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

// Entries devuelve (proyecto, reglas) para cada proyecto no vacío.
// Cada proyecto se lee de una única vista consistente.
func (d *Directory) Entries() []ProjectRules {
	var out []ProjectRules
	d.shards.Range(func(k, v any) bool {
		view := v.(*shard).view.Load()
		if len(view.rules) > 0 {
			out = append(out, ProjectRules{Project: k.(string), Rules: view.sorted()})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// SnapshotEntries es Entries incluyendo los proyectos conocidos que quedaron vacíos
// (Rules = []). Un resync con este set también propaga los DELETE que vaciaron un proyecto.
func (d *Directory) SnapshotEntries() []ProjectRules {
	var out []ProjectRules
	d.shards.Range(func(k, v any) bool {
		out = append(out, ProjectRules{Project: k.(string), Rules: v.(*shard).view.Load().sorted()})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// Len devuelve el total de reglas vivas.
func (d *Directory) Len() int {
	n := 0
	d.shards.Range(func(_, v any) bool {
		n += len(v.(*shard).view.Load().rules)
		return true
	})
	return n
}

// Tombstones devuelve la cantidad de tombstones retenidos.
func (d *Directory) Tombstones() int { return d.tombs.count() }

func (v *projectView) sorted() []Rule {
	out := make([]Rule, 0, len(v.rules))
	for _, r := range v.rules {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mutate corre fn con el lock del proyecto tomado. fn recibe la vista actual y devuelve
// la nueva (nil = sin cambios).
func (d *Directory) mutate(project string, fn func(cur map[string]Rule) (map[string]Rule, Outcome)) Outcome {
	s := d.shard(project)
	s.mu.Lock()
	defer s.mu.Unlock()
	next, out := fn(s.view.Load().rules)
	if next != nil {
		s.view.Store(&projectView{rules: next})
	}
	return out
}

func copyRules(cur map[string]Rule, extra int) map[string]Rule {
	next := make(map[string]Rule, len(cur)+extra)
	for k, v := range cur {
		next[k] = v
	}
	return next
}

// applyAdd crea o reemplaza el slot si la versión domina al slot y a un eventual tombstone.
func (d *Directory) applyAdd(r Rule) Outcome {
	return d.mutate(r.Project, func(cur map[string]Rule) (map[string]Rule, Outcome) {
		if old, ok := cur[r.ID]; ok && !r.Version.Dominates(old.Version) {
			return nil, OutcomeStale
		}
		if tv, ok := d.tombs.get(r.Project, r.ID); ok {
			if !r.Version.Dominates(tv) {
				return nil, OutcomeStale
			}
			d.tombs.drop(r.Project, r.ID)
		}
		next := copyRules(cur, 1)
		next[r.ID] = r
		return next, OutcomeApplied
	})
}

// applyDelete borra el slot si la versión domina. Para identidades ausentes igual deja
// un tombstone, así un ADD más viejo que llegue después no resucita la regla.
func (d *Directory) applyDelete(project, id string, v Version) Outcome {
	return d.mutate(project, func(cur map[string]Rule) (map[string]Rule, Outcome) {
		old, ok := cur[id]
		if !ok {
			if tv, had := d.tombs.get(project, id); had && !v.Dominates(tv) {
				return nil, OutcomeStale
			}
			d.tombs.put(project, id, v)
			return nil, OutcomeIgnored
		}
		if !v.Dominates(old.Version) {
			return nil, OutcomeStale
		}
		next := copyRules(cur, 0)
		delete(next, id)
		d.tombs.put(project, id, v)
		return next, OutcomeApplied
	})
}

// applyUpdateBatch marca BatchStatus en la única regla con ese ID.
func (d *Directory) applyUpdateBatch(project, id string, v Version) Outcome {
	return d.mutate(project, func(cur map[string]Rule) (map[string]Rule, Outcome) {
		old, ok := cur[id]
		if !ok {
			return nil, OutcomeIgnored
		}
		if !v.Dominates(old.Version) {
			return nil, OutcomeStale
		}
		next := copyRules(cur, 0)
		old.BatchStatus = true
		old.Version = v
		next[id] = old
		return next, OutcomeApplied
	})
}

// buildViews valida snap completo y arma las vistas nuevas sin tocar el directorio.
func buildViews(snap Snapshot) (map[string]map[string]Rule, error) {
	views := make(map[string]map[string]Rule, len(snap))
	for project, rs := range snap {
		if strings.TrimSpace(project) == "" {
			return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, errMissingProject)
		}
		m := make(map[string]Rule, len(rs))
		for _, r := range rs {
			if strings.TrimSpace(r.ID) == "" {
				return nil, fmt.Errorf("%w: snapshot project %q: %v", ErrMalformed, project, errMissingID)
			}
			r = r.clone()
			r.Project = project
			m[r.ID] = r
		}
		views[project] = m
	}
	return views, nil
}

// Merge reemplaza por completo el set de cada proyecto presente en snap, sin comparar
// versiones. Es el camino de resync: el snapshot se asume autoritativo.
// Si alguna regla es inválida no se aplica nada.
func (d *Directory) Merge(snap Snapshot) error {
	views, err := buildViews(snap)
	if err != nil {
		return err
	}
	for project, m := range views {
		s := d.shard(project)
		s.mu.Lock()
		for id := range m {
			d.tombs.drop(project, id)
		}
		s.view.Store(&projectView{rules: m})
		s.mu.Unlock()
	}
	return nil
}

// Replace deja el directorio igual a snap: los proyectos de snap toman su vista nueva,
// el resto queda vacío y se descartan todos los tombstones. Cada proyecto cambia de vista
// una sola vez, así que un lector ve el estado anterior o el nuevo, nunca uno vacío intermedio.
// Si alguna regla es inválida no se aplica nada.
func (d *Directory) Replace(snap Snapshot) error {
	views, err := buildViews(snap)
	if err != nil {
		return err
	}
	d.shards.Range(func(k, v any) bool {
		if _, ok := views[k.(string)]; ok {
			return true
		}
		s := v.(*shard)
		s.mu.Lock()
		s.view.Store(emptyView)
		s.mu.Unlock()
		return true
	})
	for project, m := range views {
		s := d.shard(project)
		s.mu.Lock()
		s.view.Store(&projectView{rules: m})
		s.mu.Unlock()
	}
	d.tombs.flush()
	return nil
}

// Clear borra todo el estado, incluidos los tombstones. Uso administrativo.
func (d *Directory) Clear() {
	d.shards.Range(func(_, v any) bool {
		s := v.(*shard)
		s.mu.Lock()
		s.view.Store(emptyView)
		s.mu.Unlock()
		return true
	})
	d.tombs.flush()
}
