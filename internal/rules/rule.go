package rules

import (
	"bytes"
	"encoding/json"
)

// Rule es una regla de análisis de un proyecto.
// Project+ID es la identidad; el resto es estado replicado.
type Rule struct {
	Project     string          `json:"project"`
	ID          string          `json:"id"`
	Version     Version         `json:"version"`
	BatchStatus bool            `json:"batchStatus"`
	Definition  json.RawMessage `json:"definition,omitempty"`
}

// Equal compara identidad y estado (incluida la definición byte a byte).
func (r Rule) Equal(o Rule) bool {
	return r.Project == o.Project &&
		r.ID == o.ID &&
		r.Version == o.Version &&
		r.BatchStatus == o.BatchStatus &&
		bytes.Equal(r.Definition, o.Definition)
}

func (r Rule) clone() Rule {
	if r.Definition != nil {
		r.Definition = append(json.RawMessage(nil), r.Definition...)
	}
	return r
}

// ProjectRules agrupa las reglas vivas de un proyecto.
type ProjectRules struct {
	Project string `json:"project"`
	Rules   []Rule `json:"rules"`
}

// Snapshot es el mapa autoritativo proyecto -> reglas usado por Merge.
type Snapshot map[string][]Rule

// SnapshotOf arma un Snapshot a partir de Entries.
func SnapshotOf(entries []ProjectRules) Snapshot {
	s := make(Snapshot, len(entries))
	for _, e := range entries {
		s[e.Project] = e.Rules
	}
	return s
}
