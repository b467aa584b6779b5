package rules

import "fmt"

// Version ordena mutaciones sobre la misma identidad.
// Counter es un reloj de Lamport; Node desempata cuando dos nodos generan el mismo contador.
type Version struct {
	Counter uint64 `json:"counter"`
	Node    string `json:"node,omitempty"`
}

// IsZero reporta si la versión no fue asignada.
func (v Version) IsZero() bool { return v.Counter == 0 && v.Node == "" }

// Compare devuelve -1, 0 o 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Counter < o.Counter:
		return -1
	case v.Counter > o.Counter:
		return 1
	case v.Node < o.Node:
		return -1
	case v.Node > o.Node:
		return 1
	default:
		return 0
	}
}

// Dominates es true sólo si v es estrictamente mayor que o.
func (v Version) Dominates(o Version) bool { return v.Compare(o) > 0 }

func (v Version) String() string {
	if v.Node == "" {
		return fmt.Sprintf("%d", v.Counter)
	}
	return fmt.Sprintf("%d@%s", v.Counter, v.Node)
}
