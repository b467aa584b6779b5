package rules

import "sync"

// Clock es un reloj de Lamport por nodo.
// Next genera versiones que dominan todo lo observado hasta el momento.
type Clock struct {
	mu      sync.Mutex
	node    string
	counter uint64
}

func NewClock(node string) *Clock {
	return &Clock{node: node}
}

// Node devuelve el id del nodo dueño del reloj.
func (c *Clock) Node() string { return c.node }

// Next avanza el reloj y devuelve una versión nueva.
func (c *Clock) Next() Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return Version{Counter: c.counter, Node: c.node}
}

// Observe adelanta el reloj hasta v.Counter si quedó atrás.
func (c *Clock) Observe(v Version) {
	c.mu.Lock()
	if v.Counter > c.counter {
		c.counter = v.Counter
	}
	c.mu.Unlock()
}

// Current devuelve el último contador emitido u observado.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
