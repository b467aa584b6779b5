package rules

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// tombstones guarda la versión del último DELETE aceptado por identidad.
// Con retention 0 los tombstones no expiran nunca.
type tombstones struct {
	c *gocache.Cache
}

func newTombstones(retention time.Duration) *tombstones {
	if retention <= 0 {
		return &tombstones{c: gocache.New(gocache.NoExpiration, 0)}
	}
	cleanup := retention / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &tombstones{c: gocache.New(retention, cleanup)}
}

func tombKey(project, id string) string { return project + "\x00" + id }

func (t *tombstones) get(project, id string) (Version, bool) {
	v, ok := t.c.Get(tombKey(project, id))
	if !ok {
		return Version{}, false
	}
	ver, ok := v.(Version)
	return ver, ok
}

func (t *tombstones) put(project, id string, v Version) {
	t.c.Set(tombKey(project, id), v, gocache.DefaultExpiration)
}

func (t *tombstones) drop(project, id string) {
	t.c.Delete(tombKey(project, id))
}

func (t *tombstones) count() int { return t.c.ItemCount() }

func (t *tombstones) flush() { t.c.Flush() }
