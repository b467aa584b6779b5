package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Node struct {
		// ID identifica al nodo; también desempata versiones. Vacío = uuid aleatorio.
		ID string `yaml:"id"`
	} `yaml:"node"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Directory struct {
		// TombstoneRetention: cuánto se recuerda un DELETE. "0" = sin límite.
		TombstoneRetention time.Duration `yaml:"tombstone_retention"`
	} `yaml:"directory"`

	Fabric struct {
		// nats | raft | local
		Kind string `yaml:"kind"`
	} `yaml:"fabric"`

	NATS struct {
		URL           string        `yaml:"url"`
		Subject       string        `yaml:"subject"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"nats"`

	Raft struct {
		Addr             string            `yaml:"addr"`
		Dir              string            `yaml:"dir"`
		Peers            map[string]string `yaml:"peers"`
		DisableBootstrap bool              `yaml:"disable_bootstrap"`
		ApplyTimeout     time.Duration     `yaml:"apply_timeout"`
	} `yaml:"raft"`

	Snapshot struct {
		// Source para el resync de arranque: none | http | cache
		Source  string `yaml:"source"`
		PeerURL string `yaml:"peer_url"`
		Key     string `yaml:"key"`
		// Publish: este nodo publica su directorio en el cache (rol coordinador).
		Publish         bool          `yaml:"publish"`
		PublishInterval time.Duration `yaml:"publish_interval"`
		TTL             time.Duration `yaml:"ttl"`
	} `yaml:"snapshot"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Default devuelve una configuración válida para un nodo único de desarrollo.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load lee el YAML (si path no es vacío), aplica defaults y overrides de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Fabric.Kind == "" {
		c.Fabric.Kind = "local"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "rules.replication"
	}
	if c.Raft.Dir == "" {
		c.Raft.Dir = "data/raft"
	}
	if c.Snapshot.Source == "" {
		c.Snapshot.Source = "none"
	}
	if c.Snapshot.PublishInterval == 0 {
		c.Snapshot.PublishInterval = 30 * time.Second
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "ruledir"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

// applyEnvOverrides: pisa el YAML con variables RULEDIR_*.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("RULEDIR_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RULEDIR_NODE_ID"); ok {
		c.Node.ID = v
	}
	if v, ok := getEnvStr("RULEDIR_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("RULEDIR_HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v, ok := getEnvDur("RULEDIR_TOMBSTONE_RETENTION"); ok {
		c.Directory.TombstoneRetention = v
	}

	// FABRIC
	if v, ok := getEnvStr("RULEDIR_FABRIC"); ok {
		c.Fabric.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RULEDIR_NATS_URL"); ok {
		c.NATS.URL = v
	}
	if v, ok := getEnvStr("RULEDIR_NATS_SUBJECT"); ok {
		c.NATS.Subject = v
	}
	if v, ok := getEnvStr("RULEDIR_RAFT_ADDR"); ok {
		c.Raft.Addr = v
	}
	if v, ok := getEnvStr("RULEDIR_RAFT_DIR"); ok {
		c.Raft.Dir = v
	}
	if v, ok := getEnvStr("RULEDIR_RAFT_PEERS"); ok {
		c.Raft.Peers = parseKVList(v, ",")
	}
	if v, ok := getEnvBool("RULEDIR_RAFT_DISABLE_BOOTSTRAP"); ok {
		c.Raft.DisableBootstrap = v
	}

	// SNAPSHOT
	if v, ok := getEnvStr("RULEDIR_SNAPSHOT_SOURCE"); ok {
		c.Snapshot.Source = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RULEDIR_SNAPSHOT_PEER_URL"); ok {
		c.Snapshot.PeerURL = v
	}
	if v, ok := getEnvBool("RULEDIR_SNAPSHOT_PUBLISH"); ok {
		c.Snapshot.Publish = v
	}
	if v, ok := getEnvDur("RULEDIR_SNAPSHOT_PUBLISH_INTERVAL"); ok {
		c.Snapshot.PublishInterval = v
	}

	// CACHE
	if v, ok := getEnvStr("RULEDIR_CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RULEDIR_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("RULEDIR_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("RULEDIR_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
}

// Validate rechaza combinaciones que el nodo no puede cablear.
func (c *Config) Validate() error {
	var errs []error
	switch c.Fabric.Kind {
	case "local":
	case "nats":
	case "raft":
		if c.Raft.Addr == "" {
			errs = append(errs, errors.New("raft.addr is required when fabric.kind=raft"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fabric.kind %q", c.Fabric.Kind))
	}
	switch c.Snapshot.Source {
	case "none", "cache":
	case "http":
		if c.Snapshot.PeerURL == "" {
			errs = append(errs, errors.New("snapshot.peer_url is required when snapshot.source=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot.source %q", c.Snapshot.Source))
	}
	// raft instala su propio snapshot; un resync por fuera del log divergiría entre réplicas
	if c.Fabric.Kind == "raft" && c.Snapshot.Source != "none" {
		errs = append(errs, errors.New("snapshot.source must be none when fabric.kind=raft"))
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.kind %q", c.Cache.Kind))
	}
	if c.Directory.TombstoneRetention < 0 {
		errs = append(errs, errors.New("directory.tombstone_retention must be >= 0"))
	}
	return errors.Join(errs...)
}
