package versioning

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"actsasversioned/pkg/logger"
)

// Configuration binds the engine to one host.
type Configuration struct {
	host     Host
	settings settings

	mu          sync.Mutex
	enabled     bool
	entities    []*TrackedEntity
	byName      map[string]*TrackedEntity
	router      *Router
	registry    *Registry
	unsubscribe []func()
}

// NewConfiguration returns a configuration for host. Tracking starts with EnableTracking.
func NewConfiguration(host Host, opts ...Option) *Configuration {
	return &Configuration{
		host:     host,
		settings: newSettings(opts),
		byName:   make(map[string]*TrackedEntity),
	}
}

// EnableTracking derives the history shape of every tracked entity of cfg's host,
// registers the history schemas with the host and subscribes to its lifecycle events.
// Calling it again on the same configuration logs a warning and changes nothing.
func EnableTracking(cfg *Configuration) (*Configuration, error) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if cfg.enabled {
		logger.Warn("versioning already enabled for configuration, ignoring")
		return cfg, nil
	}

	descs := cfg.host.Entities()
	index := make(map[string]EntityDescriptor, len(descs))
	for _, d := range descs {
		index[d.Name] = d
	}
	lookup := func(name string) (EntityDescriptor, bool) {
		d, ok := index[name]
		return d, ok
	}

	var entities []*TrackedEntity
	for _, d := range descs {
		if !d.Tracked {
			continue
		}
		te, err := derive(d, lookup, cfg.settings)
		if err != nil {
			return nil, err
		}
		entities = append(entities, te)
	}

	for _, te := range entities {
		if err := cfg.host.RegisterHistorySchema(te.HistorySchema()); err != nil {
			return nil, fmt.Errorf("register history schema %s: %w", te.Table, err)
		}
	}

	registry := NewRegistry(cfg.settings.observer)
	router := NewRouter(entities, cfg.host, registry)

	var unsubscribe []func()
	for _, op := range []Op{OpInsert, OpUpdate, OpDelete} {
		unsub, err := cfg.host.Subscribe(op, router.Route)
		if err != nil {
			for _, u := range unsubscribe {
				u()
			}
			return nil, fmt.Errorf("subscribe %s: %w", op, err)
		}
		unsubscribe = append(unsubscribe, unsub)
	}

	for _, te := range entities {
		cfg.byName[te.Name] = te
		logger.Info("versioning enabled",
			zap.String("entity", te.Name),
			zap.String("table", te.Table),
			zap.Int("fields", len(te.Fields)))
	}
	cfg.entities = entities
	cfg.registry = registry
	cfg.router = router
	cfg.unsubscribe = unsubscribe
	cfg.enabled = true
	return cfg, nil
}

// Enabled reports whether EnableTracking has run for cfg.
func (c *Configuration) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Entity returns the tracked entity called name.
func (c *Configuration) Entity(name string) (*TrackedEntity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.byName[name]
	return te, ok
}

// Entities returns the tracked entities in host order.
func (c *Configuration) Entities() []*TrackedEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TrackedEntity(nil), c.entities...)
}

// HistorySchemas returns the history table descriptions of every tracked entity.
func (c *Configuration) HistorySchemas() []HistorySchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	schemas := make([]HistorySchema, 0, len(c.entities))
	for _, te := range c.entities {
		schemas = append(schemas, te.HistorySchema())
	}
	return schemas
}

// Registry returns the transaction registry, or nil before EnableTracking.
func (c *Configuration) Registry() *Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// Close releases the lifecycle subscriptions.
func (c *Configuration) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.unsubscribe {
		u()
	}
	c.unsubscribe = nil
}
