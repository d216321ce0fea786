package versioning

import (
	"context"
	"fmt"
)

// Router turns host lifecycle events on tracked entities into queued work units.
type Router struct {
	entities map[string]*TrackedEntity
	resolver IdentityResolver
	registry *Registry
}

// NewRouter returns a router over the given tracked entities.
func NewRouter(entities []*TrackedEntity, resolver IdentityResolver, registry *Registry) *Router {
	m := make(map[string]*TrackedEntity, len(entities))
	for _, te := range entities {
		m[te.Name] = te
	}
	return &Router{entities: m, resolver: resolver, registry: registry}
}

// Tracked returns the tracked entity called name.
func (r *Router) Tracked(name string) (*TrackedEntity, bool) {
	te, ok := r.entities[name]
	return te, ok
}

// Route queues the work unit for ev. Events on untracked entities are ignored.
func (r *Router) Route(ev Event) error {
	te, ok := r.entities[ev.Entity]
	if !ok {
		return nil
	}
	if ev.Tx == nil {
		return fmt.Errorf("%s %s %v: %w", ev.Op, ev.Entity, ev.ID, ErrNoTransaction)
	}

	ctx := ev.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var w WorkUnit
	switch ev.Op {
	case OpInsert:
		state, err := r.snapshot(ctx, te, ev.State)
		if err != nil {
			return err
		}
		w = NewInsert(te, ev.ID, state)
	case OpUpdate:
		oldState, err := r.snapshot(ctx, te, ev.OldState)
		if err != nil {
			return err
		}
		newState, err := r.snapshot(ctx, te, ev.State)
		if err != nil {
			return err
		}
		w = NewUpdate(te, ev.ID, oldState, newState)
	case OpDelete:
		deleted, err := r.snapshot(ctx, te, ev.OldState)
		if err != nil {
			return err
		}
		w = NewDelete(te, ev.ID, deleted)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownWorkUnit, ev.Op)
	}

	return r.registry.Get(ev.Tx).Add(w)
}

func (r *Router) snapshot(ctx context.Context, te *TrackedEntity, state State) (Snapshot, error) {
	snap := make(Snapshot, len(te.Fields))
	if state == nil {
		return snap, nil
	}
	for _, f := range te.Fields {
		v := state.Value(f.Path)
		if f.Reference != "" && v != nil && r.resolver != nil {
			id, err := r.resolver.IdentityOf(ctx, f.Reference, v)
			if err != nil {
				return nil, fmt.Errorf("resolve %s.%s: %w", te.Name, f.Name, err)
			}
			v = id
		}
		snap[f.Name] = v
	}
	return snap, nil
}
