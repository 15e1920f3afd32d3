package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/andyjessop/workerkit/logging"
)

// Object is the application logic of a durable object class. Handle is the
// single entry point for calls addressed to the object; the namespace
// guarantees it is never executed concurrently for one identifier, so
// implementations need no internal locking of their own state.
type Object interface {
	Handle(ctx context.Context, method string, payload []byte) (any, error)
}

// ObjectFunc adapts a plain function to the Object interface.
type ObjectFunc func(ctx context.Context, method string, payload []byte) (any, error)

// Handle implements Object.
func (f ObjectFunc) Handle(ctx context.Context, method string, payload []byte) (any, error) {
	return f(ctx, method, payload)
}

// Factory constructs an object instance around its storage-backed state.
// It is invoked lazily on the first call addressed to an identifier, and
// again after an eviction when the identifier is next referenced.
type Factory func(state *State) Object

// State is the per-identifier scope handed to an object: its identity plus
// the storage interface isolated to that identity.
type State struct {
	id      string
	storage Storage
	logger  logging.Logger
}

// ID returns the object's stable identifier.
func (s *State) ID() string { return s.id }

// Storage returns the object's scoped storage.
func (s *State) Storage() Storage { return s.storage }

// Logger returns a logger scoped to the object.
func (s *State) Logger() logging.Logger { return s.logger }

// GetJSON reads a key and decodes its JSON value into out.
func (s *State) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := s.storage.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// PutJSON encodes value as JSON and stores it under key.
func (s *State) PutJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("durable: encode value for key %q: %w", key, err)
	}
	return s.storage.Put(ctx, key, raw)
}

// NamespaceOptions configures a Namespace.
type NamespaceOptions struct {
	// Provider supplies storage scopes. Defaults to an in-memory provider.
	Provider Provider

	// Logger receives structured lifecycle and call logs.
	Logger logging.Logger
}

// Namespace maps stable identifiers to object instances of one class.
// At most one live instance exists per identifier, created lazily on first
// reference. All calls to one identifier are serialized; distinct identifiers
// never contend.
type Namespace struct {
	name     string
	factory  Factory
	provider Provider
	logger   logging.Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// instance pairs a live object with the mutex serializing its execution.
type instance struct {
	mu       sync.Mutex // serializes all calls addressed to one identifier
	obj      Object
	state    *State
	lastUsed time.Time // guarded by mu
	evicted  bool      // guarded by mu; set once the instance left the namespace
}

// NewNamespace constructs a namespace for one object class.
func NewNamespace(name string, factory Factory, optFns ...func(o *NamespaceOptions)) *Namespace {
	opts := NamespaceOptions{
		Provider: NewMemoryProvider(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Namespace{
		name:      name,
		factory:   factory,
		provider:  opts.Provider,
		logger:    opts.Logger,
		instances: make(map[string]*instance),
	}
}

// Name returns the namespace (class binding) name.
func (ns *Namespace) Name() string { return ns.name }

// Get returns a stub addressing the object with the given identifier. The
// instance itself is not created until the first call through the stub.
func (ns *Namespace) Get(id string) *Stub {
	return &Stub{ns: ns, id: id}
}

// Evict removes the live instance for an identifier, if any. State remains
// recoverable from storage; the next reference re-creates the instance.
func (ns *Namespace) Evict(id string) {
	ns.mu.Lock()
	inst, ok := ns.instances[id]
	ns.mu.Unlock()
	if !ok {
		return
	}

	// Wait for an in-flight call to finish, then remove the instance while
	// still holding its mutex. A caller blocked on the mutex wakes to find
	// the instance marked evicted and re-resolves through the namespace, so
	// the old and new instance never execute concurrently.
	inst.mu.Lock()
	inst.evicted = true
	ns.mu.Lock()
	if ns.instances[id] == inst {
		delete(ns.instances, id)
	}
	ns.mu.Unlock()
	inst.mu.Unlock()

	ns.logger.Debug("durable.instance.evicted", "namespace", ns.name, "id", id)
}

// EvictIdle evicts every instance whose last call finished more than maxIdle
// ago. An instance with a call in flight is never considered idle.
func (ns *Namespace) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	ns.mu.Lock()
	var idle []string
	for id, inst := range ns.instances {
		if !inst.mu.TryLock() {
			continue // call in flight
		}
		if inst.lastUsed.Before(cutoff) {
			idle = append(idle, id)
		}
		inst.mu.Unlock()
	}
	ns.mu.Unlock()

	for _, id := range idle {
		ns.Evict(id)
	}
	return len(idle)
}

// Delete evicts the instance and permanently wipes its stored state.
func (ns *Namespace) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ns.Evict(id)
	if err := ns.provider.Wipe(ns.name, id); err != nil {
		return fmt.Errorf("durable: wipe %s/%s: %w", ns.name, id, err)
	}
	ns.logger.Info("durable.instance.deleted", "namespace", ns.name, "id", id)
	return nil
}

// acquire returns the live instance for id, creating it lazily.
func (ns *Namespace) acquire(id string) (*instance, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if inst, ok := ns.instances[id]; ok {
		return inst, nil
	}

	storage, err := ns.provider.Open(ns.name, id)
	if err != nil {
		return nil, fmt.Errorf("durable: open storage for %s/%s: %w", ns.name, id, err)
	}

	state := &State{
		id:      id,
		storage: storage,
		logger:  ns.logger,
	}
	inst := &instance{
		obj:      ns.factory(state),
		state:    state,
		lastUsed: time.Now(),
	}
	ns.instances[id] = inst
	ns.logger.Debug("durable.instance.created", "namespace", ns.name, "id", id)
	return inst, nil
}

// lockLive returns the instance for id with its mutex held. When an eviction
// wins the race for the mutex the stale instance is discarded and the lookup
// starts over against the namespace.
func (ns *Namespace) lockLive(id string) (*instance, error) {
	for {
		inst, err := ns.acquire(id)
		if err != nil {
			return nil, err
		}
		inst.mu.Lock()
		if !inst.evicted {
			return inst, nil
		}
		inst.mu.Unlock()
	}
}

// Stub addresses one durable object identifier within a namespace.
type Stub struct {
	ns *Namespace
	id string
}

// ID returns the addressed identifier.
func (s *Stub) ID() string { return s.id }

// Call invokes the object's handler. Calls to one identifier execute
// strictly serially: a second concurrent call observes all effects of the
// first or does not start until the first fully completes.
func (s *Stub) Call(ctx context.Context, method string, payload []byte) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inst, err := s.ns.lockLive(s.id)
	if err != nil {
		return nil, err
	}
	defer inst.mu.Unlock()

	start := time.Now()
	result, err := inst.obj.Handle(ctx, method, payload)
	inst.lastUsed = time.Now()

	s.ns.logger.Debug(
		"durable.call",
		"namespace", s.ns.name,
		"id", s.id,
		"method", method,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	return result, err
}

// CallJSON invokes the object's handler with a JSON-encoded payload and
// decodes the result into out when out is non-nil.
func (s *Stub) CallJSON(ctx context.Context, method string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("durable: encode payload: %w", err)
	}
	result, err := s.Call(ctx, method, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("durable: encode result: %w", err)
	}
	return json.Unmarshal(encoded, out)
}
