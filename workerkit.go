// Package workerkit provides a high-level façade over the router, model
// invocation, durable object and workflow subsystems, wiring them together
// from a declarative settings file. Most applications interact with this
// package by:
//  1. Loading a config and creating a Worker via New() (optionally overriding
//     default in-memory services)
//  2. Registering durable object classes and workflow classes against the
//     config's bindings
//  3. Registering HTTP routes on App() and calling Listen()
//
// The façade delegates each concern to its subsystem package while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply persistent providers and a
// structured logger.
package workerkit

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/andyjessop/workerkit/ai"
	"github.com/andyjessop/workerkit/config"
	"github.com/andyjessop/workerkit/durable"
	"github.com/andyjessop/workerkit/logging"
	"github.com/andyjessop/workerkit/router"
	"github.com/andyjessop/workerkit/workflow"
)

// Options configures the Worker instance.
type Options struct {
	// Model backs the config's AI binding. Required when the config declares
	// one; ignored otherwise.
	Model ai.Model

	// AIOptions tune the model invocation binding (tool round bound, etc.).
	AIOptions func(o *ai.Options)

	// DurableProvider supplies storage scopes for durable objects.
	// Defaults to an in-memory provider.
	DurableProvider durable.Provider

	// WorkflowStore persists workflow runs and checkpoints.
	// Defaults to an in-memory store.
	WorkflowStore workflow.CheckpointStore

	// RouterOptions tune the HTTP front-end (CORS policy, timeouts).
	RouterOptions func(o *router.Options)

	// Logger defaults to a structured slog logger when the config enables
	// observability, and to a NoOp logger otherwise.
	Logger logging.Logger
}

// Worker aggregates the subsystems declared by a settings file: the HTTP
// app, the AI binding, durable object namespaces and the workflow engine.
type Worker struct {
	cfg    *config.Config
	logger logging.Logger

	app       *fiber.App
	aiBinding *ai.Binding
	engine    *workflow.Engine

	durableProvider durable.Provider
	namespaces      map[string]*durable.Namespace // binding name -> namespace
	doClasses       map[string]string             // class name -> binding name
	wfClasses       map[string]string             // class name -> binding name
	wfRegistered    map[string]bool
}

// New creates a Worker from a validated config with optional overrides. Any
// unset service is initialized with an in-memory implementation.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workerkit: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := Options{
		DurableProvider: durable.NewMemoryProvider(),
		WorkflowStore:   workflow.NewMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		if cfg.Observability.Enabled {
			logger = logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
		} else {
			logger = logging.NoOpLogger{}
		}
	}

	w := &Worker{
		cfg:             cfg,
		logger:          logger,
		durableProvider: opts.DurableProvider,
		namespaces:      map[string]*durable.Namespace{},
		doClasses:       map[string]string{},
		wfClasses:       map[string]string{},
		wfRegistered:    map[string]bool{},
	}

	if cfg.AI != nil {
		if opts.Model == nil {
			return nil, fmt.Errorf("workerkit: config declares ai binding %q but no model was provided", cfg.AI.Binding)
		}
		aiOptFns := []func(o *ai.Options){func(o *ai.Options) { o.Logger = logger }}
		if opts.AIOptions != nil {
			aiOptFns = append(aiOptFns, opts.AIOptions)
		}
		w.aiBinding = ai.NewBinding(opts.Model, aiOptFns...)
	}

	for _, b := range cfg.DurableObjects.Bindings {
		w.doClasses[b.ClassName] = b.Name
	}
	for _, b := range cfg.Workflows {
		w.wfClasses[b.ClassName] = b.Binding
	}

	w.engine = workflow.NewEngine(func(o *workflow.Options) {
		o.Store = opts.WorkflowStore
		o.Logger = logger
	})

	routerOptFns := []func(o *router.Options){func(o *router.Options) {
		o.AppName = cfg.Name
		o.Logger = logger
	}}
	if opts.RouterOptions != nil {
		routerOptFns = append(routerOptFns, opts.RouterOptions)
	}
	w.app = router.New(routerOptFns...)

	return w, nil
}

// RegisterDurableObject binds a durable object class implementation to the
// binding declared for className in the config.
func (w *Worker) RegisterDurableObject(className string, factory durable.Factory) error {
	binding, ok := w.doClasses[className]
	if !ok {
		return fmt.Errorf("workerkit: durable object class %q is not declared in the config", className)
	}
	if _, exists := w.namespaces[binding]; exists {
		return fmt.Errorf("workerkit: durable object class %q already registered", className)
	}
	w.namespaces[binding] = durable.NewNamespace(binding, factory, func(o *durable.NamespaceOptions) {
		o.Provider = w.durableProvider
		o.Logger = w.logger
	})
	return nil
}

// RegisterWorkflow binds a workflow class implementation to the binding
// declared for className in the config.
func (w *Worker) RegisterWorkflow(className string, h workflow.Handler) error {
	binding, ok := w.wfClasses[className]
	if !ok {
		return fmt.Errorf("workerkit: workflow class %q is not declared in the config", className)
	}
	if w.wfRegistered[binding] {
		return fmt.Errorf("workerkit: workflow class %q already registered", className)
	}
	if err := w.engine.Register(binding, h); err != nil {
		return err
	}
	w.wfRegistered[binding] = true
	return nil
}

// AI returns the model invocation binding, or nil when the config declares none.
func (w *Worker) AI() *ai.Binding { return w.aiBinding }

// DurableObject returns the namespace for a durable object binding name.
func (w *Worker) DurableObject(binding string) (*durable.Namespace, error) {
	ns, ok := w.namespaces[binding]
	if !ok {
		return nil, fmt.Errorf("workerkit: no durable object registered for binding %q", binding)
	}
	return ns, nil
}

// Workflows returns the workflow engine. Runs are created against the
// binding names declared in the config.
func (w *Worker) Workflows() *workflow.Engine { return w.engine }

// App returns the HTTP app for route registration.
func (w *Worker) App() *fiber.App { return w.app }

// Config returns the settings the worker was built from.
func (w *Worker) Config() *config.Config { return w.cfg }

// Listen verifies that every configured binding has a registered
// implementation, then serves the application.
func (w *Worker) Listen(addr string) error {
	for _, b := range w.cfg.DurableObjects.Bindings {
		if _, ok := w.namespaces[b.Name]; !ok {
			return fmt.Errorf("workerkit: durable object binding %q has no registered class", b.Name)
		}
	}
	for _, b := range w.cfg.Workflows {
		if !w.wfRegistered[b.Binding] {
			return fmt.Errorf("workerkit: workflow binding %q has no registered class", b.Binding)
		}
	}

	w.logger.Info("worker.listening", "app", w.cfg.Name, "addr", addr)
	return w.app.Listen(addr)
}
