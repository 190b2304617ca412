package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"

	"github.com/trawlhq/trawl/modules/admission"
	"github.com/trawlhq/trawl/modules/drainer"
	"github.com/trawlhq/trawl/modules/notifier"
	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/modules/waiter"
	"github.com/trawlhq/trawl/modules/worker"
	"github.com/trawlhq/trawl/pkg/blobstore"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/util/log"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

// App is the root datastructure.
type App struct {
	cfg Config

	ledger     ledger.Ledger
	queue      workqueue.Queue
	store      blobstore.Store
	overrides  *overrides.Overrides
	dispatcher *admission.Dispatcher
	drainer    *drainer.Drainer
	waiter     *waiter.Waiter
	worker     *worker.Worker
	notifier   *notifier.Notifier
	mirror     *admission.Mirror

	server     *http.Server
	router     *mux.Router
	serviceMap map[string]services.Service
	sm         *services.Manager
}

// New makes a new app. Everything is wired here; Run starts it.
func New(cfg Config) (*App, error) {
	app := &App{
		cfg:        cfg,
		serviceMap: map[string]services.Service{},
	}

	o, err := overrides.NewOverrides(cfg.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to create overrides %w", err)
	}
	app.overrides = o
	app.serviceMap["overrides"] = o
	prometheus.MustRegister(&app.cfg.Overrides)

	app.ledger = ledger.New(cfg.Ledger, log.Logger)
	app.queue = workqueue.New(cfg.Queue, log.Logger)

	app.store, err = blobstore.New(cfg.Blobstore, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store %w", err)
	}

	// The notification gate stays a nil interface when no sink is
	// configured so the dispatcher skips it entirely.
	var gate admission.Notifier
	if cfg.Notifier.Enabled() {
		n, err := notifier.New(cfg.Notifier, app.ledger, o, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create notifier %w", err)
		}
		app.notifier = n
		app.serviceMap["notifier"] = n
		gate = n
	}

	if cfg.Admission.Mirror.URL != "" {
		app.mirror = admission.NewMirror(cfg.Admission.Mirror, log.Logger)
		app.serviceMap["mirror"] = app.mirror
	}

	app.dispatcher = admission.NewDispatcher(cfg.Admission, app.ledger, app.queue, o, gate, app.mirror, log.Logger)
	app.waiter = waiter.New(cfg.Waiter, app.queue, app.store, log.Logger)

	app.drainer = drainer.New(cfg.Drainer, app.ledger, app.queue, app.dispatcher, o, log.Logger)
	app.serviceMap["drainer"] = app.drainer

	if cfg.WorkerEnabled {
		w, err := worker.New(cfg.Worker, app.queue, app.ledger, app.store, app.drainer, worker.NewHTTPEngine(cfg.Worker.Engine), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker %w", err)
		}
		app.worker = w
		app.serviceMap["worker"] = w
	}

	app.setupHTTP()
	app.serviceMap["server"] = app.serverService()

	return app, nil
}

// Run starts every service and blocks until a signal or a failure stops the
// service manager.
func (t *App) Run() error {
	servs := make([]services.Service, 0, len(t.serviceMap))
	for _, s := range t.serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to create service manager %w", err)
	}
	t.sm = sm

	t.router.Path("/ready").Handler(t.readyHandler(sm))

	// Let's listen for events from this manager, and log them.
	healthy := func() { level.Info(log.Logger).Log("msg", "Trawl started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "Trawl stopped") }
	serviceFailed := func(service services.Service) {
		// if any service fails, stop everything
		sm.StopAsync()

		// let's find out which module failed
		for m, s := range t.serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "module failed", "module", m, "err", service.FailureCase())
				return
			}
		}

		level.Error(log.Logger).Log("msg", "module failed", "module", "unknown", "err", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	// Setup signal handler. If signal arrives, we stop the manager, which stops all the services.
	handler := signals.NewHandler(log.Logger)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	// Start all services. This can really only fail if some service is already
	// in other state than New, which should not be the case.
	err = sm.StartAsync(context.Background())
	if err != nil {
		return fmt.Errorf("failed to start service manager %w", err)
	}

	return sm.AwaitStopped(context.Background())
}

// Stop asks every service to stop. Run returns once they all have.
func (t *App) Stop() {
	if t.sm != nil {
		t.sm.StopAsync()
	}
}

func (t *App) configHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := yaml.Marshal(t.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			level.Error(log.Logger).Log("msg", "error writing response", "err", err)
		}
	}
}

func (t *App) runtimeConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		if err := t.overrides.WriteStatusRuntimeConfig(w, r); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sm.IsHealthy() {
			msg := bytes.Buffer{}
			msg.WriteString("Some services are not Running:\n")

			byState := sm.ServicesByState()
			for st, ls := range byState {
				msg.WriteString(fmt.Sprintf("%v: %d\n", st, len(ls)))
			}

			http.Error(w, msg.String(), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			level.Error(log.Logger).Log("msg", "error writing response", "err", err)
		}
	}
}

// Dispatcher exposes the admission entry point for an embedding API layer.
func (t *App) Dispatcher() *admission.Dispatcher { return t.dispatcher }

// Waiter exposes the blocking result reader for an embedding API layer.
func (t *App) Waiter() *waiter.Waiter { return t.waiter }

func (t *App) serverService() services.Service {
	running := func(ctx context.Context) error {
		level.Info(log.Logger).Log("msg", "admin server listening", "addr", t.server.Addr)

		errCh := make(chan error, 1)
		go func() { errCh <- t.server.ListenAndServe() }()

		select {
		case err := <-errCh:
			return errors.Wrap(err, "admin server exited")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), t.cfg.ShutdownTimeout)
		defer cancel()
		return t.server.Shutdown(shutdownCtx)
	}

	return services.NewBasicService(nil, running, nil)
}
