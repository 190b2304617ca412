package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupHTTP builds the admin router. /ready is registered later, once the
// service manager exists.
func (t *App) setupHTTP() {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Path("/config").HandlerFunc(t.configHandler())
	router.Path("/status/admission").HandlerFunc(t.dispatcher.StatusHandler)
	router.Path("/status/runtime_config").HandlerFunc(t.runtimeConfigHandler())

	t.router = router
	t.server = &http.Server{
		Addr:              t.cfg.listenAddr(),
		Handler:           gzhttp.GzipHandler(router),
		ReadHeaderTimeout: 30 * time.Second,
	}
}
