package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/juju/loggo"

	"peblar-bridge/chargers/common"
)

var log = loggo.GetLogger("peblar.api")

// requestLogger sends chi request logs to loggo.
type requestLogger struct{}

func (requestLogger) Print(v ...interface{}) {
	log.Debugf("%s", fmt.Sprint(v...))
}

func contentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// API exposes the charger state and the charge current limit over HTTP.
type API struct {
	router  chi.Router
	handler *handler
}

// NewAPI returns the HTTP API for coord. The charge current limit can only
// be changed when writable is set.
func NewAPI(coord common.Coordinator, writable bool) *API {
	router := chi.NewRouter()
	h := &handler{coord: coord, writable: writable}

	router.Use(chimiddleware.RequestLogger(&chimiddleware.DefaultLogFormatter{
		Logger:  requestLogger{},
		NoColor: true,
	}))
	router.Use(chimiddleware.Recoverer)
	router.Use(contentType)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", h.getSnapshot)
		r.Get("/sensors", h.getSensors)
		r.Post("/refresh", h.refresh)
		r.Put("/charge-current-limit", h.setChargeCurrentLimit)
	})

	return &API{
		router:  router,
		handler: h,
	}
}

// ServeHTTP satisfies the http.Handler interface
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}
