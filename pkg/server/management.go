package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/health"
	"github.com/nimburion/configdata/pkg/observability/logger"
	"github.com/nimburion/configdata/pkg/observability/metrics"
)

const redactedValue = "***"

// ManagementOptions wires the management endpoints to the running resolver.
type ManagementOptions struct {
	Health *health.Registry
	// Metrics enables /metrics when set.
	Metrics     *metrics.Registry
	HTTPMetrics *metrics.HTTPMetrics
	// Environment returns the published environment, or nil before the first
	// successful resolve.
	Environment func() *configdata.Environment
	// Refresh enables POST /refresh when set.
	Refresh func(ctx context.Context) error
	// BusRefresh enables POST /bus-refresh when set. It publishes a refresh
	// event for destination, which is empty for every service.
	BusRefresh func(ctx context.Context, destination string) (eventID string, err error)
	// ShowSecrets disables masking. Without it every value fetched from an
	// import is served as "***", and so is any local value whose key names a
	// credential.
	ShowSecrets bool
}

// ManagementServer serves health, metrics, the resolved properties and a
// refresh trigger on a dedicated port:
//
//	GET  /health
//	GET  /metrics
//	GET  /properties
//	GET  /properties/{key}
//	POST /refresh
//	POST /bus-refresh[?destination=service]
//
// When management.auth.jwt_secret is set, the properties and refresh routes
// require a bearer token; /health and /metrics stay open for health checks.
type ManagementServer struct {
	*Server
	router    *mux.Router
	opts      ManagementOptions
	validator *tokenValidator
	log       logger.Logger
}

// NewManagementServer builds the router and the underlying Server. Every
// route runs behind request ID, access log and panic recovery middleware.
// Routes whose hook is nil in opts are not registered and answer 404.
func NewManagementServer(cfg config.ManagementConfig, opts ManagementOptions, log logger.Logger) *ManagementServer {
	if opts.Health == nil {
		opts.Health = health.NewRegistry()
	}
	if opts.Environment == nil {
		opts.Environment = func() *configdata.Environment { return nil }
	}

	s := &ManagementServer{
		router:    mux.NewRouter(),
		opts:      opts,
		validator: newTokenValidator(cfg.Auth),
		log:       log,
	}
	s.router.Use(requestID(), accessLog(log), recovery(log))
	s.registerEndpoints()

	s.Server = NewServer(Config{
		Address:         cfg.Address,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, s.router, log)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *ManagementServer) Handler() http.Handler {
	return s.router
}

func (s *ManagementServer) registerEndpoints() {
	s.handle(s.router, "/health", http.HandlerFunc(s.handleHealth), http.MethodGet)
	if s.opts.Metrics != nil {
		s.handle(s.router, "/metrics", s.opts.Metrics.Handler(), http.MethodGet)
	}

	protected := s.router
	if s.validator != nil {
		protected = s.router.NewRoute().Subrouter()
		protected.Use(authenticate(s.validator, s.log))
	}
	s.handle(protected, "/properties", http.HandlerFunc(s.handleProperties), http.MethodGet)
	s.handle(protected, "/properties/{key}", http.HandlerFunc(s.handleProperty), http.MethodGet)
	if s.opts.Refresh != nil {
		s.handle(protected, "/refresh", http.HandlerFunc(s.handleRefresh), http.MethodPost)
	}
	if s.opts.BusRefresh != nil {
		s.handle(protected, "/bus-refresh", http.HandlerFunc(s.handleBusRefresh), http.MethodPost)
	}
}

func (s *ManagementServer) handle(router *mux.Router, route string, handler http.Handler, method string) {
	if s.opts.HTTPMetrics != nil {
		handler = s.opts.HTTPMetrics.Wrap(route, handler)
	}
	router.Handle(route, handler).Methods(method)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type propertiesBody struct {
	Generation string       `json:"generation"`
	BuiltAt    time.Time    `json:"built_at"`
	Sources    []sourceBody `json:"sources"`
}

type sourceBody struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

type propertyBody struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Origin string `json:"origin"`
}

type refreshBody struct {
	Status     string `json:"status"`
	Generation string `json:"generation,omitempty"`
}

// handleHealth returns 503 when any check is unhealthy.
func (s *ManagementServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.opts.Health.Check(r.Context())
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

// handleProperties lists every source of the published stack in precedence
// order with its (masked) properties.
func (s *ManagementServer) handleProperties(w http.ResponseWriter, r *http.Request) {
	env := s.opts.Environment()
	if env == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_resolved", Message: "environment not resolved yet"})
		return
	}

	stack := env.Snapshot()
	body := propertiesBody{
		Generation: stack.ID(),
		BuiltAt:    stack.BuiltAt(),
		Sources:    make([]sourceBody, 0, len(stack.Sources())),
	}
	for _, source := range stack.Sources() {
		properties := make(map[string]any, source.Len())
		for _, key := range source.Keys() {
			value, _ := source.Get(key)
			properties[key] = s.display(source, key, value)
		}
		body.Sources = append(body.Sources, sourceBody{Name: source.Name(), Properties: properties})
	}
	writeJSON(w, http.StatusOK, body)
}

// handleProperty returns the winning value of one key and the source it
// came from.
func (s *ManagementServer) handleProperty(w http.ResponseWriter, r *http.Request) {
	env := s.opts.Environment()
	if env == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_resolved", Message: "environment not resolved yet"})
		return
	}

	key := mux.Vars(r)["key"]
	for _, source := range env.Snapshot().Sources() {
		if value, ok := source.Get(key); ok {
			writeJSON(w, http.StatusOK, propertyBody{Key: key, Value: s.display(source, key, value), Origin: source.Name()})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "property " + key + " is not set"})
}

// handleRefresh maps refresh errors to status codes: 429 when throttled, 409
// for an environment that cannot be refreshed, 502 when a backend fails. The
// previous stack stays published on failure.
func (s *ManagementServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Refresh(r.Context())
	switch {
	case err == nil:
		body := refreshBody{Status: "refreshed"}
		if env := s.opts.Environment(); env != nil {
			body.Generation = env.Generation()
		}
		writeJSON(w, http.StatusOK, body)
	case errors.Is(err, configdata.ErrRefreshThrottled):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "throttled", Message: err.Error()})
	case errors.Is(err, configdata.ErrNotRefreshable):
		writeJSON(w, http.StatusConflict, errorBody{Error: "not_refreshable", Message: err.Error()})
	default:
		s.log.WithContext(r.Context()).Warn("refresh failed, keeping previous configuration", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "refresh_failed", Message: err.Error()})
	}
}

type busRefreshBody struct {
	Status      string `json:"status"`
	EventID     string `json:"event_id"`
	Destination string `json:"destination,omitempty"`
}

// handleBusRefresh answers 202: the event is only published here, each
// listener refreshes on its own schedule.
func (s *ManagementServer) handleBusRefresh(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("destination")
	eventID, err := s.opts.BusRefresh(r.Context(), destination)
	if err != nil {
		s.log.WithContext(r.Context()).Warn("failed to publish refresh event", "destination", destination, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "publish_failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, busRefreshBody{Status: "published", EventID: eventID, Destination: destination})
}

// display masks imported values whatever their key, and local values whose
// key names a credential.
func (s *ManagementServer) display(source *configdata.PropertySource, key string, value any) any {
	if s.opts.ShowSecrets {
		return value
	}
	if source.Imported() || config.IsSecretKey(key) {
		return redactedValue
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
