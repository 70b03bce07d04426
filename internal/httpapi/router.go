package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"OverlayCompanion/internal/notifications"
	"OverlayCompanion/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type NotificationLister interface {
	Active() []notifications.Active
}

// HostEndpoint is the host bridge as seen by the local API.
type HostEndpoint interface {
	http.Handler
	Send(msg any) error
	Connected() int
}

type RouterOpts struct {
	Logger         *slog.Logger
	IsProd         bool
	AllowedOrigins []string

	DBPing func(context.Context) error

	Session       *service.SessionService
	Friends       *service.FriendsService
	Location      *service.LocationService
	Panel         *service.PanelService
	Earnings      *service.EarningsService
	Prefs         *service.PreferencesService
	Connection    service.ConnectionReporter
	Notifications NotificationLister
	Hub           *Hub
	Host          HostEndpoint
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &api{
		logger:     logger,
		dbPing:     opts.DBPing,
		sessionSvc: opts.Session,
		friendsSvc: opts.Friends,
		locSvc:     opts.Location,
		panelSvc:   opts.Panel,
		earnSvc:    opts.Earnings,
		prefsSvc:   opts.Prefs,
		conn:       opts.Connection,
		notes:      opts.Notifications,
		host:       opts.Host,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	r.HandleFunc("/healthz", api.handleHealthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", api.handleState).Methods(http.MethodGet)
	if opts.Hub != nil {
		v1.Handle("/events", opts.Hub).Methods(http.MethodGet)
	}
	if api.host != nil {
		v1.Handle("/host", api.host).Methods(http.MethodGet)
		v1.HandleFunc("/host/pin", api.handleHostPin).Methods(http.MethodPost)
	}
	if api.sessionSvc != nil {
		v1.HandleFunc("/session", api.handleSessionSet).Methods(http.MethodPost)
	}

	if api.friendsSvc != nil {
		v1.HandleFunc("/friends/refresh", api.handleFriendsRefresh).Methods(http.MethodPost)
		v1.HandleFunc("/friends/requests", api.handleFriendsCreateRequest).Methods(http.MethodPost)
		v1.HandleFunc("/friends/requests/{id}/accept", api.handleFriendsAccept).Methods(http.MethodPost)
		v1.HandleFunc("/friends/requests/{id}/decline", api.handleFriendsDecline).Methods(http.MethodPost)
		v1.HandleFunc("/friends/{id}", api.handleFriendsRemove).Methods(http.MethodDelete)
		v1.HandleFunc("/friends/{id}/name", api.handleFriendsRename).Methods(http.MethodPut)
		v1.HandleFunc("/blocks", api.handleBlocksCreate).Methods(http.MethodPost)
		v1.HandleFunc("/blocks/{id}", api.handleBlocksDelete).Methods(http.MethodDelete)
	}

	if api.locSvc != nil {
		v1.HandleFunc("/location/{id}/toggle", api.handleLocationToggle).Methods(http.MethodPost)
		v1.HandleFunc("/location/{id}/share", api.handleLocationShare).Methods(http.MethodPost)
		v1.HandleFunc("/location/requests/{id}/accept", api.handleLocationAccept).Methods(http.MethodPost)
		v1.HandleFunc("/location/requests/{id}/deny", api.handleLocationDeny).Methods(http.MethodPost)
		v1.HandleFunc("/location/requests/{id}/stop", api.handleLocationStop).Methods(http.MethodPost)
	}

	if api.panelSvc != nil {
		v1.HandleFunc("/panel", api.handlePanelView).Methods(http.MethodGet)
		v1.HandleFunc("/panel/toggle", api.handlePanelToggle).Methods(http.MethodPost)
	}

	if api.earnSvc != nil {
		v1.HandleFunc("/earnings", api.handleEarningsGet).Methods(http.MethodGet)
		v1.HandleFunc("/earnings/start", api.handleEarningsStart).Methods(http.MethodPost)
		v1.HandleFunc("/earnings/stop", api.handleEarningsStop).Methods(http.MethodPost)
		v1.HandleFunc("/earnings/reset", api.handleEarningsReset).Methods(http.MethodPost)
	}

	if api.prefsSvc != nil {
		v1.HandleFunc("/preferences", api.handlePrefsGet).Methods(http.MethodGet)
		v1.HandleFunc("/preferences", api.handlePrefsPatch).Methods(http.MethodPatch)
		v1.HandleFunc("/preferences/windows/{name}", api.handleWindowGet).Methods(http.MethodGet)
		v1.HandleFunc("/preferences/windows/{name}", api.handleWindowPut).Methods(http.MethodPut)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	})

	var h http.Handler = r
	h = c.Handler(h)
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

func handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

type api struct {
	logger *slog.Logger

	dbPing func(context.Context) error

	sessionSvc *service.SessionService
	friendsSvc *service.FriendsService
	locSvc     *service.LocationService
	panelSvc   *service.PanelService
	earnSvc    *service.EarningsService
	prefsSvc   *service.PreferencesService
	conn       service.ConnectionReporter
	notes      NotificationLister
	host       HostEndpoint
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
