// Package api is the portal: HTML pages for the public, sign-in and signing
// flows and a JSON surface for the deed and cooperative screens.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kolibri/internal/apiclient"
	"kolibri/internal/auth"
	"kolibri/internal/metrics"
	"kolibri/internal/utils"
)

// Deps is everything the portal router needs.
type Deps struct {
	Backend *apiclient.Client
	Auth    *auth.Client
	Cookies *auth.CookieStore
	Gate    *auth.Gate
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Ready reports whether the portal can serve traffic. Optional.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter builds the portal router.
func NewRouter(d Deps) (*mux.Router, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		backend: d.Backend,
		auth:    d.Auth,
		cookies: d.Cookies,
		pages:   p,
		errors:  utils.NewErrorHandler(d.Logger),
		logger:  d.Logger,
	}

	r := mux.NewRouter()
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(d.Gate.Middleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			d.Logger.Debug("health write failed", zap.Error(err))
		}
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				h.errors.WriteErrorResponse(w, http.StatusServiceUnavailable, utils.ErrorCodeServiceDown, err.Error(), r.Header.Get("X-Request-ID"))
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(staticHandler()).Methods(http.MethodGet)

	// Pages.
	r.HandleFunc("/", h.HomePage).Methods(http.MethodGet)
	r.HandleFunc("/login", h.LoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", h.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/signup", h.SignupPage).Methods(http.MethodGet)
	r.HandleFunc("/signup", h.SignupHandler).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.LogoutHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/dashboard", h.DashboardPage).Methods(http.MethodGet)
	r.HandleFunc("/arkiv", h.ArchivePage).Methods(http.MethodGet)
	r.HandleFunc("/skapa-pantbrev", h.NewDeedPage).Methods(http.MethodGet)
	r.HandleFunc("/skapa-pantbrev", h.CreateDeedPage).Methods(http.MethodPost)
	r.HandleFunc("/my-associations", h.requireRole(h.CooperativesPage)).Methods(http.MethodGet)
	r.HandleFunc("/setup-cooperative", h.requireRole(h.SetupCooperativePage)).Methods(http.MethodGet)
	r.HandleFunc("/setup-cooperative", h.requireRole(h.SetupCooperativeHandler)).Methods(http.MethodPost)
	r.HandleFunc("/settings", h.SettingsPage).Methods(http.MethodGet)
	r.HandleFunc("/sign/{token}", h.SignPage).Methods(http.MethodGet)
	r.HandleFunc("/sign/{token}", h.SignHandler).Methods(http.MethodPost)

	// JSON.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/me", h.MeHandler).Methods(http.MethodGet)
	api.HandleFunc("/nav", h.NavHandler).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.DashboardHandler).Methods(http.MethodGet)

	api.HandleFunc("/deeds", h.ListDeedsHandler).Methods(http.MethodGet)
	api.HandleFunc("/deeds", h.CreateDeedHandler).Methods(http.MethodPost)
	api.HandleFunc("/deeds/{id:[0-9]+}", h.GetDeedHandler).Methods(http.MethodGet)
	api.HandleFunc("/deeds/{id:[0-9]+}", h.UpdateDeedHandler).Methods(http.MethodPut)
	api.HandleFunc("/deeds/{id:[0-9]+}", h.DeleteDeedHandler).Methods(http.MethodDelete)
	api.HandleFunc("/deeds/{id:[0-9]+}/send-for-signing", h.SendForSigningHandler).Methods(http.MethodPost)
	api.HandleFunc("/deeds/{id:[0-9]+}/audit-logs", h.AuditLogsHandler).Methods(http.MethodGet)

	api.HandleFunc("/cooperatives", h.ListCooperativesHandler).Methods(http.MethodGet)
	api.HandleFunc("/cooperatives", h.CreateCooperativeHandler).Methods(http.MethodPost)
	api.HandleFunc("/cooperatives/{org}", h.GetCooperativeHandler).Methods(http.MethodGet)
	api.HandleFunc("/cooperatives/{org}", h.UpdateCooperativeHandler).Methods(http.MethodPut)
	api.HandleFunc("/cooperatives/{org}", h.DeleteCooperativeHandler).Methods(http.MethodDelete)

	api.HandleFunc("/statistics/summary", h.SummaryHandler).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.errors.HandleError(w, r, utils.NewAPIError(http.StatusNotFound, "not found"))
	})
	return r, nil
}
