// Package devbackend is an in-memory stand-in for the mortgage-deed backend
// API and the hosted auth service. It backs local development and the
// end-to-end tests of the portal and the CLI.
package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

// AuthPrefix is where the fake auth service is mounted.
const AuthPrefix = "/auth/v1"

// Options configures a Backend.
type Options struct {
	// TokenTTL is the lifetime of issued access tokens. Default one hour.
	TokenTTL time.Duration
	// LinkTTL is the lifetime of signing links. Default seven days.
	LinkTTL time.Duration
	AnonKey string
	Now     func() time.Time
	// OnSigningLink is called for every signing link the backend "mails".
	OnSigningLink func(SigningLink)
	Logger        *zap.Logger
}

// Backend serves both fake services from one handler.
type Backend struct {
	store  *store
	auth   *authService
	logger *zap.Logger
	router *mux.Router

	mu       sync.Mutex
	failures []int
	requests map[string]int
}

// New creates an empty backend.
func New(opts Options) *Backend {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = 7 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Backend{
		store:    newStore(opts.Now, opts.LinkTTL, opts.OnSigningLink),
		auth:     newAuthService(opts.Now, opts.TokenTTL, opts.AnonKey),
		logger:   opts.Logger,
		requests: make(map[string]int),
	}
	b.router = b.newRouter()
	return b
}

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

func (b *Backend) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	b.auth.routes(r.PathPrefix(AuthPrefix).Subrouter())

	public := r.PathPrefix("/api/signing").Subrouter()
	public.Use(b.count, b.injectFailures)
	public.HandleFunc("/verify/{token}", b.handleVerify).Methods(http.MethodGet)
	public.HandleFunc("/sign", b.handleSign).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(b.count, b.injectFailures, b.authenticate)

	api.HandleFunc("/mortgage-deeds", b.handleListDeeds).Methods(http.MethodGet)
	api.HandleFunc("/mortgage-deeds/create", b.handleCreateDeed).Methods(http.MethodPost)
	api.HandleFunc("/mortgage-deeds/deeds/{id:[0-9]+}/send-for-signing", b.handleSendForSigning).Methods(http.MethodPost)
	api.HandleFunc("/mortgage-deeds/{id:[0-9]+}", b.handleGetDeed).Methods(http.MethodGet)
	api.HandleFunc("/mortgage-deeds/{id:[0-9]+}", b.handleUpdateDeed).Methods(http.MethodPut)
	api.HandleFunc("/mortgage-deeds/{id:[0-9]+}", b.handleDeleteDeed).Methods(http.MethodDelete)
	api.HandleFunc("/mortgage-deeds/{id:[0-9]+}/audit-logs", b.handleAuditLogs).Methods(http.MethodGet)

	api.HandleFunc("/housing-cooperatives", b.handleListCooperatives).Methods(http.MethodGet)
	api.HandleFunc("/housing-cooperatives", b.handleCreateCooperative).Methods(http.MethodPost)
	api.HandleFunc("/housing-cooperatives/{org}", b.handleGetCooperative).Methods(http.MethodGet)
	api.HandleFunc("/housing-cooperatives/{org}", b.handleUpdateCooperative).Methods(http.MethodPut)
	api.HandleFunc("/housing-cooperatives/{org}", b.handleDeleteCooperative).Methods(http.MethodDelete)

	api.HandleFunc("/statistics/summary", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.store.summary())
	}).Methods(http.MethodGet)
	api.HandleFunc("/statistics/{scope:bank|cooperative|accounting}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.store.dashboard(mux.Vars(r)["scope"]))
	}).Methods(http.MethodGet)

	return r
}

// Seeding and test hooks.

// SeedUser registers an account with the auth service and returns its id.
func (b *Backend) SeedUser(email, password string, u models.User) (string, error) {
	meta := map[string]any{"role": string(u.Role)}
	for k, v := range map[string]string{
		"user_name": u.UserName,
		"bank_id":   u.BankID,
		"bank_name": u.BankName,
		"phone":     u.Phone,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	acc, err := b.auth.register(email, password, meta)
	if err != nil {
		return "", err
	}
	return acc.ID, nil
}

// SeedCooperative stores c directly, bypassing authentication.
func (b *Backend) SeedCooperative(c models.HousingCooperative) (*models.HousingCooperative, error) {
	return b.store.createCooperative(c, "seed")
}

// SeedDeed stores d directly, bypassing authentication.
func (b *Backend) SeedDeed(d models.MortgageDeed) (*models.MortgageDeed, error) {
	return b.store.createDeed(d, "seed")
}

// SigningLinks returns the unused signing links issued for a deed.
func (b *Backend) SigningLinks(deedID int64) []SigningLink {
	return b.store.links(deedID)
}

// FailNext makes the next len(statuses) API requests fail with the given
// statuses, in order.
func (b *Backend) FailNext(statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, statuses...)
}

// Requests reports how many API requests reached path, failed or not.
func (b *Backend) Requests(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[method+" "+path]
}

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[r.Method+" "+r.URL.Path]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := 0
		if len(b.failures) > 0 {
			status, b.failures = b.failures[0], b.failures[1:]
		}
		b.mu.Unlock()
		if status != 0 {
			writeError(w, utils.NewAPIError(status, "injected failure"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, ok := b.auth.lookup(bearer(r))
		if !ok {
			writeError(w, utils.NewAPIError(http.StatusUnauthorized, "Not authenticated"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, acc.ID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// Handlers.

func (b *Backend) handleListDeeds(w http.ResponseWriter, r *http.Request) {
	f := models.DeedFiltersFromQuery(r.URL.Query())
	if err := f.Validate(); err != nil {
		writeError(w, err)
		return
	}
	deeds, p := b.store.listDeeds(f)
	p.WriteHeaders(w.Header())
	writeJSON(w, http.StatusOK, deeds)
}

func (b *Backend) handleGetDeed(w http.ResponseWriter, r *http.Request) {
	d, err := b.store.getDeed(pathID(r))
	respond(w, http.StatusOK, d, err)
}

func (b *Backend) handleCreateDeed(w http.ResponseWriter, r *http.Request) {
	var d models.MortgageDeed
	if !readJSON(w, r, &d) {
		return
	}
	out, err := b.store.createDeed(d, userID(r))
	respond(w, http.StatusCreated, out, err)
}

func (b *Backend) handleUpdateDeed(w http.ResponseWriter, r *http.Request) {
	var d models.MortgageDeed
	if !readJSON(w, r, &d) {
		return
	}
	out, err := b.store.updateDeed(pathID(r), d, userID(r))
	respond(w, http.StatusOK, out, err)
}

func (b *Backend) handleDeleteDeed(w http.ResponseWriter, r *http.Request) {
	if err := b.store.deleteDeed(pathID(r), userID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleSendForSigning(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := b.store.sendForSigning(id, userID(r)); err != nil {
		writeError(w, err)
		return
	}
	b.logger.Info("deed sent for signing", zap.Int64("deed_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sent for signing"})
}

func (b *Backend) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := b.store.auditLogs(pathID(r))
	respond(w, http.StatusOK, logs, err)
}

func (b *Backend) handleListCooperatives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	coops, p := b.store.listCooperatives(models.CooperativeQuery{Page: page, PageSize: size, Search: q.Get("search")})
	p.WriteHeaders(w.Header())
	writeJSON(w, http.StatusOK, coops)
}

func (b *Backend) handleGetCooperative(w http.ResponseWriter, r *http.Request) {
	c, err := b.store.getCooperative(mux.Vars(r)["org"])
	respond(w, http.StatusOK, c, err)
}

func (b *Backend) handleCreateCooperative(w http.ResponseWriter, r *http.Request) {
	var c models.HousingCooperative
	if !readJSON(w, r, &c) {
		return
	}
	out, err := b.store.createCooperative(c, userID(r))
	respond(w, http.StatusCreated, out, err)
}

func (b *Backend) handleUpdateCooperative(w http.ResponseWriter, r *http.Request) {
	var c models.HousingCooperative
	if !readJSON(w, r, &c) {
		return
	}
	out, err := b.store.updateCooperative(mux.Vars(r)["org"], c)
	respond(w, http.StatusOK, out, err)
}

func (b *Backend) handleDeleteCooperative(w http.ResponseWriter, r *http.Request) {
	if err := b.store.deleteCooperative(mux.Vars(r)["org"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	info, err := b.store.verify(mux.Vars(r)["token"])
	respond(w, http.StatusOK, info, err)
}

func (b *Backend) handleSign(w http.ResponseWriter, r *http.Request) {
	var req models.SignRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := b.store.sign(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Mortgage deed signed successfully"})
}

// Helpers.

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, utils.NewAPIError(http.StatusUnprocessableEntity, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders errors the way the real backend does: a "detail"
// string, or a list of field errors for validation failures.
func writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		items := make([]map[string]any, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			items = append(items, map[string]any{"loc": strings.Split(f.Field, "."), "msg": f.Field + ": " + f.Message})
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": items})
		return
	}
	apiErr := utils.Normalize(err)
	writeJSON(w, apiErr.Status, map[string]string{"detail": apiErr.Message})
}
