package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kolibri/internal/apiclient"
	"kolibri/internal/auth"
	"kolibri/internal/models"
	"kolibri/internal/nav"
	"kolibri/internal/utils"
)

const maxRequestBody = 1 << 20

// Handler serves the portal's JSON surface and pages.
type Handler struct {
	backend *apiclient.Client
	auth    *auth.Client
	cookies *auth.CookieStore
	pages   *pages
	errors  *utils.ErrorHandler
	logger  *zap.Logger
}

// client returns a backend client acting as the request's user.
func (h *Handler) client(r *http.Request) (*apiclient.Client, *auth.Session) {
	sess, ok := auth.FromContext(r.Context())
	if !ok {
		return h.backend, nil
	}
	return h.backend.ForUser(sess.User.ID, sess.AccessToken), sess
}

// fail writes err as a JSON error. Validation failures become 400.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		h.errors.WriteErrorResponse(w, http.StatusBadRequest, utils.ErrorCodeInvalidRequest, verr.Error(), r.Header.Get("X-Request-ID"))
		return
	}
	if utils.IsCanceled(err) {
		// The browser went away; nobody is left to read a response.
		return
	}
	h.errors.HandleError(w, r, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return utils.NewAPIError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func deedID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, utils.NewAPIError(http.StatusBadRequest, "invalid deed id")
	}
	return id, nil
}

// Session.

// MeHandler returns the signed-in user.
func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	_, sess := h.client(r)
	utils.WriteJSON(w, http.StatusOK, sess.User)
}

// NavHandler returns the navigation shell for the signed-in user.
func (h *Handler) NavHandler(w http.ResponseWriter, r *http.Request) {
	_, sess := h.client(r)
	utils.WriteJSON(w, http.StatusOK, nav.For(sess.User))
}

// DashboardView is the overview page payload.
type DashboardView struct {
	Menu    nav.Menu               `json:"nav"`
	Stats   *models.DashboardStats `json:"stats"`
	Summary *models.StatsSummary   `json:"summary"`
}

func (h *Handler) dashboard(r *http.Request) (*DashboardView, error) {
	c, sess := h.client(r)
	view := &DashboardView{Menu: nav.For(sess.User)}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		s, err := c.Dashboard(ctx, sess.User.Role)
		view.Stats = s
		return err
	})
	g.Go(func() error {
		s, err := c.Summary(ctx)
		view.Summary = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// DashboardHandler returns role statistics and the portfolio summary,
// fetched concurrently.
func (h *Handler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.dashboard(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, view)
}

// Deeds.

// ListDeedsHandler lists deeds, forwarding the browser's filters and the
// backend's pagination headers.
func (h *Handler) ListDeedsHandler(w http.ResponseWriter, r *http.Request) {
	c, _ := h.client(r)
	page, err := c.ListDeeds(r.Context(), models.DeedFiltersFromQuery(r.URL.Query()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page.Pagination.WriteHeaders(w.Header())
	utils.WriteJSON(w, http.StatusOK, page.Deeds)
}

// GetDeedHandler returns one deed.
func (h *Handler) GetDeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deedID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	d, err := c.GetDeed(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, d)
}

// CreateDeedHandler validates and creates a deed.
func (h *Handler) CreateDeedHandler(w http.ResponseWriter, r *http.Request) {
	var d models.MortgageDeed
	if err := decodeBody(w, r, &d); err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	created, err := c.CreateDeed(r.Context(), &d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, created)
}

// UpdateDeedHandler validates and replaces a deed.
func (h *Handler) UpdateDeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deedID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var d models.MortgageDeed
	if err := decodeBody(w, r, &d); err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	updated, err := c.UpdateDeed(r.Context(), id, &d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, updated)
}

// DeleteDeedHandler deletes a deed.
func (h *Handler) DeleteDeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deedID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	if err := c.DeleteDeed(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendForSigningHandler starts the signing rounds for a deed.
func (h *Handler) SendForSigningHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deedID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	if err := c.SendForSigning(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// AuditLogsHandler returns a deed's history.
func (h *Handler) AuditLogsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := deedID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	logs, err := c.AuditLogs(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, logs)
}

// Cooperatives.

// ListCooperativesHandler lists cooperatives with pagination headers.
func (h *Handler) ListCooperativesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.CooperativeQuery{Search: strings.TrimSpace(q.Get("search"))}
	query.Page, _ = strconv.Atoi(q.Get("page"))
	query.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	c, _ := h.client(r)
	page, err := c.ListCooperatives(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page.Pagination.WriteHeaders(w.Header())
	utils.WriteJSON(w, http.StatusOK, page.Cooperatives)
}

// GetCooperativeHandler looks a cooperative up by organisation number.
func (h *Handler) GetCooperativeHandler(w http.ResponseWriter, r *http.Request) {
	c, _ := h.client(r)
	coop, err := c.GetCooperative(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, coop)
}

// CreateCooperativeHandler validates and creates a cooperative.
func (h *Handler) CreateCooperativeHandler(w http.ResponseWriter, r *http.Request) {
	var coop models.HousingCooperative
	if err := decodeBody(w, r, &coop); err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	created, err := c.CreateCooperative(r.Context(), &coop)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, created)
}

// UpdateCooperativeHandler validates and replaces a cooperative.
func (h *Handler) UpdateCooperativeHandler(w http.ResponseWriter, r *http.Request) {
	var coop models.HousingCooperative
	if err := decodeBody(w, r, &coop); err != nil {
		h.fail(w, r, err)
		return
	}
	c, _ := h.client(r)
	updated, err := c.UpdateCooperative(r.Context(), mux.Vars(r)["org"], &coop)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, updated)
}

// DeleteCooperativeHandler deletes a cooperative. The backend refuses with
// 409 while deeds still reference it.
func (h *Handler) DeleteCooperativeHandler(w http.ResponseWriter, r *http.Request) {
	c, _ := h.client(r)
	if err := c.DeleteCooperative(r.Context(), mux.Vars(r)["org"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Statistics.

// SummaryHandler returns the portfolio overview.
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	c, _ := h.client(r)
	s, err := c.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, s)
}
