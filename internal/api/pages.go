package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kolibri/internal/apiclient"
	"kolibri/internal/auth"
	"kolibri/internal/models"
	"kolibri/internal/nav"
	"kolibri/internal/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// pageNames are the templates rendered inside layout.html.
var pageNames = []string{
	"home", "login", "signup", "signup_done", "dashboard", "archive",
	"deed_new", "cooperatives", "cooperative_new", "settings",
	"sign", "sign_done", "error",
}

type pages struct {
	tmpl map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02")
	},
	"datep": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04")
	},
	"join": strings.Join,
	"active": func(it nav.Item, current string) bool {
		return it.Active(current)
	},
	"statusClass": func(s models.DeedStatus) string {
		return strings.ToLower(strings.ReplaceAll(string(s), "_", "-"))
	},
	"add": func(a, b int) int { return a + b },
}

func loadPages() (*pages, error) {
	p := &pages{tmpl: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		p.tmpl[name] = t
	}
	return p, nil
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// pageData is what every template receives.
type pageData struct {
	Title  string
	Path   string
	Menu   *nav.Menu
	Error  string
	Fields []models.FieldError
	Form   map[string]string
	Data   any
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if sess, ok := auth.FromContext(r.Context()); ok && data.Menu == nil {
		m := nav.For(sess.User)
		data.Menu = &m
	}
	data.Path = r.URL.Path

	var buf bytes.Buffer
	if err := h.pages.tmpl[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("template execution failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows err on the error page with its status.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if utils.IsCanceled(err) {
		return
	}
	apiErr := utils.Normalize(err)
	msg := apiErr.Message
	if apiErr.Status >= 500 {
		h.logger.Error("page failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "Something went wrong. Please try again."
	}
	h.render(w, r, apiErr.Status, "error", pageData{Title: "Error", Error: msg})
}

// formError splits err into a message and, for validation failures, the
// failing fields.
func formError(err error) (string, []models.FieldError) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return "Please correct the highlighted fields.", verr.Fields
	}
	return utils.Normalize(err).Message, nil
}

func formValues(r *http.Request, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = r.PostFormValue(k)
	}
	return out
}

// requireRole sends users to the overview when their role may not open the
// requested screen.
func (h *Handler) requireRole(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.FromContext(r.Context())
		if !ok || !nav.Allowed(sess.User.Role, r.URL.Path) {
			http.Redirect(w, r, nav.PathOverview, http.StatusFound)
			return
		}
		next(w, r)
	}
}

// Public pages.

// HomePage is the landing page.
func (h *Handler) HomePage(w http.ResponseWriter, r *http.Request) {
	_, signedIn := auth.FromContext(r.Context())
	h.render(w, r, http.StatusOK, "home", pageData{Title: "Kolibri", Data: signedIn})
}

// LoginPage shows the sign-in form.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login", pageData{Title: "Sign in"})
}

// LoginHandler signs the user in and sets the session cookie.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	form := formValues(r, "email")
	sess, err := h.auth.SignIn(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		msg, _ := formError(err)
		h.render(w, r, utils.StatusOf(err), "login", pageData{Title: "Sign in", Error: msg, Form: form})
		return
	}
	if err := h.cookies.Save(w, sess); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.logger.Info("user signed in", zap.String("user_id", sess.User.ID), zap.String("role", string(sess.User.Role)))
	http.Redirect(w, r, auth.DashboardPath, http.StatusSeeOther)
}

// SignupPage shows the registration form.
func (h *Handler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "signup", pageData{Title: "Create account"})
}

// SignupHandler registers an account. The user confirms their email and
// then signs in; nothing is stored in the cookie here.
func (h *Handler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	form := formValues(r, "email", "user_name", "phone", "bank_name", "role")
	if r.PostFormValue("password") != r.PostFormValue("confirm_password") {
		h.render(w, r, http.StatusBadRequest, "signup", pageData{Title: "Create account", Error: "Passwords do not match", Form: form})
		return
	}
	_, err := h.auth.SignUp(r.Context(), auth.SignUpRequest{
		Email:    form["email"],
		Password: r.PostFormValue("password"),
		UserName: form["user_name"],
		Phone:    form["phone"],
		Role:     models.Role(form["role"]),
		BankName: form["bank_name"],
	})
	if err != nil {
		msg, _ := formError(err)
		h.render(w, r, utils.StatusOf(err), "signup", pageData{Title: "Create account", Error: msg, Form: form})
		return
	}
	h.render(w, r, http.StatusOK, "signup_done", pageData{Title: "Check your email", Data: form["email"]})
}

// LogoutHandler revokes the session, clears the cookie and returns to the
// login page. Revocation is best effort.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if sess, ok := auth.FromContext(r.Context()); ok {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		if err := h.auth.SignOut(ctx, sess.AccessToken); err != nil {
			h.logger.Warn("sign out failed", zap.String("user_id", sess.User.ID), zap.Error(err))
		}
		cancel()
	}
	h.cookies.Clear(w)
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
}

// Signed-in pages.

// DashboardPage shows the role overview.
func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.dashboard(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "dashboard", pageData{Title: "Overview", Menu: &view.Menu, Data: view})
}

type archiveView struct {
	Page     *models.DeedPage
	Status   models.DeedStatus
	Statuses []models.DeedStatus
}

// ArchivePage lists deeds with a status filter.
func (h *Handler) ArchivePage(w http.ResponseWriter, r *http.Request) {
	f := models.DeedFiltersFromQuery(r.URL.Query())
	c, _ := h.client(r)
	page, err := c.ListDeeds(r.Context(), f)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "archive", pageData{
		Title: "Archive",
		Data:  archiveView{Page: page, Status: f.Status, Statuses: models.DeedStatuses},
	})
}

func (h *Handler) cooperativeChoices(ctx context.Context, c *apiclient.Client) []models.HousingCooperative {
	page, err := c.ListCooperatives(ctx, models.CooperativeQuery{PageSize: 100})
	if err != nil {
		h.logger.Warn("failed to load cooperatives", zap.Error(err))
		return nil
	}
	return page.Cooperatives
}

// NewDeedPage shows the mortgage deed form.
func (h *Handler) NewDeedPage(w http.ResponseWriter, r *http.Request) {
	c, _ := h.client(r)
	h.render(w, r, http.StatusOK, "deed_new", pageData{Title: "New mortgage deed", Data: h.cooperativeChoices(r.Context(), c)})
}

// CreateDeedPage validates the form and creates the deed.
func (h *Handler) CreateDeedPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, utils.NewAPIError(http.StatusBadRequest, "invalid form"))
		return
	}
	c, _ := h.client(r)
	d, err := deedFromForm(r.PostForm)
	if err == nil {
		_, err = c.CreateDeed(r.Context(), &d)
	}
	if err != nil {
		msg, fields := formError(err)
		status := utils.StatusOf(err)
		if fields != nil {
			status = http.StatusBadRequest
		}
		form := formValues(r, "credit_numbers", "housing_cooperative_id", "apartment_number",
			"apartment_address", "apartment_postal_code", "apartment_city", "notes")
		h.render(w, r, status, "deed_new", pageData{
			Title: "New mortgage deed", Error: msg, Fields: fields, Form: form,
			Data: h.cooperativeChoices(r.Context(), c),
		})
		return
	}
	http.Redirect(w, r, nav.PathArchive, http.StatusSeeOther)
}

// CooperativesPage lists the cooperatives a board administrator manages.
func (h *Handler) CooperativesPage(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	c, _ := h.client(r)
	list, err := c.ListCooperatives(r.Context(), models.CooperativeQuery{Page: page, Search: r.URL.Query().Get("search")})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "cooperatives", pageData{Title: "My cooperatives", Data: list})
}

// SetupCooperativePage shows the cooperative registration form.
func (h *Handler) SetupCooperativePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "cooperative_new", pageData{Title: "Register cooperative"})
}

// SetupCooperativeHandler validates the form and creates the cooperative.
func (h *Handler) SetupCooperativeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, utils.NewAPIError(http.StatusBadRequest, "invalid form"))
		return
	}
	coop := cooperativeFromForm(r.PostForm)
	c, _ := h.client(r)
	if _, err := c.CreateCooperative(r.Context(), &coop); err != nil {
		msg, fields := formError(err)
		status := utils.StatusOf(err)
		if fields != nil {
			status = http.StatusBadRequest
		}
		form := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		h.render(w, r, status, "cooperative_new", pageData{Title: "Register cooperative", Error: msg, Fields: fields, Form: form})
		return
	}
	http.Redirect(w, r, nav.PathMyCooperatives, http.StatusSeeOther)
}

// SettingsPage shows the account profile.
func (h *Handler) SettingsPage(w http.ResponseWriter, r *http.Request) {
	_, sess := h.client(r)
	h.render(w, r, http.StatusOK, "settings", pageData{Title: "Settings", Data: sess.User})
}

// Signing.

// SignPage verifies a signing link and shows the deed to be signed.
func (h *Handler) SignPage(w http.ResponseWriter, r *http.Request) {
	info, err := h.backend.VerifySigningToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "sign", pageData{Title: "Sign mortgage deed", Data: info})
}

// SignHandler confirms the signature behind a signing link.
func (h *Handler) SignHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if r.PostFormValue("confirm") == "" {
		info, err := h.backend.VerifySigningToken(r.Context(), token)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "sign", pageData{
			Title: "Sign mortgage deed",
			Error: "Please confirm that you have read the deed.",
			Data:  info,
		})
		return
	}
	if err := h.backend.Sign(r.Context(), token); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "sign_done", pageData{Title: "Signed"})
}
