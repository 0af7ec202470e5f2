package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vibesec/vibesec-login/internal/bootstrap"
	"github.com/vibesec/vibesec-login/internal/crypto"
	jsonwriter "github.com/vibesec/vibesec-login/internal/json"
	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/urlutil"
)

// ControllerFactory builds the controller for one page load
type ControllerFactory func(loc bootstrap.Location, nav bootstrap.Navigator) *bootstrap.Controller

type CallbackOptions struct {
	LoginURL      string
	EntryURL      string
	RedirectDelay time.Duration
	// OnChange sees every transition of every activation
	OnChange func(bootstrap.Snapshot)
}

// CallbackHandler serves the page the identity provider redirects to. A GET
// is a fresh activation that tears down the previous one, except for
// reloads: the browser keeps showing ?code= until the page has rendered, so
// a repeat of the current code, or a code-less reload after success,
// attaches to the running activation instead. A code is exchanged at most
// once per handler.
type CallbackHandler struct {
	newController ControllerFactory
	opts          CallbackOptions

	mu          sync.Mutex
	current     *bootstrap.Controller
	currentCode string
	consumed    map[string]struct{}
}

func NewCallbackHandler(factory ControllerFactory, opts CallbackOptions) *CallbackHandler {
	return &CallbackHandler{
		newController: factory,
		opts:          opts,
		consumed:      make(map[string]struct{}),
	}
}

// requestLocation is the address bar of the browser that made the request.
// Replace only records the clean address; the page applies it client-side.
type requestLocation struct {
	mu       sync.Mutex
	current  *url.URL
	replaced bool
}

func newRequestLocation(r *http.Request) *requestLocation {
	u := *r.URL
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return &requestLocation{current: &u}
}

func (l *requestLocation) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	u := *l.current
	return &u
}

func (l *requestLocation) Replace(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = u
	l.replaced = true
}

// cleanPath returns the replaced address as a path-relative reference, or
// "" when nothing was replaced.
func (l *requestLocation) cleanPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.replaced {
		return ""
	}
	return l.current.RequestURI()
}

// pageNavigator remembers the first navigation requested while the request
// is still being served, so it can become an HTTP redirect.
type pageNavigator struct {
	mu     sync.Mutex
	target string
}

func (n *pageNavigator) Navigate(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.target == "" {
		n.target = target
	}
	log.LogDebugWithFields("callback", "Navigation", map[string]any{"target": target})
}

func (n *pageNavigator) Target() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// pageLoad is what a GET turns into
type pageLoad int

const (
	loadFresh pageLoad = iota
	loadAttach
	loadReused
)

// claim decides how to serve a GET and, for a fresh load, installs next as
// the current activation. Deciding and installing happen under one lock so
// two concurrent loads of one code cannot both exchange it.
func (h *CallbackHandler) claim(query url.Values, next func() *bootstrap.Controller) (pageLoad, *bootstrap.Controller) {
	code := query.Get(bootstrap.ParamCode)

	h.mu.Lock()
	cur := h.current
	if code != "" {
		if _, seen := h.consumed[code]; seen {
			h.mu.Unlock()
			if cur != nil && code == h.currentCode {
				return loadAttach, cur
			}
			return loadReused, nil
		}
	} else if cur != nil && !query.Has(bootstrap.ParamError) && cur.State().State == bootstrap.StateSuccess {
		h.mu.Unlock()
		return loadAttach, cur
	}

	ctrl := next()
	if code != "" {
		h.consumed[code] = struct{}{}
	}
	h.current = ctrl
	h.currentCode = code
	h.mu.Unlock()

	if cur != nil {
		log.LogDebugWithFields("callback", "Superseding previous activation", nil)
		cur.Teardown()
	}
	return loadFresh, ctrl
}

// Current returns the latest activation, or nil before the first page load
func (h *CallbackHandler) Current() *bootstrap.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Close tears down the current activation
func (h *CallbackHandler) Close() {
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()
	if cur != nil {
		cur.Teardown()
	}
}

// ServeHTTP handles GET / as a page load
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	loc := newRequestLocation(r)
	nav := &pageNavigator{}
	kind, ctrl := h.claim(r.URL.Query(), func() *bootstrap.Controller {
		c := h.newController(loc, nav)
		if h.opts.OnChange != nil {
			c.OnChange(h.opts.OnChange)
		}
		return c
	})

	switch kind {
	case loadReused:
		log.LogWarnWithFields("callback", "Refusing an authorization code that was already used", nil)
		h.render(w, bootstrap.Snapshot{State: bootstrap.StateError, Message: bootstrap.MsgCodeAlreadyUsed, Done: true}, strippedPath(r.URL))
		return
	case loadAttach:
		h.follow(w, r, ctrl)
		return
	}

	// a reload aborts this request but must not abort the exchange it attaches to
	ctrl.Activate(context.WithoutCancel(r.Context()))
	if r.Context().Err() != nil {
		return
	}

	snap := ctrl.State()
	if target := nav.Target(); target != "" && snap.State == bootstrap.StateLoading {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	h.render(w, snap, loc.cleanPath())
}

// follow serves a reload of the running activation: it waits until there is
// something final to show and renders that, without starting anything.
func (h *CallbackHandler) follow(w http.ResponseWriter, r *http.Request, ctrl *bootstrap.Controller) {
	log.LogDebugWithFields("callback", "Reload attached to running activation", nil)
	select {
	case <-ctrl.Settled():
	case <-r.Context().Done():
		return
	}
	h.render(w, ctrl.State(), strippedPath(r.URL))
}

// strippedPath is u without the code, or "" when u had none
func strippedPath(u *url.URL) string {
	if !u.Query().Has(bootstrap.ParamCode) {
		return ""
	}
	return urlutil.WithoutParam(u, bootstrap.ParamCode).RequestURI()
}

func (h *CallbackHandler) render(w http.ResponseWriter, snap bootstrap.Snapshot, cleanURL string) {
	nonce, err := crypto.GenerateSecureToken(16)
	if err != nil {
		log.LogErrorWithFields("callback", "Failed to generate script nonce", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	data := CallbackPageData{
		State:        string(snap.State),
		Message:      snap.Message,
		Redirecting:  snap.Redirecting,
		EntryURL:     h.opts.EntryURL,
		DelaySeconds: int(math.Ceil(h.opts.RedirectDelay.Seconds())),
		CleanURL:     cleanURL,
		Nonce:        nonce,
	}
	if snap.State == bootstrap.StateLoading && snap.Done {
		data.Message = "This sign-in attempt was replaced by a newer one."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'none'; style-src 'unsafe-inline'; script-src 'nonce-%s'; form-action 'self'; base-uri 'none'; frame-ancestors 'none'", nonce))

	status := http.StatusOK
	if snap.State == bootstrap.StateError {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	if err := callbackPageTemplate.Execute(w, data); err != nil {
		log.LogErrorWithFields("callback", "Failed to render callback page", map[string]any{"error": err.Error()})
	}
}

// RestartHandler runs the explicit retry: the current activation is
// abandoned and the browser goes back to login.
func (h *CallbackHandler) RestartHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
			o, err := url.Parse(origin)
			self := &url.URL{Scheme: "http", Host: r.Host}
			if r.TLS != nil {
				self.Scheme = "https"
			}
			if err != nil || !urlutil.SameOrigin(o, self) {
				jsonwriter.WriteError(w, http.StatusForbidden, "forbidden", "cross-origin restart")
				return
			}
		}

		cur := h.Current()
		if cur != nil && cur.State().State == bootstrap.StateSuccess {
			jsonwriter.WriteConflict(w, "sign-in already completed")
			return
		}
		if cur != nil {
			cur.RestartAuthentication()
		}
		http.Redirect(w, r, h.opts.LoginURL, http.StatusSeeOther)
	})
}

// StateHandler reports the current activation as JSON
func (h *CallbackHandler) StateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
			return
		}
		cur := h.Current()
		if cur == nil {
			jsonwriter.WriteNotFound(w, "no activation yet")
			return
		}
		_ = jsonwriter.Write(w, cur.State())
	})
}

// NewMux wires the callback endpoints
func NewMux(h *CallbackHandler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", NewHealthHandler())
	mux.Handle("/state", h.StateHandler())
	mux.Handle("/restart", h.RestartHandler())
	mux.Handle("/{$}", h)

	return ChainMiddleware(mux,
		NewSecurityHeadersMiddleware(),
		NewLoggerMiddleware("callback"),
		NewRecoverMiddleware("callback"),
	)
}
