package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibesec/vibesec-login/internal/api"
	"github.com/vibesec/vibesec-login/internal/bootstrap"
	"github.com/vibesec/vibesec-login/internal/config"
	"github.com/vibesec/vibesec-login/internal/cookie"
	"github.com/vibesec/vibesec-login/internal/exchange"
	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/server"
	"github.com/vibesec/vibesec-login/internal/session"
	"github.com/vibesec/vibesec-login/internal/storage"
	"github.com/vibesec/vibesec-login/internal/urlutil"
)

const shutdownTimeout = 5 * time.Second

// ErrNoSuccess is returned by Run when it stops before any activation
// finished successfully.
var ErrNoSuccess = errors.New("login did not complete")

// Option customizes a LoginApp
type Option func(*LoginApp)

// WithBackendClient sets the client whose transport and timeout are used
// for every backend call. Mainly for tests against a TLS test server.
func WithBackendClient(hc *http.Client) Option {
	return func(a *LoginApp) {
		a.backendClient = hc
	}
}

// LoginApp is the complete login application: session stores, backend
// clients and the local callback server.
type LoginApp struct {
	config        config.Config
	backendURL    *url.URL
	backendClient *http.Client

	store       storage.Store
	cookieStore *cookie.Store
	sessions    *session.Bootstrapper
	api         *api.Client

	callback   *server.CallbackHandler
	httpServer *server.HTTPServer
	finished   chan bootstrap.Snapshot
}

// NewLoginApp builds the application with all dependencies. Nothing listens
// until Listen or Run is called.
func NewLoginApp(ctx context.Context, cfg config.Config, opts ...Option) (*LoginApp, error) {
	log.LogInfoWithFields("app", "Building login application", map[string]any{
		"backend": cfg.Backend.BaseURL,
		"storage": cfg.Session.Storage,
	})

	backendURL, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	a := &LoginApp{
		config:        cfg,
		backendURL:    backendURL,
		backendClient: http.DefaultClient,
		finished:      make(chan bootstrap.Snapshot, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	store, cookieBackend, err := setupStorage(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	a.store = store
	a.cookieStore = cookie.NewStore(cookieBackend)
	a.sessions = session.NewBootstrapper(store, a.cookieStore)

	paths := api.Paths{
		Me:       cfg.Backend.MePath,
		Logout:   cfg.Backend.LogoutPath,
		Delete:   cfg.Backend.DeletePath,
		TestCode: cfg.Backend.TestCodePath,
		Health:   cfg.Backend.HealthPath,
	}
	a.api, err = api.New(cfg.Backend.BaseURL, paths, a.sessions, a.backendClient)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	exchanger, err := a.buildExchanger()
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.callback = server.NewCallbackHandler(
		func(loc bootstrap.Location, nav bootstrap.Navigator) *bootstrap.Controller {
			return bootstrap.NewController(exchanger, a.sessions, loc, nav, bootstrap.Options{
				LoginURL:        cfg.App.LoginURL,
				EntryURL:        cfg.App.EntryURL,
				RedirectDelay:   cfg.App.RedirectDelay,
				ExchangeTimeout: cfg.Backend.ExchangeTimeout,
			})
		},
		server.CallbackOptions{
			LoginURL:      cfg.App.LoginURL,
			EntryURL:      cfg.App.EntryURL,
			RedirectDelay: cfg.App.RedirectDelay,
			OnChange:      a.observe,
		},
	)
	a.httpServer = server.NewHTTPServer(server.NewMux(a.callback), cfg.Callback.Addr)

	return a, nil
}

// buildExchanger wires the exchange client. The ambient cookies already in
// the cookie store ride along with the request.
func (a *LoginApp) buildExchanger() (*exchange.Client, error) {
	endpoint, err := urlutil.Endpoint(a.config.Backend.BaseURL, a.config.Backend.ExchangePath)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange endpoint: %w", err)
	}
	hc := &http.Client{
		Transport: a.backendClient.Transport,
		Timeout:   a.backendClient.Timeout,
		Jar:       cookie.NewJar(a.cookieStore, a.backendURL),
	}
	return exchange.NewClient(endpoint, exchange.WithHTTPClient(hc)), nil
}

// setupStorage builds the durable session store and a separate backend for
// the mirrored cookies, both from the same session config.
func setupStorage(ctx context.Context, cfg config.SessionConfig) (storage.Store, storage.Store, error) {
	base := storage.Options{
		Kind:           storage.Kind(cfg.Storage),
		EncryptionKey:  []byte(cfg.EncryptionKey),
		KeyringService: cfg.KeyringService,
	}
	if cfg.Redis != nil {
		base.Redis = storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: string(cfg.Redis.Password),
			DB:       cfg.Redis.DB,
		}
	}
	if cfg.Firestore != nil {
		base.Firestore = storage.FirestoreConfig{
			ProjectID:  cfg.Firestore.Project,
			Database:   cfg.Firestore.Database,
			Collection: cfg.Firestore.Collection,
		}
	}

	sessionOpts := base
	sessionOpts.FilePath = cfg.FilePath
	sessionOpts.Redis.KeyPrefix = redisPrefix(cfg, "session")
	sessionOpts.Firestore.Namespace = "session"

	cookieOpts := base
	cookieOpts.FilePath = cfg.CookieFile
	cookieOpts.KeyringService = cfg.KeyringService + "-cookies"
	cookieOpts.Redis.KeyPrefix = redisPrefix(cfg, "cookies")
	cookieOpts.Firestore.Namespace = "cookies"

	store, err := storage.New(ctx, sessionOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("session store: %w", err)
	}
	cookies, err := storage.New(ctx, cookieOpts)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("cookie store: %w", err)
	}

	log.LogInfoWithFields("storage", "Session storage ready", map[string]any{
		"session": store.Name(),
		"cookies": cookies.Name(),
	})
	return store, cookies, nil
}

func redisPrefix(cfg config.SessionConfig, kind string) string {
	prefix := "vibesec:"
	if cfg.Redis != nil && cfg.Redis.KeyPrefix != "" {
		prefix = cfg.Redis.KeyPrefix
	}
	return prefix + kind + ":"
}

// observe sees every transition of every activation
func (a *LoginApp) observe(snap bootstrap.Snapshot) {
	switch {
	case snap.State == bootstrap.StateError:
		log.LogWarnWithFields("app", "Sign-in failed", map[string]any{
			"message": snap.Message,
		})
	case snap.State == bootstrap.StateSuccess && snap.Done:
		select {
		case a.finished <- snap:
		default:
		}
	case snap.State == bootstrap.StateSuccess:
		log.LogInfoWithFields("app", "Signed in", map[string]any{
			"user_id": snap.UserID,
		})
	}
}

// Listen binds the callback address so CallbackURL reports the real port
func (a *LoginApp) Listen() error {
	return a.httpServer.Listen()
}

// CallbackURL is the page the identity provider should redirect to
func (a *LoginApp) CallbackURL() string {
	return "http://" + a.httpServer.Addr() + "/"
}

// CallbackURLWithCode is the callback page carrying code, as the provider
// would deliver it.
func (a *LoginApp) CallbackURLWithCode(code string) (string, error) {
	u, err := url.Parse(a.CallbackURL())
	if err != nil {
		return "", err
	}
	return urlutil.WithParam(u, bootstrap.ParamCode, code).String(), nil
}

// LoginURL is where the browser starts the provider redirect
func (a *LoginApp) LoginURL() string {
	return a.config.App.LoginURL
}

// API is the authenticated backend client
func (a *LoginApp) API() *api.Client {
	return a.api
}

// Sessions is the bootstrapper owning both stores
func (a *LoginApp) Sessions() *session.Bootstrapper {
	return a.sessions
}

// Run serves the callback page until an activation finishes successfully or
// ctx is done. Failed activations are logged and the page stays up so the
// user can retry.
func (a *LoginApp) Run(ctx context.Context) (bootstrap.Snapshot, error) {
	if err := a.Listen(); err != nil {
		return bootstrap.Snapshot{}, fmt.Errorf("binding callback address: %w", err)
	}
	log.LogInfoWithFields("app", "Waiting for sign-in", map[string]any{
		"callback": a.CallbackURL(),
	})

	var result bootstrap.Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("callback server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		select {
		case result = <-a.finished:
		case <-gctx.Done():
			err = ErrNoSuccess
		}

		a.callback.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := a.httpServer.Stop(shutdownCtx); stopErr != nil {
			log.LogErrorWithFields("app", "Callback server shutdown error", map[string]any{
				"error": stopErr.Error(),
			})
		}
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrNoSuccess) && ctx.Err() != nil {
			return bootstrap.Snapshot{}, fmt.Errorf("%w: %w", ErrNoSuccess, ctx.Err())
		}
		return bootstrap.Snapshot{}, err
	}
	return result, nil
}

func (a *LoginApp) closeStores() {
	if err := a.store.Close(); err != nil {
		log.LogWarnWithFields("app", "Failed to close session store", map[string]any{"error": err.Error()})
	}
	if err := a.cookieStore.Close(); err != nil {
		log.LogWarnWithFields("app", "Failed to close cookie store", map[string]any{"error": err.Error()})
	}
}

// Close releases the stores. The app must not be used afterwards.
func (a *LoginApp) Close() error {
	a.callback.Close()
	a.closeStores()
	return nil
}
