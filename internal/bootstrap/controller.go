// Package bootstrap turns a one-time authorization code on the page address
// into an established session.
//
// A Controller lives for one activation (one page load). It reads the
// address once, strips the code, exchanges it, commits the session and then
// navigates into the app after a short delay. Teardown aborts whatever is in
// flight; nothing is written or reported after it.
package bootstrap

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vibesec/vibesec-login/internal/exchange"
	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/session"
)

const (
	DefaultRedirectDelay   = time.Second
	DefaultExchangeTimeout = 30 * time.Second
)

// State is the visible authentication state. It is never persisted.
type State string

const (
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Exchanger trades an envelope for session artifacts
type Exchanger interface {
	Exchange(ctx context.Context, env exchange.Envelope) (*exchange.Result, error)
}

// Committer persists a session record into every store at once
type Committer interface {
	Commit(ctx context.Context, rec session.Record) error
}

// Options configures a Controller. Zero values fall back to the defaults.
type Options struct {
	LoginURL        string
	EntryURL        string
	RedirectDelay   time.Duration
	ExchangeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoginURL == "" {
		o.LoginURL = "/login"
	}
	if o.EntryURL == "" {
		o.EntryURL = "/dashboard"
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = DefaultRedirectDelay
	}
	if o.ExchangeTimeout <= 0 {
		o.ExchangeTimeout = DefaultExchangeTimeout
	}
	return o
}

// Snapshot is a point-in-time view of a controller
type Snapshot struct {
	State       State  `json:"state"`
	Message     string `json:"message,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Redirecting bool   `json:"redirecting"`
	// Target is where the activation navigated, or will navigate once the
	// success delay has elapsed.
	Target string `json:"target,omitempty"`
	Done   bool   `json:"done"`
}

// Controller runs one activation. It is safe for concurrent use; Activate
// does its work only once however often it is called.
type Controller struct {
	opts      Options
	exchanger Exchanger
	committer Committer
	location  Location
	navigator Navigator

	mu        sync.Mutex
	started   bool
	tornDown  bool
	finished  bool
	cancel    context.CancelFunc
	timer     *time.Timer
	snap      Snapshot
	observers []func(Snapshot)
	done      chan struct{}
	settled   chan struct{}
	isSettled bool

	// published mirrors snap so readers never wait on the lock
	published atomic.Pointer[Snapshot]
}

// NewController builds an activation for the page at loc. Nothing happens
// until Activate.
func NewController(ex Exchanger, committer Committer, loc Location, nav Navigator, opts Options) *Controller {
	c := &Controller{
		opts:      opts.withDefaults(),
		exchanger: ex,
		committer: committer,
		location:  loc,
		navigator: nav,
		snap:      Snapshot{State: StateLoading},
		done:      make(chan struct{}),
		settled:   make(chan struct{}),
	}
	c.publishLocked()
	return c
}

// OnChange registers fn to receive every snapshot after a transition.
// Observers run outside the controller lock, in the goroutine that caused
// the transition.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns the current snapshot. It does not block, even while a
// commit is in progress.
func (c *Controller) State() Snapshot {
	return *c.published.Load()
}

// Done is closed when the activation reaches an end: an error is shown,
// navigation happened, or the controller was torn down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Settled is closed once the activation has left loading or ended, i.e.
// when State has something final to show.
func (c *Controller) Settled() <-chan struct{} {
	return c.settled
}

// Activate runs the bootstrap sequence on the calling goroutine and returns
// once the exchange has settled. Only the first call does anything; later
// calls, including concurrent ones, return immediately. The post-success
// navigation fires later, from a timer.
func (c *Controller) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.tornDown {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	in := intercept(c.location)
	switch in.action {
	case actionLogin:
		c.navigateToLogin()
	case actionFail:
		log.LogWarnWithFields("bootstrap", "Rejected authorization callback", map[string]any{
			"reason": in.message,
		})
		c.fail(ctx, in.message)
	case actionExchange:
		c.exchange(ctx, in.envelope)
	}
}

func (c *Controller) navigateToLogin() {
	c.mu.Lock()
	if c.tornDown || c.snap.State == StateSuccess {
		c.mu.Unlock()
		return
	}
	c.snap.Target = c.opts.LoginURL
	c.finishLocked()
	snap, observers := c.snap, c.observersLocked()
	c.mu.Unlock()

	log.LogDebugWithFields("bootstrap", "No authorization code, sending to login", map[string]any{
		"target": c.opts.LoginURL,
	})
	c.navigator.Navigate(c.opts.LoginURL)
	notify(observers, snap)
}

func (c *Controller) exchange(ctx context.Context, env exchange.Envelope) {
	exCtx, cancel := context.WithTimeout(ctx, c.opts.ExchangeTimeout)
	defer cancel()

	res, err := c.exchanger.Exchange(exCtx, env)
	if err != nil {
		if ctx.Err() != nil {
			log.LogDebugWithFields("bootstrap", "Exchange aborted", nil)
			return
		}
		log.LogWarnWithFields("bootstrap", "Authorization code exchange failed", map[string]any{
			"error": err.Error(),
		})
		c.fail(ctx, exchangeMessage(err))
		return
	}

	rec := session.Record{Token: res.Token, CSRF: res.CSRF, UserID: res.UserID}

	c.mu.Lock()
	// A response that lands after teardown is dropped without writing.
	if c.tornDown || ctx.Err() != nil {
		c.mu.Unlock()
		log.LogDebugWithFields("bootstrap", "Discarding exchange result after teardown", nil)
		return
	}
	if err := c.committer.Commit(context.WithoutCancel(ctx), rec); err != nil {
		c.mu.Unlock()
		log.LogErrorWithFields("bootstrap", "Failed to persist session", map[string]any{
			"error": err.Error(),
		})
		c.fail(ctx, MsgSessionNotSaved)
		return
	}

	c.snap.State = StateSuccess
	c.snap.UserID = rec.UserID
	c.snap.Redirecting = true
	c.snap.Target = c.opts.EntryURL
	c.timer = time.AfterFunc(c.opts.RedirectDelay, c.navigateToEntry)
	c.publishLocked()
	snap, observers := c.snap, c.observersLocked()
	c.mu.Unlock()

	log.LogInfoWithFields("bootstrap", "Session established", map[string]any{
		"user_id": rec.UserID,
		"delay":   c.opts.RedirectDelay.String(),
	})
	notify(observers, snap)
}

func (c *Controller) navigateToEntry() {
	c.mu.Lock()
	if c.tornDown || c.finished {
		c.mu.Unlock()
		return
	}
	c.finishLocked()
	snap, observers := c.snap, c.observersLocked()
	c.mu.Unlock()

	c.navigator.Navigate(c.opts.EntryURL)
	notify(observers, snap)
}

// fail moves to the error state. Only loading may fail; there is no way
// back from success.
func (c *Controller) fail(ctx context.Context, message string) {
	c.mu.Lock()
	if c.tornDown || ctx.Err() != nil || c.snap.State != StateLoading {
		c.mu.Unlock()
		return
	}
	c.snap.State = StateError
	c.snap.Message = message
	c.finishLocked()
	snap, observers := c.snap, c.observersLocked()
	c.mu.Unlock()

	notify(observers, snap)
}

// Teardown aborts the activation. An in-flight exchange is cancelled and a
// pending post-success navigation is dropped. Safe to call more than once.
//
// Teardown waits for a commit that is already writing the session. A
// teardown during loading reports nothing; one after success reports the
// final snapshot, since the session was already committed.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	wasFinished := c.finished
	c.finishLocked()
	var observers []func(Snapshot)
	if c.snap.State == StateSuccess && !wasFinished {
		observers = c.observersLocked()
	}
	snap := c.snap
	c.mu.Unlock()

	notify(observers, snap)
}

// RestartAuthentication abandons this activation and sends the user back to
// the login entry. The code, if any, was already consumed or stripped, so a
// fresh login is the only way forward.
func (c *Controller) RestartAuthentication() {
	c.Teardown()
	log.LogInfoWithFields("bootstrap", "Restarting authentication", map[string]any{
		"target": c.opts.LoginURL,
	})
	c.navigator.Navigate(c.opts.LoginURL)
}

func (c *Controller) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	c.snap.Done = true
	close(c.done)
	c.publishLocked()
}

// publishLocked makes c.snap visible to State and closes settled once there
// is something final to show.
func (c *Controller) publishLocked() {
	snap := c.snap
	c.published.Store(&snap)
	if !c.isSettled && (snap.State != StateLoading || snap.Done) {
		c.isSettled = true
		close(c.settled)
	}
}

func (c *Controller) observersLocked() []func(Snapshot) {
	return slices.Clone(c.observers)
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
