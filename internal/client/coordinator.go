package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// ErrSessionTerminated is returned to every request waiting on a refresh that
// failed. The local credential is cleared and the caller must log in again.
var ErrSessionTerminated = errors.New("client: session terminated")

// Refresher obtains a new access token, typically by presenting the refresh
// cookie to the server.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

func (f RefresherFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// State is the refresh state of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// credential is replaced whole on every change. An empty token means there
// is no usable session.
type credential struct {
	token string
	gen   uint64
}

type outcome struct {
	cred *credential
	err  error
}

// Coordinator attaches the access token to outgoing requests and collapses
// concurrent 401 responses into a single refresh.
type Coordinator struct {
	doer         Doer
	refresher    Refresher
	onTerminated func(error)

	cur atomic.Pointer[credential]

	mu         sync.Mutex
	refreshing bool
	waiters    []chan outcome
	refreshes  atomic.Int64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// OnSessionTerminated registers fn to run once per failed refresh.
func OnSessionTerminated(fn func(error)) CoordinatorOption {
	return func(c *Coordinator) { c.onTerminated = fn }
}

// NewCoordinator builds a coordinator with no token.
func NewCoordinator(doer Doer, refresher Refresher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{doer: doer, refresher: refresher}
	c.cur.Store(&credential{})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current access token, or "" when there is none.
func (c *Coordinator) Token() string { return c.cur.Load().token }

// SetToken installs a token obtained outside a refresh, e.g. from login.
func (c *Coordinator) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.Store(&credential{token: token, gen: c.cur.Load().gen + 1})
}

// Clear drops the current token.
func (c *Coordinator) Clear() { c.SetToken("") }

// State reports whether a refresh is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		return StateRefreshing
	}
	return StateIdle
}

// Refreshes returns how many refresh calls this coordinator has made.
func (c *Coordinator) Refreshes() int64 { return c.refreshes.Load() }

// Do sends req with the current token. A 401 triggers at most one retry,
// after either a refresh or a token change made by another request.
// Requests with a body are retried only when req.GetBody is set.
func (c *Coordinator) Do(req *http.Request) (*http.Response, error) {
	seen := c.cur.Load()
	resp, err := c.send(req, req.Body, seen)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	hasBody := req.Body != nil && req.Body != http.NoBody
	if hasBody && req.GetBody == nil {
		return resp, nil
	}

	next, err := c.await(req.Context(), seen)
	drain(resp)
	if err != nil {
		return nil, err
	}

	body := req.Body
	if hasBody {
		if body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("client: replay body: %w", err)
		}
	}
	return c.send(req, body, next)
}

func (c *Coordinator) send(req *http.Request, body io.ReadCloser, cred *credential) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Body = body
	if cred.token != "" {
		r.Header.Set("Authorization", "Bearer "+cred.token)
	} else {
		r.Header.Del("Authorization")
	}
	return c.doer.Do(r)
}

// await returns the credential to retry with. seen is the credential the
// failed request carried.
func (c *Coordinator) await(ctx context.Context, seen *credential) (*credential, error) {
	c.mu.Lock()
	if cur := c.cur.Load(); cur.gen != seen.gen {
		c.mu.Unlock()
		if cur.token == "" {
			return nil, ErrSessionTerminated
		}
		return cur, nil
	}

	ch := make(chan outcome, 1)
	c.waiters = append(c.waiters, ch)
	lead := !c.refreshing
	c.refreshing = true
	c.mu.Unlock()

	if lead {
		c.refresh(context.WithoutCancel(ctx), seen.gen)
	}
	select {
	case out := <-ch:
		return out.cred, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh calls the refresher once and resolves every waiter in arrival order.
// started is the generation the refresh replaces. When the credential changed
// meanwhile, e.g. through SetToken after a login, the newer credential is kept
// and handed to the waiters whatever the refresh returned.
func (c *Coordinator) refresh(ctx context.Context, started uint64) {
	c.refreshes.Add(1)
	token, err := c.refresher.Refresh(ctx)
	if err == nil && token == "" {
		err = errors.New("empty access token")
	}

	c.mu.Lock()
	var (
		out        outcome
		terminated bool
	)
	switch cur := c.cur.Load(); {
	case cur.gen != started && cur.token != "":
		out.cred = cur
	case cur.gen != started:
		out.err = ErrSessionTerminated
	case err != nil:
		out.err = fmt.Errorf("%w: %w", ErrSessionTerminated, err)
		terminated = true
		c.cur.Store(&credential{gen: cur.gen + 1})
	default:
		out.cred = &credential{token: token, gen: cur.gen + 1}
		c.cur.Store(out.cred)
	}
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}
	if terminated && c.onTerminated != nil {
		c.onTerminated(out.err)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
