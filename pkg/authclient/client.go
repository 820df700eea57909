package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// ErrSignedOut is returned once the session is terminally dead: the refresh
// token itself was rejected and the store has been cleared. Callers must
// send the user back through login; no further retries happen.
var ErrSignedOut = errors.New("authclient: signed out")

// Config configures the Client.
type Config struct {
	// RefreshURL is the absolute URL of the token refresh endpoint.
	RefreshURL string
	// HTTPClient is the underlying transport; http.DefaultClient when nil.
	HTTPClient *http.Client
	// OnSignedOut, when set, is invoked once when the session dies
	// terminally (the client-side equivalent of a forced login redirect).
	OnSignedOut func()
}

// Client wraps an *http.Client with the token lifecycle: it attaches the
// current access token, and on a 401 refreshes the pair under the
// single-flight mutex and retries the original request exactly once. N
// callers racing on an expired credential produce one refresh call.
type Client struct {
	base        *http.Client
	store       *Store
	mutex       *Mutex
	refreshURL  string
	onSignedOut func()
	signedOut   atomic.Bool
}

// New builds a Client around the given store.
func New(store *Store, cfg Config) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	return &Client{
		base:        base,
		store:       store,
		mutex:       NewMutex(),
		refreshURL:  cfg.RefreshURL,
		onSignedOut: cfg.OnSignedOut,
	}
}

// Store exposes the underlying token store, for login/logout flows that set
// or clear the pair directly.
func (c *Client) Store() *Store {
	return c.store
}

// Do sends the request with the current access token. On a 401 response it
// runs the refresh flow and retries once with the fresh token. Requests with
// non-replayable bodies (no GetBody) are not retried; the 401 response is
// returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.signedOut.Load() {
		return nil, ErrSignedOut
	}

	token := c.currentToken()
	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	retry, err := cloneRequest(req)
	if err != nil || retry == nil {
		return resp, nil
	}

	drain(resp)

	if err := c.ensureFresh(req.Context(), token); err != nil {
		return nil, err
	}

	return c.send(retry, c.currentToken())
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.base.Do(req)
}

func (c *Client) currentToken() string {
	if pair, ok := c.store.Get(); ok {
		return pair.AccessToken
	}
	return ""
}

// ensureFresh guarantees the store holds a usable pair when it returns nil.
// The mutex winner performs the refresh; losers wait for release and
// re-check the authentication state instead of issuing their own refresh.
// A caller whose 401 raced an already-completed refresh finds the stored
// token changed and skips its own refresh.
func (c *Client) ensureFresh(ctx context.Context, staleToken string) error {
	if release, ok := c.mutex.TryAcquire(); ok {
		defer release()
		if cur := c.currentToken(); cur != "" && cur != staleToken {
			return nil
		}
		return c.refresh(ctx)
	}

	if err := c.mutex.Wait(ctx); err != nil {
		return err
	}
	if c.signedOut.Load() {
		return ErrSignedOut
	}
	if _, ok := c.store.Get(); !ok {
		return ErrSignedOut
	}
	return nil
}

// refresh exchanges the stored refresh token for a new pair. Failure is
// terminal: the store is cleared and every waiter observes the sign-out.
func (c *Client) refresh(ctx context.Context) error {
	pair, ok := c.store.Get()
	if !ok || pair.RefreshToken == "" {
		c.signOut()
		return ErrSignedOut
	}

	body, err := json.Marshal(map[string]string{"refreshToken": pair.RefreshToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("refresh call: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.signOut()
		return ErrSignedOut
	}

	var payload struct {
		Data struct {
			Auth TokenPair `json:"auth"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.signOut()
		return ErrSignedOut
	}
	if payload.Data.Auth.AccessToken == "" {
		c.signOut()
		return ErrSignedOut
	}

	c.store.Set(payload.Data.Auth)
	return nil
}

func (c *Client) signOut() {
	c.store.Clear()
	if c.signedOut.CompareAndSwap(false, true) && c.onSignedOut != nil {
		c.onSignedOut()
	}
}

// cloneRequest rebuilds the request for the single retry. Returns nil for
// bodies that cannot be replayed.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
