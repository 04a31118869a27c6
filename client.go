// Package notebooksdk is the typed, reliable client for a remote notebook
// environment: a single entry point that provisions or attaches to a
// notebook via the management API, then wires up the duplex session and
// its subsystem facades in dependency order — in the spirit of this
// module's teacher's Wire() entry point, but driven from the client side
// against one already-running notebook rather than installing a server's
// own middleware stack.
package notebooksdk

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gobuffalo/envy"

	"github.com/johnjansen/notebooksdk/notebookapi"
	"github.com/johnjansen/notebooksdk/session"
)

// DefaultInitTimeout, in seconds, bounds how long Create/Open/Fork wait for
// notebook.initialized.
const DefaultInitTimeout = 30

// Config holds configuration for a Client. Required fields are validated at
// construction; New never panics on bad input, it returns an
// *Error{Kind: KindInvalidConfig}.
type Config struct {
	// BaseURL is the notebook-management API origin; defaults to
	// notebookapi.DefaultBaseURL, overridable via the NOTEBOOK_API_URL
	// environment variable (read through gobuffalo/envy).
	BaseURL string

	// Token authenticates against the management API. Required. It is not
	// sent on the websocket connection.
	Token string

	// SDKVersion is sent as the sdk_version query parameter on the
	// websocket URL; defaults to Version().
	SDKVersion string
}

// Client is the SDK's top-level entry point: the factory for Sessions
// bound to a specific notebook.
type Client struct {
	api *notebookapi.Client
	cfg Config
}

// New validates cfg and constructs a Client. BaseURL falls back to the
// NOTEBOOK_API_URL environment variable, then to notebookapi.DefaultBaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, NewInvalidConfigError("Token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = envy.Get("NOTEBOOK_API_URL", notebookapi.DefaultBaseURL)
	}
	cfg.BaseURL = baseURL
	if cfg.SDKVersion == "" {
		cfg.SDKVersion = Version()
	}

	return &Client{
		api: notebookapi.New(notebookapi.Config{BaseURL: baseURL, Token: cfg.Token}),
		cfg: cfg,
	}, nil
}

// API exposes the underlying management-API client for callers that need
// Create/Get/Fork/Delete directly without opening a Session.
func (c *Client) API() *notebookapi.Client { return c.api }

// Create provisions a new notebook and returns a ready Session bound to it.
func (c *Client) Create(ctx context.Context) (*session.Session, error) {
	nb, err := c.api.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("notebooksdk: create notebook: %w", err)
	}
	return c.open(ctx, nb.OkraURL)
}

// Open attaches to an existing notebook by id and returns a ready Session.
func (c *Client) Open(ctx context.Context, notebookID string) (*session.Session, error) {
	nb, err := c.api.Get(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("notebooksdk: get notebook %s: %w", notebookID, err)
	}
	return c.open(ctx, nb.OkraURL)
}

// Fork creates a copy of notebookID and returns a ready Session bound to
// the fork.
func (c *Client) Fork(ctx context.Context, notebookID string) (*session.Session, error) {
	nb, err := c.api.Fork(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("notebooksdk: fork notebook %s: %w", notebookID, err)
	}
	return c.open(ctx, nb.OkraURL)
}

// Delete tears down notebookID via the management API.
func (c *Client) Delete(ctx context.Context, notebookID string) error {
	_, err := c.api.Delete(ctx, notebookID)
	return err
}

// wireURL appends the sdk_version query parameter spec.md §6 requires on
// every duplex-channel connection to okraUrl.
func (c *Client) wireURL(okraURL string) (string, error) {
	u, err := url.Parse(okraURL)
	if err != nil {
		return "", fmt.Errorf("notebooksdk: invalid okraUrl %q: %w", okraURL, err)
	}
	q := u.Query()
	if c.cfg.SDKVersion != "" {
		q.Set("sdk_version", c.cfg.SDKVersion)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) open(ctx context.Context, okraURL string) (*session.Session, error) {
	wireURL, err := c.wireURL(okraURL)
	if err != nil {
		return nil, err
	}

	sess := session.New(session.Options{URL: wireURL, InitTimeout: DefaultInitTimeout * time.Second})

	if _, err := sess.Ready(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
