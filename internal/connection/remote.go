package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/nmoagit/x121-sub001/internal/api"
	"github.com/nmoagit/x121-sub001/internal/store"
)

// Remote is everything needed to talk to one instance: the WebSocket dial
// settings and the HTTP API client. The client id is fixed for the Remote's
// lifetime and sent on both channels, so progress frames for prompts
// submitted here are addressed to this connection.
type Remote struct {
	instance  store.Instance
	clientID  string
	api       *api.Client
	clientCfg ClientConfig
	logger    *slog.Logger
}

// NewRemote creates a Remote for inst. clientCfg.URL is ignored and derived
// from the instance's WebSocket URL.
func NewRemote(inst store.Instance, apiClient *api.Client, clientCfg ClientConfig, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		instance:  inst,
		clientID:  uuid.NewString(),
		api:       apiClient,
		clientCfg: clientCfg,
		logger:    logger,
	}
}

// Instance returns the instance this Remote talks to.
func (r *Remote) Instance() store.Instance { return r.instance }

// ClientID returns the id used for the WebSocket handshake and submissions.
func (r *Remote) ClientID() string { return r.clientID }

// Dial opens a new WebSocket connection to the instance.
func (r *Remote) Dial(ctx context.Context) (Client, error) {
	u, err := WebSocketURL(r.instance.WSURL, r.clientID)
	if err != nil {
		return nil, err
	}

	cfg := r.clientCfg
	cfg.URL = u
	c := NewClient(cfg, r.logger)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("dial %s: %w", r.instance.Name, err)
	}
	return c, nil
}

// Submit queues a workflow and returns the remote prompt id.
func (r *Remote) Submit(ctx context.Context, workflow json.RawMessage) (string, error) {
	resp, err := r.api.SubmitPrompt(ctx, workflow, r.clientID)
	if err != nil {
		return "", err
	}
	return resp.PromptID, nil
}

// Cancel removes a prompt from the remote queue.
func (r *Remote) Cancel(ctx context.Context, promptID string) error {
	return r.api.DeleteFromQueue(ctx, promptID)
}

// Interrupt stops whatever the instance is executing.
func (r *Remote) Interrupt(ctx context.Context) error {
	return r.api.Interrupt(ctx)
}

// History fetches the remote history record of a prompt.
func (r *Remote) History(ctx context.Context, promptID string) (*api.HistoryEntry, error) {
	return r.api.History(ctx, promptID)
}

// WebSocketURL builds the "/ws?clientId=" endpoint from an instance's base
// URL. http and https base URLs are mapped to ws and wss.
func WebSocketURL(base, clientID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse ws url %q: %w", base, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("parse ws url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse ws url %q: missing host", base)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/ws") {
		path += "/ws"
	}
	u.Path = path

	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
