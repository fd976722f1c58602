// Package relay implements the signal relay client over the polling
// request/response channel exposed by the directory service. No persistent
// transport is assumed; Poll is the only inbound path.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/convento/voicemesh/internal/domain"
)

// ErrTransport wraps every relay-level delivery failure: timeouts,
// connection errors and non-success statuses.
var ErrTransport = errors.New("relay transport error")

type Client struct {
	base string
	hc   *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: timeout},
	}
}

// Send delivers one envelope to the relay, fire-and-forget.
func (c *Client) Send(ctx context.Context, env domain.SignalEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/webrtc/signal", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: send status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

// Poll fetches and consumes all envelopes addressed to self in room. The
// server pops delivered envelopes, but re-delivery is still possible;
// callers treat envelope processing as idempotent.
func (c *Client) Poll(ctx context.Context, room domain.RoomID, self domain.UserID) ([]domain.SignalEnvelope, error) {
	url := fmt.Sprintf("%s/webrtc/signals/%s/%s", c.base, room, self)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: poll status %d", ErrTransport, resp.StatusCode)
	}

	var envs []domain.SignalEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		return nil, fmt.Errorf("%w: decode poll body: %v", ErrTransport, err)
	}
	return envs, nil
}
