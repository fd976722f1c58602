// Package directory implements the room membership client against the
// REST-style directory service. Membership mutation is idempotent on the
// server; the client surfaces plain errors and leaves retry policy to the
// session controller.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/convento/voicemesh/internal/domain"
)

var (
	ErrNotFound  = errors.New("room not found")
	ErrForbidden = errors.New("not allowed")
)

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

type createRoomRequest struct {
	Name      string        `json:"name"`
	Color     string        `json:"color,omitempty"`
	CreatorID domain.UserID `json:"creator_id"`
	Private   bool          `json:"private"`
}

func (c *Client) CreateRoom(ctx context.Context, name, color string, creator domain.UserID, private bool) (*domain.Room, error) {
	body, err := json.Marshal(createRoomRequest{Name: name, Color: color, CreatorID: creator, Private: private})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var room domain.Room
	if err := c.do(req, http.StatusCreated, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/rooms", nil)
	if err != nil {
		return nil, err
	}
	var rooms []domain.Room
	if err := c.do(req, http.StatusOK, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) Join(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	return c.membership(ctx, room, user, "join")
}

func (c *Client) Leave(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	return c.membership(ctx, room, user, "leave")
}

func (c *Client) membership(ctx context.Context, room domain.RoomID, user domain.UserID, action string) error {
	u := fmt.Sprintf("%s/rooms/%s/%s?user_id=%s", c.base, room, action, url.QueryEscape(string(user)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, nil)
}

func (c *Client) Participants(ctx context.Context, room domain.RoomID) ([]domain.Participant, error) {
	u := fmt.Sprintf("%s/rooms/%s/participants", c.base, room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out []domain.Participant
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetVisibility toggles the room between public and private. Creator-only;
// other callers get ErrForbidden.
func (c *Client) SetVisibility(ctx context.Context, room domain.RoomID, caller domain.UserID, private bool) (*domain.Room, error) {
	u := fmt.Sprintf("%s/rooms/%s/visibility?user_id=%s&private=%t", c.base, room, url.QueryEscape(string(caller)), private)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return nil, err
	}
	var out domain.Room
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case want:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return fmt.Errorf("directory status %d for %s %s", resp.StatusCode, req.Method, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
