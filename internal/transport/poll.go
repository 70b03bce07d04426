package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// StatusError is returned for any non-2xx poll response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("poll status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("poll status %d", e.Code)
}

type pollRoute struct {
	method string
	path   string
	// event is the push event a GET response stands in for.
	event string
}

var pollRoutes = map[string]pollRoute{
	CmdGetFriends:           {http.MethodGet, "/friends/", EventFriendsUpdate},
	CmdGetFriendRequests:    {http.MethodGet, "/friend/requests/", EventFriendRequestsUpdate},
	CmdGetLocationRequests:  {http.MethodGet, "/location/requests/", EventLocationRequestsUpdate},
	CmdGetLocationTracking:  {http.MethodGet, "/location/sent/", EventLocationTrackingUpdate},
	CmdGetReceivedLocations: {http.MethodGet, "/location/received/", EventReceivedLocations},

	CmdSendFriendRequest:     {http.MethodPost, "/friend/request", ""},
	CmdAcceptFriendRequest:   {http.MethodPost, "/friend/accept", ""},
	CmdDeclineFriendRequest:  {http.MethodPost, "/friend/decline", ""},
	CmdRemoveFriend:          {http.MethodPost, "/friend/remove", ""},
	CmdSetFriendName:         {http.MethodPost, "/friend/name", ""},
	CmdBlockUser:             {http.MethodPost, "/user/block", ""},
	CmdUnblockUser:           {http.MethodPost, "/user/unblock", ""},
	CmdToggleLocation:        {http.MethodPost, "/location/toggle", ""},
	CmdAcceptLocationRequest: {http.MethodPost, "/location/accept", ""},
	CmdDenyLocationRequest:   {http.MethodPost, "/location/deny", ""},
	CmdShareLocation:         {http.MethodPost, "/location/share", ""},
}

// PollResponse is either a collection body standing in for Event, or the
// outcome of an action when Event is empty.
type PollResponse struct {
	Event   string
	Body    json.RawMessage
	Success bool
	Message string
}

// PollClient speaks the backend's REST endpoints.
type PollClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewPollClient(httpClient *http.Client, baseURL string) *PollClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PollClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

func (c *PollClient) Do(ctx context.Context, cmd Command) (PollResponse, error) {
	route, ok := pollRoutes[cmd.Name]
	if !ok {
		return PollResponse{}, fmt.Errorf("poll: unsupported command %q", cmd.Name)
	}

	if route.method == http.MethodGet {
		p, ok := cmd.Payload.(UserPayload)
		if !ok || strings.TrimSpace(p.UserID) == "" {
			return PollResponse{}, fmt.Errorf("poll %s: missing user id", cmd.Name)
		}
		body, err := c.do(ctx, http.MethodGet, route.path+url.PathEscape(p.UserID), nil)
		if err != nil {
			return PollResponse{}, fmt.Errorf("poll %s: %w", cmd.Name, err)
		}
		return PollResponse{Event: route.event, Body: body, Success: true}, nil
	}

	body, err := c.do(ctx, route.method, route.path, cmd.Payload)
	if err != nil {
		return PollResponse{}, fmt.Errorf("poll %s: %w", cmd.Name, err)
	}
	res, err := DecodeActionResult(body)
	if err != nil {
		return PollResponse{}, fmt.Errorf("poll %s: decode: %w", cmd.Name, err)
	}
	return PollResponse{Body: body, Success: res.Success, Message: res.Message}, nil
}

func (c *PollClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: errorText(raw)}
	}
	return json.RawMessage(raw), nil
}

func errorText(raw []byte) string {
	var eb struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &eb); err == nil {
		if s := strings.TrimSpace(eb.Error); s != "" {
			return s
		}
		if s := strings.TrimSpace(eb.Message); s != "" {
			return s
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
