package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidEndpoint is returned for backend URLs that are not absolute http(s) URLs
var ErrInvalidEndpoint = errors.New("backend url must be an absolute http or https url")

// ComfyClient talks to one ComfyUI backend over HTTP
type ComfyClient struct {
	baseURL    *url.URL
	clientid   string
	httpclient *http.Client
}

// ParseEndpoint validates a backend url and strips any trailing slash
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// NewComfyClient creates a client for the backend at endpoint. Every prompt it queues
// is tagged with clientID, which must match the id of the sideband websocket.
func NewComfyClient(endpoint string, clientID string) (*ComfyClient, error) {
	return NewComfyClientWithTimeout(endpoint, clientID, 0)
}

// NewComfyClientWithTimeout is NewComfyClient with a per-request timeout; 0 means none
func NewComfyClientWithTimeout(endpoint string, clientID string, timeout time.Duration) (*ComfyClient, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &ComfyClient{
		baseURL:    u,
		clientid:   clientID,
		httpclient: &http.Client{Timeout: timeout},
	}, nil
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// Endpoint returns the normalised backend url
func (c *ComfyClient) Endpoint() string {
	return c.baseURL.String()
}

func (c *ComfyClient) route(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// ImageURL returns the /view url the backend serves an output image from
func (c *ComfyClient) ImageURL(image DataOutput) string {
	params := url.Values{}
	params.Add("filename", image.Filename)
	params.Add("subfolder", image.Subfolder)
	params.Add("type", image.Type)
	return c.route("/view", params)
}

// ParseImageURL recovers the image reference from a url built by ImageURL
func ParseImageURL(raw string) (DataOutput, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return DataOutput{}, err
	}
	q := u.Query()
	if q.Get("filename") == "" {
		return DataOutput{}, fmt.Errorf("not an image url: %s", raw)
	}
	return DataOutput{
		Filename:  q.Get("filename"),
		Subfolder: q.Get("subfolder"),
		Type:      q.Get("type"),
	}, nil
}

// WebSocketURL returns the sideband notification url for this client id
func (c *ComfyClient) WebSocketURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/ws"
	u.RawQuery = url.Values{"clientId": []string{c.clientid}}.Encode()
	return u.String()
}
