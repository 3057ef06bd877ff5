package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lakowske/podserve/interfaces"
)

// Client is a typed client for the operational API, used by the check and
// renew commands when pointed at a running daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL. An optional timeout
// overrides the 30 second default.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Status fetches the status of every managed domain.
func (c *Client) Status(ctx context.Context) ([]interfaces.DomainStatus, error) {
	var sts []interfaces.DomainStatus
	if err := c.get(ctx, "/api/v1/status", &sts); err != nil {
		return nil, err
	}
	return sts, nil
}

// DomainStatus fetches the status of one domain.
func (c *Client) DomainStatus(ctx context.Context, domain string) (interfaces.DomainStatus, error) {
	var st interfaces.DomainStatus
	if err := c.get(ctx, "/api/v1/status/"+domain, &st); err != nil {
		return interfaces.DomainStatus{}, err
	}
	return st, nil
}

// TriggerRenewal asks the daemon to start a renewal attempt for the domain.
// The attempt runs in the background; poll DomainStatus for the outcome.
func (c *Client) TriggerRenewal(ctx context.Context, domain string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/renew/"+domain, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", interfaces.ErrNetwork, err)
	}
	return nil
}

// apiError converts a non-success response into the sentinel its status code
// encodes, keeping the server's message.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", interfaces.ErrRenewalInProgress, msg)
	default:
		return fmt.Errorf("%w: api returned %d: %s", interfaces.ErrNetwork, resp.StatusCode, msg)
	}
}
