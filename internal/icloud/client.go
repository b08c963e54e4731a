// Package icloud implements the session state machine and photo-library
// query layer for Apple's undocumented iCloud web API.
package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultAuthBaseURL  = "https://idmsa.apple.com/appleauth/auth"
	defaultSetupBaseURL = "https://setup.icloud.com/setup/ws/1"

	// widgetKey identifies the icloud.com web client to the auth service.
	widgetKey = "83545bf919730e51dbfba24e7e8a78d2"

	requestTimeout = 30 * time.Second
)

// Client is the HTTP transport shared by the auth session and the photo
// service: one cookie jar, one client identity, stable base URLs.
type Client struct {
	httpClient   *http.Client
	jar          *cookiejar.Jar
	authBaseURL  string
	setupBaseURL string
	clientID     string
	oauthState   string
	logger       zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAuthBaseURL overrides the authentication endpoint base URL.
func WithAuthBaseURL(url string) ClientOption {
	return func(c *Client) { c.authBaseURL = url }
}

// WithSetupBaseURL overrides the account-setup endpoint base URL.
func WithSetupBaseURL(url string) ClientOption {
	return func(c *Client) { c.setupBaseURL = url }
}

// NewClient creates a Client with a fresh cookie jar and a random client
// identity.
func NewClient(logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
		jar:          jar,
		authBaseURL:  defaultAuthBaseURL,
		setupBaseURL: defaultSetupBaseURL,
		clientID:     "auth-" + uuid.NewString(),
		oauthState:   "auth-" + uuid.NewString(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewRequest builds a JSON request with the client-identity headers the
// auth service expects on every call.
func (c *Client) NewRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Apple-Widget-Key", widgetKey)
	req.Header.Set("X-Apple-OAuth-Client-Id", c.clientID)
	req.Header.Set("X-Apple-OAuth-State", c.oauthState)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// Do executes the request and reads the full body. A transport-level
// failure (no response at all) is wrapped as ErrNoResponse; any received
// response is returned to the caller for status classification.
func (c *Client) Do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp, body, nil
}
