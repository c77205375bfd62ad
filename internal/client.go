package internal

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/internal/structs"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/valyala/fasthttp"
)

const (
	APIVersion = "10"

	// Used when the context passed has no deadline.
	ClientTimeout = 20 * time.Second
)

// Client represents the REST client used to discover the gateway.
type Client struct {
	HTTP *fasthttp.Client

	Token string

	// Used to safely create URLs.
	BaseURL   url.URL
	UserAgent string
}

// NewClient makes a new client.
func NewClient(baseURL url.URL, token string) *Client {
	return &Client{
		HTTP: &fasthttp.Client{
			Name: "Sandwich-Gateway/" + VERSION,
		},
		Token:     token,
		BaseURL:   baseURL,
		UserAgent: "Sandwich-Gateway (https://github.com/WelcomerTeam/Sandwich-Gateway, " + VERSION + ")",
	}
}

// FetchJSON makes a request to the API and decodes the response into
// structure. The status code is returned alongside any error.
func (c *Client) FetchJSON(ctx context.Context, method string, path string, structure interface{}) (status int, err error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.BaseURL.JoinPath("api", "v"+APIVersion, path).String())
	req.Header.Set("User-Agent", c.UserAgent)

	if c.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}

	if deadline, ok := ctx.Deadline(); ok {
		err = c.HTTP.DoDeadline(req, res, deadline)
	} else {
		err = c.HTTP.DoTimeout(req, res, ClientTimeout)
	}

	if err != nil {
		return -1, fmt.Errorf("failed to do request: %w", err)
	}

	status = res.StatusCode()

	switch {
	case status == fasthttp.StatusUnauthorized:
		return status, ErrInvalidToken
	case status < 200 || status > 299:
		return status, fmt.Errorf("unexpected status code %d", status)
	}

	err = sandwichjson.Unmarshal(res.Body(), structure)
	if err != nil {
		return status, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return status, nil
}

// GetGatewayBot returns the gateway url and recommended shard count for the
// token.
func (c *Client) GetGatewayBot(ctx context.Context) (gateway structs.GatewayBotResponse, err error) {
	_, err = c.FetchJSON(ctx, fasthttp.MethodGet, "/gateway/bot", &gateway)
	if err != nil {
		return gateway, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	if gateway.URL == "" {
		return gateway, fmt.Errorf("%w: response has no url", ErrGatewayUnavailable)
	}

	return gateway, nil
}
