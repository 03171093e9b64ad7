package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every provider call unless overridden.
const DefaultTimeout = 10 * time.Second

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Client wraps resty for requests to payment provider APIs. It never retries:
// a failed call is reported to the caller, which decides whether to try again.
type Client struct {
	r *resty.Client
}

// New creates a client with a bounded timeout and retries disabled.
func New() *Client {
	r := resty.New().
		SetTimeout(DefaultTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{r: r}
}

// WithTimeout sets a custom timeout. Non-positive values keep the default.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.r.SetTimeout(d)
	}
	return c
}

// PostJSON sends a POST request with a JSON body and returns the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}) ([]byte, error) {
	req := c.r.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	return c.do(req, http.MethodPost, url)
}

// PostForm sends a POST request with form data.
func (c *Client) PostForm(ctx context.Context, url string, data map[string]string) ([]byte, error) {
	return c.do(c.r.R().SetContext(ctx).SetFormData(data), http.MethodPost, url)
}

// Get sends a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(c.r.R().SetContext(ctx), http.MethodGet, url)
}

func (c *Client) do(req *resty.Request, method, url string) ([]byte, error) {
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode(), Body: resp.Body()}
	}
	return resp.Body(), nil
}
