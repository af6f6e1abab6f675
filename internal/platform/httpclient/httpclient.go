// Package httpclient is the JSON-over-HTTP client shared by the LLM filter
// and the Telegram notifier.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// DefaultTimeout applies when the context carries no deadline.
const DefaultTimeout = 30 * time.Second

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("unexpected http status")

// StatusError carries the status and a truncated body of a failed call.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v %d: %s", ErrStatus, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Client posts JSON documents.
type Client struct {
	http    *fasthttp.Client
	timeout time.Duration
}

// New returns a client; timeout <= 0 selects DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                     "claimbot",
			MaxIdleConnDuration:      time.Minute,
			NoDefaultUserAgentHeader: true,
		},
		timeout: timeout,
	}
}

// PostJSON encodes in, posts it to url and decodes a 2xx body into out.
// out may be nil.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("post %s: %w", redactURL(url), err)
	}

	code := resp.StatusCode()
	if code < 200 || code > 299 {
		b := resp.Body()
		if len(b) > 256 {
			b = b[:256]
		}
		return &StatusError{Code: code, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// redactURL drops the path so bot tokens embedded in it are not logged.
func redactURL(raw string) string {
	u := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(u)
	if err := u.Parse(nil, []byte(raw)); err != nil {
		return "<url>"
	}
	return string(u.Scheme()) + "://" + string(u.Host())
}
