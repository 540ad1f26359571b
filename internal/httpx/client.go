// Package httpx is the outbound HTTP client shared by the blob store, the maps
// link resolver and the Telegram file download. Every call has a deadline.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const userAgent = "Mozilla/5.0 (compatible; odpbot/1.0)"

// ErrTooManyRedirects is returned by Get when the redirect chain is longer than allowed
var ErrTooManyRedirects = errors.New("too many redirects")

// StatusError is returned when the server answers with an unexpected status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client wraps fasthttp.Client with per-call deadlines
type Client struct {
	http         *fasthttp.Client
	timeout      time.Duration
	maxRedirects int
}

// New creates a client whose calls never outlive timeout
func New(timeout time.Duration) *Client {
	return &Client{
		http: &fasthttp.Client{
			Name:                userAgent,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: 20 << 20,
		},
		timeout:      timeout,
		maxRedirects: 5,
	}
}

// Timeout returns the per-call timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// Get fetches url following redirects manually. It returns the final URL and
// the body of the first non-redirect answer; non-2xx answers are a *StatusError.
func (c *Client) Get(ctx context.Context, url string) (string, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	deadline := c.deadline(ctx)
	current := url
	for hop := 0; hop <= c.maxRedirects; hop++ {
		if err := ctx.Err(); err != nil {
			return current, nil, err
		}

		req.Reset()
		resp.Reset()
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.SetUserAgent(userAgent)
		req.SetRequestURI(current)

		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			return current, nil, fmt.Errorf("get %s: %w", current, err)
		}

		code := resp.StatusCode()
		if fasthttp.StatusCodeIsRedirect(code) {
			location := resp.Header.Peek(fasthttp.HeaderLocation)
			if len(location) == 0 {
				return current, nil, &StatusError{Code: code, Body: "redirect without location"}
			}
			next, err := resolve(current, location)
			if err != nil {
				return current, nil, err
			}
			current = next
			continue
		}

		body := append([]byte(nil), resp.Body()...)
		if code < 200 || code > 299 {
			return current, body, &StatusError{Code: code, Body: truncate(body)}
		}
		return current, body, nil
	}
	return current, nil, ErrTooManyRedirects
}

// Request describes a single non-redirecting call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Do performs req and returns the response body; non-2xx answers are a *StatusError
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(r.Method)
	req.Header.SetUserAgent(userAgent)
	req.SetRequestURI(r.URL)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != nil {
		req.SetBody(r.Body)
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.URL, err)
	}

	body := append([]byte(nil), resp.Body()...)
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return body, &StatusError{Code: code, Body: truncate(body)}
	}
	return body, nil
}

func resolve(base string, location []byte) (string, error) {
	u := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(u)
	if err := u.Parse(nil, []byte(base)); err != nil {
		return "", fmt.Errorf("parse %s: %w", base, err)
	}
	u.UpdateBytes(location)
	return u.String(), nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
