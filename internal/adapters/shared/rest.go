package shared

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/observability"
)

const (
	restAttempts   = 3
	restRetryStep  = 1500 * time.Millisecond
	restTimeout    = 15 * time.Second
	maxRESTBodyLen = 8 * 1024 * 1024
)

// RESTClient is a per-venue HTTP client with shared session reuse and retry
// on throttling responses (429, 418, 503) using linear backoff.
type RESTClient struct {
	exchange  string
	base      string
	http      *http.Client
	retryStep time.Duration
}

// NewRESTClient builds a REST client rooted at base for the named exchange.
func NewRESTClient(exchange, base string) *RESTClient {
	return &RESTClient{
		exchange:  exchange,
		base:      strings.TrimRight(base, "/"),
		http:      &http.Client{Timeout: restTimeout},
		retryStep: restRetryStep,
	}
}

// GetJSON fetches path with query parameters and decodes the JSON body into out.
func (c *RESTClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.decode(body, out)
}

// PostJSON sends payload as a JSON body to path and decodes the response into out.
func (c *RESTClient) PostJSON(ctx context.Context, path string, payload, out any) error {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.New(c.exchange, errs.CodeInternal,
			errs.WithMessage("marshal request body"), errs.WithCause(err))
	}
	body, err := c.do(ctx, http.MethodPost, u, data)
	if err != nil {
		return err
	}
	return c.decode(body, out)
}

func (c *RESTClient) decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(c.exchange, errs.CodeMalformed,
			errs.WithMessage("decode response body"), errs.WithCause(err))
	}
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < restAttempts; attempt++ {
		if attempt > 0 {
			sleep := c.retryStep * time.Duration(attempt+1)
			observability.Log().Debug("retrying throttled request",
				observability.F("exchange", c.exchange),
				observability.F("attempt", attempt),
				observability.F("sleep", sleep))
			select {
			case <-ctx.Done():
				return nil, errs.New(c.exchange, errs.CodeTransient,
					errs.WithMessage("request cancelled"), errs.WithCause(ctx.Err()))
			case <-time.After(sleep):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, errs.New(c.exchange, errs.CodeInternal,
				errs.WithMessage("build request"), errs.WithCause(err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errs.New(c.exchange, errs.CodeTransient,
				errs.WithMessage("http request"), errs.WithCause(err))
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRESTBodyLen))
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusTeapot, http.StatusServiceUnavailable:
			lastErr = errs.New(c.exchange, errs.CodeTransient,
				errs.WithMessage("throttled"), errs.WithHTTP(resp.StatusCode))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, errs.New(c.exchange, errs.CodeTransient,
				errs.WithMessage("unexpected status"),
				errs.WithHTTP(resp.StatusCode),
				errs.WithRawMessage(strings.TrimSpace(string(data))))
		}
		if readErr != nil {
			return nil, errs.New(c.exchange, errs.CodeTransient,
				errs.WithMessage("read response body"), errs.WithCause(readErr))
		}
		return data, nil
	}
	return nil, lastErr
}
