package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// HTTPClient queries the external authorization service:
// GET {base}/tokens/{token} -> {"status":"Accepted"}.
type HTTPClient struct {
	base    string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		base:    baseURL,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "sigec-csms",
			MaxConnsPerHost:     64,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type lookupResponse struct {
	Status domain.AuthorizationStatus `json:"status"`
}

func (c *HTTPClient) Lookup(ctx context.Context, token string) (domain.AuthorizationStatus, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return "", ctx.Err()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + "/tokens/" + url.PathEscape(token))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return "", fmt.Errorf("authorization request failed: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusNotFound:
		return domain.AuthorizationUnknown, nil
	case code >= 500:
		return "", fmt.Errorf("authorization service returned %d", code)
	case code != fasthttp.StatusOK:
		return "", fmt.Errorf("unexpected authorization status code %d", code)
	}

	var body lookupResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to decode authorization response: %w", err)
	}
	switch body.Status {
	case domain.AuthorizationAccepted, domain.AuthorizationBlocked, domain.AuthorizationInvalid, domain.AuthorizationUnknown:
		return body.Status, nil
	default:
		return "", fmt.Errorf("unknown authorization status %q", body.Status)
	}
}
