// Package authz gates HTTP access to tunnels through an external
// ForwardAuth endpoint (Authelia-style): the inbound request's credential
// headers are replayed against the endpoint, which answers with a verdict
// and the authenticated principal.
package authz

import (
	"context"
	"net/http"
	"strings"
	"time"

	"siranga/internal/logger"
	"siranga/internal/registry"
)

const principalHeader = "Remote-User"

// Besides any X-Forwarded-* headers, only these inbound headers reach the
// ForwardAuth endpoint. The Host header travels as X-Forwarded-Host so the
// endpoint can tell which tunnel is being accessed.
var forwardedHeaders = []string{"Cookie", "Authorization"}

// Decision is the authorizer's verdict for one request
type Decision struct {
	Allowed   bool
	Principal string
	Status    int
}

func allow(principal string) Decision {
	return Decision{Allowed: true, Principal: principal}
}

func deny(status int) Decision {
	return Decision{Status: status}
}

// ForwardAuth queries a single configured endpoint
type ForwardAuth struct {
	endpoint string
	client   *http.Client
}

// New creates a ForwardAuth authorizer for the given endpoint URL
func New(endpoint string) *ForwardAuth {
	return &ForwardAuth{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// The endpoint's redirect (usually to a login page) must reach
			// the browser, not be followed here.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Authorize decides whether a request may reach a tunnel with the given
// visibility. Public tunnels are allowed without contacting the endpoint.
// Endpoint transport failures fail closed as a 502 deny.
func (a *ForwardAuth) Authorize(ctx context.Context, hdr http.Header, host string, vis registry.Visibility) Decision {
	if vis == registry.Public {
		return allow("")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		logger.Errorf("Failed to build ForwardAuth request: %v", err)
		return deny(http.StatusBadGateway)
	}

	for _, name := range forwardedHeaders {
		for _, value := range hdr.Values(name) {
			req.Header.Add(name, value)
		}
	}
	for name, values := range hdr {
		if !strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Forwarded-") {
			continue
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	if host != "" && req.Header.Get("X-Forwarded-Host") == "" {
		req.Header.Set("X-Forwarded-Host", host)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		logger.Errorf("ForwardAuth endpoint unreachable: %v", err)
		return deny(http.StatusBadGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Debugf("ForwardAuth denied with status %d", resp.StatusCode)
		return deny(resp.StatusCode)
	}

	principal := resp.Header.Get(principalHeader)
	logger.Debugf("ForwardAuth allowed principal %q", principal)
	return allow(principal)
}
