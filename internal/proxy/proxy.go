// Package proxy is the HTTP front end: it routes each request by Host
// header to a registered tunnel, applies the tunnel's access policy, and
// streams the exchange over an SSH channel opened through the owner's
// session.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"siranga/internal/authz"
	"siranga/internal/common"
	"siranga/internal/config"
	"siranga/internal/logger"
	"siranga/internal/registry"
)

// Authorizer is the slice of authz.ForwardAuth the proxy depends on
type Authorizer interface {
	Authorize(ctx context.Context, hdr http.Header, host string, vis registry.Visibility) authz.Decision
}

type Proxy struct {
	config   *config.Config
	registry *registry.Registry
	auth     Authorizer
}

func NewProxy(cfg *config.Config, reg *registry.Registry, auth Authorizer) *Proxy {
	return &Proxy{
		config:   cfg,
		registry: reg,
		auth:     auth,
	}
}

// Start serves plain HTTP/1.1 until the context is cancelled
func (p *Proxy) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", p.config.HTTPPort),
		Handler: p,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, errStatus := extractTunnelName(r.Host, p.config.TunnelDomain)
	if errStatus != 0 {
		logger.Debugf("Rejecting request for host %q from %s with %d", r.Host, r.RemoteAddr, errStatus)
		http.Error(w, http.StatusText(errStatus), errStatus)
		return
	}

	view, ok := p.registry.Resolve(name)
	if !ok {
		logger.Debugf("No tunnel %q for request from %s", name, r.RemoteAddr)
		http.Error(w, "Tunnel not found", http.StatusNotFound)
		return
	}

	decision := p.auth.Authorize(r.Context(), r.Header, r.Host, view.Visibility)
	if !decision.Allowed {
		logger.Debugf("Authorizer denied %s for tunnel %s with %d", r.RemoteAddr, name, decision.Status)
		http.Error(w, http.StatusText(decision.Status), decision.Status)
		return
	}
	if view.Visibility == registry.Private && !view.AllowsPrincipal(decision.Principal) {
		logger.Infof("User %q denied access to private tunnel %s", decision.Principal, name)
		http.Error(w, "You do not have permission to access this tunnel", http.StatusForbidden)
		return
	}

	p.forward(w, r, view)
}

// forward streams the request through a fresh SSH channel. The channel lives
// for exactly one exchange; keep-alive towards the HTTP client is unaffected.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, view registry.View) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			channel, err := view.Dialer.OpenTunnel(view.RemotePort)
			if err != nil {
				return nil, err
			}
			return newChannelConn(channel, view), nil
		},
		DisableKeepAlives: true,
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = fmt.Sprintf("localhost:%d", view.RemotePort)
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warnf("Failed to forward request for tunnel %s from %s: %v", view.Name, r.RemoteAddr, err)
			http.Error(w, "Failed to open tunnel", http.StatusBadGateway)
		},
	}

	rp.ServeHTTP(w, r)
}

// extractTunnelName splits the Host header into tunnel name and domain.
// Returns a non-zero HTTP status when the host cannot route: 400 for a
// missing or malformed header, 404 when the domain does not match.
func extractTunnelName(host, domain string) (string, int) {
	if host == "" {
		return "", http.StatusBadRequest
	}

	host = common.StripPort(strings.ToLower(host))
	domain = common.StripPort(strings.ToLower(domain))

	name, rest, found := strings.Cut(host, ".")
	if !found || name == "" || rest == "" {
		return "", http.StatusBadRequest
	}
	if rest != domain {
		return "", http.StatusNotFound
	}
	if !registry.ValidName(name) {
		return "", http.StatusNotFound
	}

	return name, 0
}
