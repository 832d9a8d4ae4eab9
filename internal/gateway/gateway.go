// internal/gateway/gateway.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"

	"libracirc/internal/api"
)

// Upstreams are the base URLs of the services behind the gateway.
type Upstreams struct {
	Catalog     string
	Circulation string
	Membership  string
}

var ErrInvalidUpstream = errors.New("invalid upstream url")

// Mount registers one reverse proxy per service on r:
//
//	/api/v1/catalog/*     -> catalog
//	/api/v1/circulation/* -> circulation
//	/api/v1/members/*     -> membership
//
// The prefix is stripped before the request is forwarded.
func Mount(r chi.Router, up Upstreams, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	routes := []struct {
		prefix string
		target string
	}{
		{"/api/v1/catalog", up.Catalog},
		{"/api/v1/circulation", up.Circulation},
		{"/api/v1/members", up.Membership},
	}

	for _, route := range routes {
		proxy, err := newProxy(route.target, logger.With("upstream", route.prefix))
		if err != nil {
			return err
		}
		r.Mount(route.prefix, http.StripPrefix(route.prefix, proxy))
	}
	return nil
}

func newProxy(target string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream unreachable", "path", r.URL.Path, "error", err)
		api.WriteJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: http.StatusText(http.StatusBadGateway)})
	}
	return proxy, nil
}

// Health is a pinger that succeeds only when every upstream answers its health check.
func Health(upstreams map[string]api.Pinger) api.Pinger {
	return healthFunc(func(ctx context.Context) error {
		var errs []error
		for name, p := range upstreams {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		return errors.Join(errs...)
	})
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Ping(ctx context.Context) error { return f(ctx) }
