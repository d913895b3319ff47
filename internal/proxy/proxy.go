// Package proxy forwards metered requests to the backend analysis
// services. The gateway has already authorized and counted the request
// by the time a proxy runs; what the backend does with it is one
// billable unit either way.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// Upstream is a reverse proxy to one backend service.
type Upstream struct {
	name         string
	targetURL    *url.URL
	reverseProxy *httputil.ReverseProxy
	logger       *slog.Logger
}

// NewUpstream builds a proxy for the named backend. target is the full
// URL the metered endpoint maps to, including its path.
func NewUpstream(name, target string, logger *slog.Logger) (*Upstream, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	u := &Upstream{
		name:      name,
		targetURL: targetURL,
		logger:    logger.With("component", "proxy", "upstream", name),
	}

	u.reverseProxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = targetURL.Scheme
			req.URL.Host = targetURL.Host
			req.Host = targetURL.Host
			req.URL.Path = targetURL.Path
			// The client's credential stays on this side of the hop.
			req.Header.Del("x-api-key")
			req.Header.Del("Authorization")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
				u.logger.Warn("Client disconnected", "error", err)
				return
			}
			u.logger.Error("Upstream error", "error", err)
			http.Error(w, "Upstream Error", http.StatusBadGateway)
		},
	}

	return u, nil
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.reverseProxy.ServeHTTP(w, r)
}

// Handler returns a gin handler for a configured upstream, or a 503
// responder when the target is not configured.
func Handler(name, target string, logger *slog.Logger) (gin.HandlerFunc, error) {
	if target == "" {
		log := logger.With("component", "proxy", "upstream", name)
		return func(c *gin.Context) {
			log.Warn("Request for unconfigured upstream", "path", c.Request.URL.Path)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Endpoint not available"})
		}, nil
	}
	u, err := NewUpstream(name, target, logger)
	if err != nil {
		return nil, err
	}
	return func(c *gin.Context) {
		u.ServeHTTP(c.Writer, c.Request)
	}, nil
}
