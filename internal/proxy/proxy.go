// Package proxy implements the SPA fallback reverse proxy.
//
// Every request is forwarded to the bundler's dev server. When the dev
// server answers 404, or the request is for the root path, the client gets
// the assembled root document instead so that client-side routes resolve.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/spadev/internal/document"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
	"github.com/conneroisu/spadev/internal/metrics"
	"github.com/conneroisu/spadev/internal/upstream"
)

// RootPath always receives the root document.
const RootPath = "/"

// FallbackProxy forwards requests to a single upstream and substitutes the
// root document for missing resources.
type FallbackProxy struct {
	target            upstream.Target
	doc               document.Document
	logger            logging.Logger
	metrics           metrics.Recorder
	transport         http.RoundTripper
	readHeaderTimeout time.Duration
	rp                *httputil.ReverseProxy

	mu         sync.Mutex
	srv        *http.Server
	ln         net.Listener
	acceptOnce sync.Once
	stopOnce   sync.Once
	acceptErr  error
}

// Option configures a FallbackProxy.
type Option func(*FallbackProxy)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *FallbackProxy) { p.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *FallbackProxy) { p.metrics = r }
}

// WithTransport replaces the outbound transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *FallbackProxy) { p.transport = rt }
}

// WithReadHeaderTimeout bounds how long a client may take to send request
// headers. It does not limit the request as a whole.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(p *FallbackProxy) { p.readHeaderTimeout = d }
}

// New creates a FallbackProxy for target that serves doc as the fallback.
func New(target upstream.Target, doc document.Document, opts ...Option) *FallbackProxy {
	p := &FallbackProxy{
		target:            target,
		doc:               doc,
		readHeaderTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.logger = p.logger.WithComponent("proxy")
	if p.metrics == nil {
		p.metrics = metrics.Nop()
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		Transport:      p.transport,
		FlushInterval:  -1,
	}
	return p
}

// exchange is the per-request routing record shared by the reverse proxy
// hooks through the request context.
type exchange struct {
	id     string
	route  string
	status int
	logger logging.Logger
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	if ex, ok := ctx.Value(exchangeKey{}).(*exchange); ok {
		return ex
	}
	return &exchange{route: metrics.RouteForward, logger: logging.Discard()}
}

// ServeHTTP implements http.Handler.
func (p *FallbackProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := uuid.NewString()
	ex := &exchange{
		id:     id,
		route:  metrics.RouteForward,
		logger: logging.WithRequestID(p.logger, id),
	}

	// ReverseProxy panics with http.ErrAbortHandler when copying a body
	// fails mid-stream; the request is still recorded.
	defer func() {
		p.metrics.ObserveRequest(ex.route, ex.status, time.Since(start))
		ex.logger.Debug(r.Context(), "Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", ex.route,
			"status", ex.status,
			"duration", time.Since(start))
	}()

	p.rp.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), exchangeKey{}, ex)))
}

// forwardingHeaders are removed from the outbound request by ReverseProxy
// before Rewrite runs.
var forwardingHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

func (p *FallbackProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target.URL())
	// SetURL targets the upstream host; the dev server sees the client's.
	pr.Out.Host = pr.In.Host
	// The client's headers reach the upstream as sent. None are added.
	for _, h := range forwardingHeaders {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = append([]string(nil), v...)
		}
	}
}

// shouldFallback reports whether the upstream answer is replaced by the
// root document. Protocol switches are never replaced.
func shouldFallback(resp *http.Response) bool {
	if resp.StatusCode == http.StatusSwitchingProtocols {
		return false
	}
	return resp.StatusCode == http.StatusNotFound || resp.Request.URL.Path == RootPath
}

func (p *FallbackProxy) modifyResponse(resp *http.Response) error {
	ex := exchangeFrom(resp.Request.Context())
	if !shouldFallback(resp) {
		ex.status = resp.StatusCode
		return nil
	}

	// Drain so the upstream connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ex.logger.Debug(resp.Request.Context(), "Serving root document",
		"path", resp.Request.URL.Path,
		"upstream_status", resp.StatusCode)

	size := p.doc.Len()
	resp.StatusCode = http.StatusOK
	resp.Status = "200 OK"
	resp.Header = http.Header{
		"Content-Type":   {"text/html"},
		"Content-Length": {strconv.Itoa(size)},
	}
	resp.Trailer = nil
	resp.TransferEncoding = nil
	resp.ContentLength = int64(size)
	resp.Body = io.NopCloser(p.doc.Reader())

	ex.route = metrics.RouteFallback
	ex.status = http.StatusOK
	return nil
}

func (p *FallbackProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ex := exchangeFrom(r.Context())
	ex.route = metrics.RouteError
	ex.status = http.StatusBadGateway

	if errors.Is(err, context.Canceled) {
		ex.logger.Debug(r.Context(), "Client went away", "path", r.URL.Path)
	} else {
		p.metrics.UpstreamError()
		ex.logger.Error(r.Context(), err, "Upstream request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"upstream", p.target.String())
	}
	w.WriteHeader(http.StatusBadGateway)
}

// Start binds addr and serves in the background. On a bind failure nothing
// is left listening.
func (p *FallbackProxy) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return spaerrors.NewNetworkError(spaerrors.CodeListen, "cannot bind proxy address", err).
			WithContext("addr", addr).
			WithComponent("proxy")
	}

	srv := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: p.readHeaderTimeout,
	}

	p.mu.Lock()
	p.srv, p.ln = srv, ln
	p.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			p.logger.Error(context.Background(), err, "Proxy stopped serving")
		}
	}()

	p.logger.Info(context.Background(), "Proxy listening",
		"addr", ln.Addr().String(),
		"upstream", p.target.String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *FallbackProxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

// StopAccepting closes the listener. Requests on open connections keep
// being served.
func (p *FallbackProxy) StopAccepting() error {
	p.acceptOnce.Do(func() {
		p.mu.Lock()
		ln := p.ln
		p.mu.Unlock()
		if ln == nil {
			return
		}
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			p.acceptErr = err
		}
	})
	return p.acceptErr
}

// Stop closes the listener and every open connection. Upgraded
// connections are not tracked by the server and end when the upstream
// goes away.
func (p *FallbackProxy) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		err = p.StopAccepting()

		p.mu.Lock()
		srv := p.srv
		p.mu.Unlock()
		if srv == nil {
			return
		}
		if closeErr := srv.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
		p.logger.Info(context.Background(), "Proxy stopped")
	})
	return err
}
