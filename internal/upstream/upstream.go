// Package upstream runs the bundler's development server that the fallback
// proxy forwards to.
//
// The proxy only needs three things from it: where it listens, a stream of
// rebuild notifications, and a way to stop it. Two implementations are
// provided: CommandServer runs an external dev server process (esbuild,
// vite, webpack) and learns its address from the process output, and
// StaticServer serves an already built directory in-process.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Upstream is the bundler collaborator.
type Upstream interface {
	// Start launches the server and returns once it is reachable.
	Start(ctx context.Context) (Target, error)
	// Rebuilds reports completed rebuilds. The channel is closed on Stop.
	Rebuilds() <-chan RebuildEvent
	// Stop halts the server and releases its resources.
	Stop(ctx context.Context) error
}

// Target identifies the upstream HTTP server.
type Target struct {
	Host string
	Port int
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns the base URL of the upstream.
func (t Target) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: t.Addr()}
}

func (t Target) String() string {
	return t.URL().String()
}

// TargetFromURL converts an address printed by a dev server into a Target.
// Wildcard hosts are replaced by the loopback address since that is where
// the proxy has to dial.
func TargetFromURL(u *url.URL) (Target, error) {
	if u == nil || u.Host == "" {
		return Target{}, fmt.Errorf("upstream URL has no host")
	}
	switch u.Scheme {
	case "", "http":
	case "https":
		return Target{}, fmt.Errorf("upstream %s uses TLS: TLS upstreams are not supported", u.Redacted())
	default:
		return Target{}, fmt.Errorf("upstream URL %q has unsupported scheme %q", u.Redacted(), u.Scheme)
	}
	host := u.Hostname()
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}

	portStr := u.Port()
	if portStr == "" {
		portStr = "80"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Target{}, fmt.Errorf("upstream URL %q has an invalid port", u.String())
	}
	return Target{Host: host, Port: port}, nil
}

// TargetFromAddr converts a listener address into a Target.
func TargetFromAddr(addr net.Addr) (Target, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Target{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Target{}, err
	}
	return Target{Host: host, Port: port}, nil
}

// RebuildEvent describes one completed rebuild.
type RebuildEvent struct {
	Time  time.Time
	Paths []string
	// Message is the dev server output line that announced the rebuild.
	Message string
}

// rebuildFeed is a Rebuilds channel that can be published to from several
// goroutines and closed exactly once.
type rebuildFeed struct {
	mu     sync.Mutex
	ch     chan RebuildEvent
	closed bool
}

func newRebuildFeed() *rebuildFeed {
	return &rebuildFeed{ch: make(chan RebuildEvent, 16)}
}

// publish never blocks; if nobody is draining the feed, events are dropped.
func (f *rebuildFeed) publish(ev RebuildEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- ev:
	default:
	}
}

func (f *rebuildFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
