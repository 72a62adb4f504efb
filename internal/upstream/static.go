package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
	"github.com/conneroisu/spadev/internal/watcher"
)

// StaticServer serves a build output directory on an ephemeral loopback
// port. Unknown paths and bare directories answer 404 so the proxy can fall
// back to the root document.
type StaticServer struct {
	dir      string
	host     string
	debounce time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	srv      *http.Server
	watcher  *watcher.Watcher
	cancel   context.CancelFunc
	feed     *rebuildFeed
	stopOnce sync.Once
}

// NewStaticServer creates a StaticServer for dir.
func NewStaticServer(dir string, debounce time.Duration, logger logging.Logger) *StaticServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StaticServer{
		dir:      dir,
		host:     "127.0.0.1",
		debounce: debounce,
		logger:   logger.WithComponent("upstream"),
		feed:     newRebuildFeed(),
	}
}

// Start implements Upstream.
func (s *StaticServer) Start(ctx context.Context) (Target, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return Target{}, spaerrors.NewIOError(spaerrors.CodeUpstreamStart, "serve directory is not readable", err).
			WithFile(s.dir)
	}
	if !info.IsDir() {
		return Target{}, spaerrors.NewIOError(spaerrors.CodeUpstreamStart, "serve path is not a directory", nil).
			WithFile(s.dir)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, "0"))
	if err != nil {
		return Target{}, spaerrors.NewNetworkError(spaerrors.CodeUpstreamStart, "cannot listen for the static upstream", err)
	}
	target, err := TargetFromAddr(ln.Addr())
	if err != nil {
		ln.Close()
		return Target{}, spaerrors.NewInternalError(spaerrors.CodeUpstreamStart, "cannot resolve upstream address", err)
	}

	srv := &http.Server{
		Handler:           http.FileServer(noListingFS{http.Dir(s.dir)}),
		ReadHeaderTimeout: time.Minute,
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	fw, err := s.startWatcher(watchCtx)
	if err != nil {
		// Serving still works without rebuild notifications.
		s.logger.Warn(ctx, err, "Rebuild notifications disabled", "dir", s.dir)
	}

	s.mu.Lock()
	s.srv = srv
	s.watcher = fw
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "Static upstream stopped")
		}
	}()

	s.logger.Info(ctx, "Static upstream serving", "dir", s.dir, "addr", target.Addr())
	return target, nil
}

func (s *StaticServer) startWatcher(ctx context.Context) (*watcher.Watcher, error) {
	fw, err := watcher.New(s.dir, s.debounce, func(b watcher.Batch) {
		s.feed.publish(RebuildEvent{Time: time.Now(), Paths: b.Paths()})
	}, s.logger, watcher.NoHidden, watcher.NoSourceMaps)
	if err != nil {
		return nil, err
	}
	fw.Start(ctx)
	return fw, nil
}

// Rebuilds implements Upstream.
func (s *StaticServer) Rebuilds() <-chan RebuildEvent {
	return s.feed.ch
}

// Stop implements Upstream.
func (s *StaticServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv, fw, cancel := s.srv, s.watcher, s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if fw != nil {
			_ = fw.Close()
		}
		if srv != nil {
			err = srv.Close()
		}
		s.feed.close()
		s.logger.Debug(ctx, "Static upstream stopped")
	})
	return err
}

// noListingFS hides directories that have no index.html, so that a request
// for one is a 404 instead of a generated listing.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := n.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}
