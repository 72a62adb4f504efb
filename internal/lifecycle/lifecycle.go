// Package lifecycle wires the document assembler, the upstream and the
// fallback proxy together and owns their startup and shutdown order.
package lifecycle

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/conneroisu/spadev/internal/assets"
	"github.com/conneroisu/spadev/internal/config"
	"github.com/conneroisu/spadev/internal/document"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
	"github.com/conneroisu/spadev/internal/manifest"
	"github.com/conneroisu/spadev/internal/metrics"
	"github.com/conneroisu/spadev/internal/proxy"
	"github.com/conneroisu/spadev/internal/security"
	"github.com/conneroisu/spadev/internal/upstream"
)

// Dependencies are the collaborators a Process drives.
type Dependencies struct {
	Upstream upstream.Upstream
	// Policy supplies the CSP directive in production. When nil the
	// configured policy file is used.
	Policy security.Source
	Logger logging.Logger
	// Metrics is optional. The metrics server only starts when both this
	// and metrics.addr are set.
	Metrics *metrics.Collector
}

// Process runs one spadev instance.
type Process struct {
	cfg      *config.Config
	deps     Dependencies
	logger   logging.Logger
	recorder metrics.Recorder

	mu         sync.Mutex
	started    bool
	doc        document.Document
	target     upstream.Target
	proxy      *proxy.FallbackProxy
	metricsSrv *metrics.Server
	drained    chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Process. Nothing runs until Start.
func New(cfg *config.Config, deps Dependencies) *Process {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Policy == nil {
		deps.Policy = PolicySource(cfg)
	}
	var recorder metrics.Recorder = metrics.Nop()
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	return &Process{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.WithComponent("lifecycle"),
		recorder: recorder,
	}
}

// PolicySource returns the policy source configured in cfg, or nil when no
// policy file is configured.
func PolicySource(cfg *config.Config) security.Source {
	if cfg.Security.PolicyFile == "" {
		return nil
	}
	return security.FileSource{Path: cfg.Security.PolicyFile}
}

// BuildDocument reads the template, resolves the manifest and assembles
// the root document.
func BuildDocument(ctx context.Context, cfg *config.Config, policy security.Source, logger logging.Logger) (document.Document, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	tmpl, err := document.LoadTemplate(cfg.Project.Template)
	if err != nil {
		return document.Document{}, err
	}
	files, err := manifest.Resolve(cfg.Build.Outputs, cfg.Build.Entrypoints)
	if err != nil {
		return document.Document{}, err
	}
	logger.Debug(ctx, "Resolved build manifest", "files", []string(files))

	return document.NewAssembler(cfg.Site, policy, logger).Assemble(ctx, tmpl, files)
}

// Start brings the process up in order: document, public files, upstream,
// proxy listener, metrics. It either returns nil with everything running
// or an error with nothing left running.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return spaerrors.NewInternalError(spaerrors.CodeInvalidConfig, "process already started", nil)
	}
	p.started = true
	p.mu.Unlock()

	perf := logging.StartOperation(p.logger, "startup")

	p.logger.Info(ctx, "Generating root document",
		"template", p.cfg.Project.Template,
		"mode", p.cfg.Mode,
		"site_root", p.cfg.Project.Homepage)
	doc, err := BuildDocument(ctx, p.cfg, p.deps.Policy, p.logger)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}

	if p.shouldStage() {
		stager := &assets.Stager{
			Root:      p.cfg.Project.Root,
			PublicDir: p.cfg.Project.PublicDir,
			ServeDir:  p.cfg.Project.ServeDir,
			Template:  p.cfg.Project.Template,
			Logger:    p.logger,
		}
		if _, err := stager.Stage(ctx); err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
	}

	target, err := p.deps.Upstream.Start(ctx)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}

	fp := proxy.New(target, doc,
		proxy.WithLogger(p.deps.Logger),
		proxy.WithMetrics(p.recorder),
		proxy.WithReadHeaderTimeout(p.cfg.Server.ReadHeaderTimeout))
	if err := fp.Start(p.cfg.ListenAddr()); err != nil {
		p.stopUpstream(err)
		perf.EndWithError(ctx, err)
		return err
	}

	var msrv *metrics.Server
	if p.deps.Metrics != nil && p.cfg.Metrics.Addr != "" {
		msrv = metrics.NewServer(p.deps.Metrics, p.cfg.Metrics.Path, p.deps.Logger)
		if err := msrv.Start(p.cfg.Metrics.Addr); err != nil {
			err = spaerrors.NewNetworkError(spaerrors.CodeListen, "cannot bind metrics address", err).
				WithContext("addr", p.cfg.Metrics.Addr)
			fp.Stop()
			p.stopUpstream(err)
			perf.EndWithError(ctx, err)
			return err
		}
	}

	drained := make(chan struct{})
	p.mu.Lock()
	p.doc, p.target, p.proxy, p.metricsSrv, p.drained = doc, target, fp, msrv, drained
	p.mu.Unlock()

	go p.drainRebuilds(drained)

	perf.End(ctx)
	p.logger.Info(ctx, "Dev server is available",
		"addr", fp.Addr().String(),
		"upstream", target.String())
	return nil
}

func (p *Process) shouldStage() bool {
	return p.cfg.Project.StagePublic && p.cfg.Upstream.Kind == config.UpstreamCommand
}

// stopUpstream undoes a partially completed Start.
func (p *Process) stopUpstream(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.deps.Upstream.Stop(ctx); err != nil {
		p.logger.Warn(ctx, err, "Failed to stop upstream after startup error", "cause", cause.Error())
	}
}

// drainRebuilds logs rebuild notifications until the upstream closes the
// channel. The root document is never regenerated.
func (p *Process) drainRebuilds(done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for ev := range p.deps.Upstream.Rebuilds() {
		p.recorder.Rebuild()
		fields := []interface{}{"at", ev.Time.Format(time.TimeOnly)}
		if len(ev.Paths) > 0 {
			fields = append(fields, "files", len(ev.Paths))
		}
		if ev.Message != "" {
			fields = append(fields, "output", ev.Message)
		}
		p.logger.Info(ctx, "Rebuild finished", fields...)
	}
}

// Shutdown stops accepting connections, stops the upstream, closes the
// proxy and stops the metrics server, in that order. Every step runs even
// if an earlier one fails; the errors are joined. Later calls return the
// result of the first.
func (p *Process) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		fp, msrv, drained := p.proxy, p.metricsSrv, p.drained
		p.mu.Unlock()

		if fp == nil {
			// Start never completed and cleaned up after itself.
			return
		}

		p.logger.Info(ctx, "Shutting down")
		var errs []error
		if err := fp.StopAccepting(); err != nil {
			errs = append(errs, err)
		}
		if err := p.deps.Upstream.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := fp.Stop(); err != nil {
			errs = append(errs, err)
		}
		if msrv != nil {
			if err := msrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		select {
		case <-drained:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		p.shutdownErr = errors.Join(errs...)
		if p.shutdownErr != nil {
			p.logger.Warn(ctx, p.shutdownErr, "Shutdown finished with errors")
		} else {
			p.logger.Info(ctx, "Bye")
		}
	})
	return p.shutdownErr
}

// Addr returns the proxy's bound address, or nil when not running.
func (p *Process) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proxy == nil {
		return nil
	}
	return p.proxy.Addr()
}

// Target returns the upstream target obtained during Start.
func (p *Process) Target() upstream.Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Document returns the root document assembled during Start.
func (p *Process) Document() document.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// MetricsAddr returns the metrics server's bound address, or nil when it
// is not running.
func (p *Process) MetricsAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metricsSrv == nil {
		return nil
	}
	return p.metricsSrv.Addr()
}
