package lifecycle

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spadev/internal/config"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/metrics"
	"github.com/conneroisu/spadev/internal/upstream"
)

const indexTemplate = `<!DOCTYPE html><html><head><title>App</title></head>` +
	`<body><div id="root"></div></body></html>`

// fakeUpstream is an in-process dev server that records how it is driven.
type fakeUpstream struct {
	startErr error
	rebuilds chan upstream.RebuildEvent

	starts atomic.Int32
	stops  atomic.Int32

	mu        sync.Mutex
	srv       *httptest.Server
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{rebuilds: make(chan upstream.RebuildEvent, 4)}
}

func (f *fakeUpstream) Start(ctx context.Context) (upstream.Target, error) {
	f.starts.Add(1)
	if f.startErr != nil {
		return upstream.Target{}, f.startErr
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.js" {
			io.WriteString(w, "console.log('app')")
			return
		}
		http.NotFound(w, r)
	}))
	f.mu.Lock()
	f.srv = srv
	f.mu.Unlock()

	u, err := url.Parse(srv.URL)
	if err != nil {
		return upstream.Target{}, err
	}
	return upstream.TargetFromURL(u)
}

func (f *fakeUpstream) Rebuilds() <-chan upstream.RebuildEvent {
	return f.rebuilds
}

func (f *fakeUpstream) Stop(ctx context.Context) error {
	f.stops.Add(1)
	f.closeOnce.Do(func() {
		close(f.rebuilds)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.srv != nil {
			f.srv.Close()
		}
	})
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	public := filepath.Join(root, "public")
	require.NoError(t, os.MkdirAll(public, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte(indexTemplate), 0o644))

	return &config.Config{
		Mode: config.ModeDevelopment,
		Server: config.ServerConfig{
			Host:              "127.0.0.1",
			Port:              0,
			ReadHeaderTimeout: time.Second,
		},
		Project: config.ProjectConfig{
			Root:      root,
			Homepage:  "/",
			PublicDir: public,
			Template:  filepath.Join(public, "index.html"),
			ServeDir:  filepath.Join(root, "build", "serve"),
		},
		Build: config.BuildConfig{
			Entrypoints: []string{filepath.Join(root, "src", "index.tsx")},
		},
		Upstream: config.UpstreamConfig{Kind: config.UpstreamStatic},
		Metrics:  config.MetricsConfig{Path: "/metrics"},
		Site:     config.NewSite("/", false),
	}
}

func shutdown(t *testing.T, p *Process) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func getBody(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartServesDocumentAndUpstream(t *testing.T) {
	up := newFakeUpstream()
	p := New(testConfig(t), Dependencies{Upstream: up})
	require.NoError(t, p.Start(context.Background()))
	defer shutdown(t, p)

	base := "http://" + p.Addr().String()

	status, body := getBody(t, base+"/index.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "console.log('app')", body)

	status, body = getBody(t, base+"/dashboard/settings")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, p.Document().String(), body)
	assert.Contains(t, body, `<script src="/index.js"></script>`)
	assert.Contains(t, body, `<link rel="stylesheet" href="/index.css"/>`)

	assert.Equal(t, int32(1), up.starts.Load())
	assert.NotZero(t, p.Target().Port)
}

func TestShutdownIsIdempotent(t *testing.T) {
	up := newFakeUpstream()
	p := New(testConfig(t), Dependencies{Upstream: up})
	require.NoError(t, p.Start(context.Background()))
	addr := p.Addr().String()

	shutdown(t, p)
	shutdown(t, p)
	assert.Equal(t, int32(1), up.stops.Load())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestShutdownBeforeStart(t *testing.T) {
	up := newFakeUpstream()
	p := New(testConfig(t), Dependencies{Upstream: up})
	shutdown(t, p)
	assert.Zero(t, up.stops.Load())
}

func TestBindFailureStopsUpstream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	up := newFakeUpstream()
	p := New(cfg, Dependencies{Upstream: up})
	err = p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodeListen))
	assert.Equal(t, int32(1), up.starts.Load())
	assert.Equal(t, int32(1), up.stops.Load())
	assert.Nil(t, p.Addr())

	shutdown(t, p)
	assert.Equal(t, int32(1), up.stops.Load())
}

func TestMissingTemplateStartsNothing(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Remove(cfg.Project.Template))

	up := newFakeUpstream()
	err := New(cfg, Dependencies{Upstream: up}).Start(context.Background())
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodeTemplateMissing))
	assert.Zero(t, up.starts.Load())
}

func TestUpstreamStartFailure(t *testing.T) {
	up := newFakeUpstream()
	up.startErr = spaerrors.NewBuildError(spaerrors.CodeUpstreamStart, "boom", nil)

	p := New(testConfig(t), Dependencies{Upstream: up})
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodeUpstreamStart))
	assert.Nil(t, p.Addr())
}

func TestStartTwice(t *testing.T) {
	p := New(testConfig(t), Dependencies{Upstream: newFakeUpstream()})
	require.NoError(t, p.Start(context.Background()))
	defer shutdown(t, p)

	assert.Error(t, p.Start(context.Background()))
}

func TestProductionWithoutPolicyFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeProduction
	cfg.Site = config.NewSite("/", true)

	up := newFakeUpstream()
	err := New(cfg, Dependencies{Upstream: up}).Start(context.Background())
	require.Error(t, err)
	assert.Zero(t, up.starts.Load())
}

func TestProductionDocumentCarriesPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeProduction
	cfg.Site = config.NewSite("https://example.com/app/", true)
	cfg.Security.PolicyFile = filepath.Join(cfg.Project.Root, "csp.json")
	require.NoError(t, os.WriteFile(cfg.Security.PolicyFile,
		[]byte(`{"default-src": ["'self'"], "img-src": ["'self'", "data:"]}`), 0o644))

	doc, err := BuildDocument(context.Background(), cfg, PolicySource(cfg), nil)
	require.NoError(t, err)
	assert.Contains(t, doc.String(), `http-equiv="Content-Security-Policy"`)
	assert.Contains(t, doc.String(), `src="https://example.com/app/index.js"`)
}

func TestRebuildsDoNotChangeDocument(t *testing.T) {
	up := newFakeUpstream()
	collector := metrics.NewCollector(nil)
	p := New(testConfig(t), Dependencies{Upstream: up, Metrics: collector})
	require.NoError(t, p.Start(context.Background()))
	defer shutdown(t, p)

	before := p.Document().String()
	up.rebuilds <- upstream.RebuildEvent{Time: time.Now(), Message: "[watch] build finished"}
	up.rebuilds <- upstream.RebuildEvent{Time: time.Now(), Paths: []string{"/out/index.js"}}

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return strings.Contains(rec.Body.String(), "spadev_upstream_rebuilds_total 2")
	}, 5*time.Second, 10*time.Millisecond)

	_, body := getBody(t, "http://"+p.Addr().String()+"/")
	assert.Equal(t, before, body)
}

func TestMetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"

	p := New(cfg, Dependencies{Upstream: newFakeUpstream(), Metrics: metrics.NewCollector(nil)})
	require.NoError(t, p.Start(context.Background()))
	defer shutdown(t, p)

	getBody(t, "http://"+p.Addr().String()+"/missing")

	require.NotNil(t, p.MetricsAddr())
	status, body := getBody(t, "http://"+p.MetricsAddr().String()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `route="fallback"`)
}

func TestStagesPublicForCommandUpstream(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upstream.Kind = config.UpstreamCommand
	cfg.Project.StagePublic = true
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Project.PublicDir, "robots.txt"), []byte("User-agent: *"), 0o644))

	p := New(cfg, Dependencies{Upstream: newFakeUpstream()})
	require.NoError(t, p.Start(context.Background()))
	defer shutdown(t, p)

	assert.FileExists(t, filepath.Join(cfg.Project.ServeDir, "robots.txt"))
	assert.NoFileExists(t, filepath.Join(cfg.Project.ServeDir, "index.html"))
}

func TestNewUpstream(t *testing.T) {
	cfg := testConfig(t)

	u, err := NewUpstream(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &upstream.StaticServer{}, u)

	cfg.Upstream.Kind = config.UpstreamCommand
	cfg.Upstream.Command = "esbuild"
	cfg.Upstream.URLPattern = `Local:`
	u, err = NewUpstream(cfg, io.Discard, nil)
	require.NoError(t, err)
	assert.IsType(t, &upstream.CommandServer{}, u)

	cfg.Upstream.URLPattern = `(`
	_, err = NewUpstream(cfg, nil, nil)
	assert.Error(t, err)

	cfg.Upstream.Kind = "docker"
	_, err = NewUpstream(cfg, nil, nil)
	assert.Error(t, err)
}

func TestCommandEnv(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeProduction
	cfg.Site = config.NewSite("/app/", true)
	cfg.Build.Externals = []string{"react", "react-dom"}

	env := commandEnv(cfg)
	assert.Contains(t, env, "NODE_ENV=production")
	assert.Contains(t, env, "SPADEV_PUBLIC_URL=/app")
	assert.Contains(t, env, "SPADEV_EXTERNALS=react,react-dom")
}
