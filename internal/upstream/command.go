package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
)

var (
	urlRE = regexp.MustCompile(`https?://[^\s'"<>]+`)

	// DefaultRebuildPattern matches the "rebuilt" lines printed by esbuild,
	// vite and webpack in watch mode.
	DefaultRebuildPattern = regexp.MustCompile(`(?i)(build finished|rebuil[dt]|compiled successfully|hmr update|page reload)`)
)

// URLExtractor inspects one line of dev server output. It returns a nil URL
// and nil error for lines that carry no address, the URL once found, or an
// error if the line should have carried an address but it is malformed.
type URLExtractor func(line string) (*url.URL, error)

// PatternExtractor returns an URLExtractor that looks for an http(s) URL on
// every line matching re. A nil re matches every line.
func PatternExtractor(re *regexp.Regexp) URLExtractor {
	return func(line string) (*url.URL, error) {
		if re != nil && !re.MatchString(line) {
			return nil, nil
		}
		raw := urlRE.FindString(stripANSI(line))
		if raw == "" {
			if re == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("no URL in matching line %q", line)
		}
		return url.Parse(strings.TrimRight(raw, ".,;)"))
	}
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// stripANSI removes terminal colour codes that dev servers add even when
// their output is not a terminal.
func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// CommandOptions configure a CommandServer.
type CommandOptions struct {
	Dir            string
	Binary         string
	Args           []string
	Env            []string
	Extractor      URLExtractor
	RebuildPattern *regexp.Regexp
	StartTimeout   time.Duration
	// WaitDelay bounds how long Stop waits for the output pipes to close
	// after the process exited. Descendants that inherited them keep them
	// open otherwise.
	WaitDelay time.Duration
	// Output receives a copy of every line the process prints.
	Output io.Writer
	Logger logging.Logger
}

// CommandServer manages a dev server child process.
type CommandServer struct {
	opts   CommandOptions
	logger logging.Logger
	feed   *rebuildFeed

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	exitErr  error
	stopOnce sync.Once
}

// NewCommandServer creates a CommandServer. The process is not started
// until Start is called.
func NewCommandServer(opts CommandOptions) *CommandServer {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Extractor == nil {
		opts.Extractor = PatternExtractor(nil)
	}
	if opts.RebuildPattern == nil {
		opts.RebuildPattern = DefaultRebuildPattern
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = 2 * time.Second
	}
	return &CommandServer{
		opts:   opts,
		logger: opts.Logger.WithComponent("upstream"),
		feed:   newRebuildFeed(),
		exited: make(chan struct{}),
	}
}

// Start implements Upstream. It returns once the process has printed its
// address, the context is done, the start timeout expires or the process
// exits.
func (c *CommandServer) Start(ctx context.Context) (Target, error) {
	cmd := exec.Command(c.opts.Binary, c.opts.Args...)
	cmd.Dir = c.opts.Dir
	cmd.Env = append(os.Environ(), c.opts.Env...)

	cmd.WaitDelay = c.opts.WaitDelay
	ownProcessGroup(cmd)

	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return Target{}, c.startError(fmt.Sprintf("failed to start dev server %q in %q", cmd.String(), cmd.Dir), err)
	}
	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()
	c.logger.Info(ctx, "Started dev server", "command", cmd.String(), "pid", cmd.Process.Pid)

	found := make(chan *url.URL, 1)
	failed := make(chan error, 1)
	var scanners sync.WaitGroup
	var once sync.Once
	for _, r := range []io.Reader{stdout, stderr} {
		scanners.Add(1)
		go func(r io.Reader) {
			defer scanners.Done()
			c.scan(r, &once, found, failed)
		}(r)
	}

	go func() {
		// Wait returns at most WaitDelay after the process exits, even
		// when a descendant still holds the output pipes.
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		scanners.Wait()
		c.mu.Lock()
		c.exitErr = err
		c.mu.Unlock()
		close(c.exited)
		c.feed.close()
	}()

	timer := time.NewTimer(c.opts.StartTimeout)
	defer timer.Stop()

	select {
	case u := <-found:
		target, err := TargetFromURL(u)
		if err != nil {
			c.Stop(context.Background())
			return Target{}, c.startError("dev server printed an unusable address", err)
		}
		c.logger.Info(ctx, "Dev server is ready", "upstream", target.String())
		return target, nil
	case err := <-failed:
		c.Stop(context.Background())
		return Target{}, c.noURLError(err)
	case <-c.exited:
		return Target{}, c.noURLError(fmt.Errorf("dev server exited before reporting an address: %v", c.exitError()))
	case <-timer.C:
		c.Stop(context.Background())
		return Target{}, c.noURLError(fmt.Errorf("no address after %s", c.opts.StartTimeout))
	case <-ctx.Done():
		c.Stop(context.Background())
		return Target{}, c.startError("start cancelled", ctx.Err())
	}
}

func (c *CommandServer) scan(r io.Reader, once *sync.Once, found chan<- *url.URL, failed chan<- error) {
	ctx := context.Background()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	ready := false
	for sc.Scan() {
		line := sc.Text()
		if c.opts.Output != nil {
			fmt.Fprintln(c.opts.Output, line)
		}
		c.logger.Debug(ctx, "Dev server output", "line", line)

		if !ready {
			u, err := c.opts.Extractor(line)
			switch {
			case err != nil:
				once.Do(func() { failed <- err })
				ready = true
				continue
			case u != nil:
				once.Do(func() { found <- u })
				ready = true
				continue
			}
		}

		if c.opts.RebuildPattern.MatchString(line) {
			c.feed.publish(RebuildEvent{Time: time.Now(), Message: stripANSI(line)})
		}
	}
}

func (c *CommandServer) exitError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *CommandServer) startError(msg string, cause error) error {
	return spaerrors.NewBuildError(spaerrors.CodeUpstreamStart, msg, cause).WithComponent("upstream")
}

func (c *CommandServer) noURLError(cause error) error {
	return c.startError("dev server did not report its address",
		spaerrors.NewBuildError(spaerrors.CodeUpstreamNoURL, "no address found in dev server output", cause))
}

// Rebuilds implements Upstream.
func (c *CommandServer) Rebuilds() <-chan RebuildEvent {
	return c.feed.ch
}

// Stop implements Upstream. The process is asked to interrupt and is
// killed if it has not exited when ctx is done.
func (c *CommandServer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cmd := c.cmd
		c.mu.Unlock()

		if cmd == nil || cmd.Process == nil {
			c.feed.close()
			return
		}

		select {
		case <-c.exited:
			return
		default:
		}

		if sigErr := signalGroup(cmd.Process, os.Interrupt); sigErr != nil {
			// Interrupt is not supported everywhere.
			_ = signalGroup(cmd.Process, os.Kill)
		}

		select {
		case <-c.exited:
		case <-ctx.Done():
			_ = signalGroup(cmd.Process, os.Kill)
			<-c.exited
			err = ctx.Err()
		}
		c.logger.Info(context.Background(), "Dev server stopped")
	})

	if err == nil {
		if exitErr := c.exitError(); exitErr != nil {
			var ee *exec.ExitError
			// Exiting because of our interrupt is the expected outcome, and
			// so is a descendant that outlived it holding the pipes.
			if !errors.As(exitErr, &ee) && !errors.Is(exitErr, exec.ErrWaitDelay) {
				return exitErr
			}
		}
	}
	return err
}
