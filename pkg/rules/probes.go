package rules

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/readygate/pkg/logstream"
)

// Probe is a live, one-shot readiness signal for a single supervised
// attempt. Wait returns nil exactly once, when the condition holds; it
// returns ctx's error when cancelled, and any other error is fatal to the
// whole program (log lag). A probe must not be reused after Wait returns.
type Probe interface {
	Wait(ctx context.Context) error
}

// retryInterval rate-limits network probes to at most one attempt per second
// no matter how fast connection attempts fail.
const retryInterval = time.Second

// requestTimeout bounds a single HTTP readiness request.
const requestTimeout = 60 * time.Second

// LagError reports that a probe fell behind the log stream. Startup log
// volume is assumed to never outpace a single matching consumer, so this is
// not retried.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("log pattern probe lagged behind child output (%d lines missed)", e.Missed)
}

type afterProbe struct {
	duration time.Duration
}

func (p *afterProbe) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		log.Debug().Dur("duration", p.duration).Msg("timer completed")
		return nil
	}
}

type tcpProbe struct {
	port uint16
}

func (p *tcpProbe) Wait(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(p.port)))
	var dialer net.Dialer
	for {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			// Only reachability matters; the connection itself is discarded.
			_ = conn.Close()
			log.Debug().Str("addr", addr).Msg("connection established")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sleepUntil(ctx, start.Add(retryInterval)); err != nil {
			return err
		}
	}
}

type httpProbe struct {
	scheme string
	port   uint16
	client *http.Client
}

func (p *httpProbe) Wait(ctx context.Context) error {
	url := fmt.Sprintf("%s://127.0.0.1:%d", p.scheme, p.port)
	for {
		start := time.Now()
		err := p.head(ctx, url)
		if err == nil {
			log.Debug().Str("url", url).Msg("request successful")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Trace().Str("url", url).Err(err).Msg("request failed")
		if err := sleepUntil(ctx, start.Add(retryInterval)); err != nil {
			return err
		}
	}
}

func (p *httpProbe) head(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	// Any response of any status code counts as ready.
	_ = resp.Body.Close()
	return nil
}

type matchesProbe struct {
	pattern *regexp.Regexp
	sub     *logstream.Subscriber
}

func (p *matchesProbe) Wait(ctx context.Context) error {
	for {
		line, skipped, err := p.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, logstream.ErrClosed) {
				// The producer finished without a match. Readiness is now up
				// to sibling probes, the timeout or process exit, so park
				// until cancelled instead of signalling anything.
				log.Warn().Str("pattern", p.pattern.String()).Msg("log stream closed before pattern matched")
				<-ctx.Done()
				return ctx.Err()
			}
			return err
		}
		if skipped > 0 {
			return &LagError{Missed: skipped}
		}
		// Anchors apply to the line's content, not its terminator.
		if p.pattern.Match(bytes.TrimSuffix(line, []byte("\n"))) {
			log.Debug().Str("pattern", p.pattern.String()).Msg("log line matched")
			return nil
		}
	}
}

// AndProbes waits for every member probe of one attempt's AndRules group.
type AndProbes struct {
	probes []Probe
}

// Wait completes when all member probes have signalled ready. A slow member
// never cancels its siblings; only cancellation of ctx from outside, or a
// fatal member error, tears the group down.
func (a *AndProbes) Wait(ctx context.Context) error {
	if len(a.probes) == 1 {
		return a.probes[0].Wait(ctx)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range a.probes {
		g.Go(func() error { return p.Wait(ctx) })
	}
	return g.Wait()
}

// OrProbes waits for the first of one attempt's AndRules groups.
type OrProbes struct {
	groups []*AndProbes
}

// Wait completes as soon as any single group signals ready. All losing
// groups are cancelled at that instant and fully joined before Wait returns,
// so no probe has observable effects afterwards. A fatal error from any
// group (log lag) propagates even while others are still running.
func (o *OrProbes) Wait(ctx context.Context) error {
	if len(o.groups) == 1 {
		return o.groups[0].Wait(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(o.groups))
	for _, g := range o.groups {
		go func() { results <- g.Wait(ctx) }()
	}

	var cancelled error
	for i := 0; i < len(o.groups); i++ {
		err := <-results
		switch {
		case err == nil:
			cancel()
			drain(results, len(o.groups)-i-1)
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			cancelled = err
		default:
			cancel()
			drain(results, len(o.groups)-i-1)
			return err
		}
	}
	return cancelled
}

func drain(results <-chan error, n int) {
	for i := 0; i < n; i++ {
		<-results
	}
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
