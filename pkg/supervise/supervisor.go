// Package supervise launches a child server process and decides, via the
// configured readiness rules, the moment it becomes usable. Child stdout is
// mirrored and fed to log-pattern probes while rule completion races process
// exit and an optional timeout; the outer loop relaunches the child per the
// retry policy.
package supervise

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/readygate/pkg/logstream"
	"github.com/go-go-golems/readygate/pkg/rules"
	"github.com/go-go-golems/readygate/pkg/task"
)

// Outcome is the terminal result of one supervised attempt.
type Outcome int

const (
	// OutcomeNone means the attempt ended for a reason outside the retry
	// policy (fatal error or cancellation).
	OutcomeNone Outcome = iota
	// OutcomeFailedToSpawn means the child process could not be created.
	OutcomeFailedToSpawn
	// OutcomeExitedWhileStarting means the child exited before any rule
	// group became ready.
	OutcomeExitedWhileStarting
	// OutcomeTimedOutWhileStarting means the ready-timeout elapsed and the
	// child was killed.
	OutcomeTimedOutWhileStarting
	// OutcomeExitedWhileReady means the child became ready and later exited.
	OutcomeExitedWhileReady
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailedToSpawn:
		return "failed-to-spawn"
	case OutcomeExitedWhileStarting:
		return "exited-while-starting"
	case OutcomeTimedOutWhileStarting:
		return "timed-out-while-starting"
	case OutcomeExitedWhileReady:
		return "exited-while-ready"
	default:
		return "none"
	}
}

type Options struct {
	// Command is the child command line; the first element is the program.
	Command []string
	// Dir is the child working directory (empty means inherit).
	Dir string
	// Env is merged over the inherited environment.
	Env map[string]string
	// Rules decides when the child counts as ready.
	Rules *rules.OrRules
	// ReadyTimeout bounds the Starting state of each attempt; zero means no
	// timeout.
	ReadyTimeout time.Duration
	// Retries is the ceiling on consecutive failed attempts; nil means
	// relaunch forever.
	Retries *uint64

	// Client overrides the HTTP client used by http probes (tests).
	Client *http.Client
	// Stdout overrides where child output is mirrored (tests).
	Stdout *os.File
}

type Supervisor struct {
	opts Options
	env  rules.BuildEnv
}

func New(opts Options) (*Supervisor, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("missing command")
	}
	if opts.Rules == nil || len(opts.Rules.Groups) == 0 {
		return nil, errors.New("missing readiness rules")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Supervisor{
		opts: opts,
		env: rules.BuildEnv{
			Client: client,
			// Only reachability matters for readiness, not trust.
			TLSClient: &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
				},
			},
		},
	}, nil
}

// Run drives the supervise-forever loop: relaunch after every terminal
// outcome until the retry ceiling is hit or ctx is cancelled. The attempt
// counter resets to zero whenever a child reaches Ready and exits normally.
func (s *Supervisor) Run(ctx context.Context) error {
	var attempts uint64
	for {
		log.Info().Uint64("attempt", attempts+1).Msg("launching command")
		outcome, err := s.RunOnce(ctx)
		attempts = advance(outcome, attempts)

		switch outcome {
		case OutcomeNone:
			return err
		case OutcomeFailedToSpawn:
			log.Error().Err(err).Uint64("attempts", attempts).Msg("command failed to spawn")
		default:
			log.Info().Stringer("outcome", outcome).Uint64("attempts", attempts).Msg("attempt finished")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.opts.Retries != nil && attempts >= *s.opts.Retries {
			log.Error().Uint64("attempts", attempts).Msg("command failed to start")
			return errors.Errorf("command failed to become ready after %d attempts", attempts)
		}
	}
}

// advance applies one outcome to the attempt counter.
func advance(outcome Outcome, attempts uint64) uint64 {
	switch outcome {
	case OutcomeFailedToSpawn, OutcomeExitedWhileStarting, OutcomeTimedOutWhileStarting:
		return attempts + 1
	case OutcomeExitedWhileReady:
		return 0
	default:
		return attempts
	}
}

// RunOnce runs a single supervised attempt through its state machine:
// Spawning, Starting, then Ready or one of the failure outcomes. A non-nil
// error alongside OutcomeNone is fatal to the whole program (log lag, join
// failure, cancellation); alongside OutcomeFailedToSpawn it is the spawn
// error, already accounted for by the outcome.
func (s *Supervisor) RunOnce(ctx context.Context) (Outcome, error) {
	logger := log.With().Str("attempt_id", uuid.NewString()).Logger()

	pr, pw, err := os.Pipe()
	if err != nil {
		return OutcomeFailedToSpawn, errors.Wrap(err, "create stdout pipe")
	}
	defer func() { _ = pr.Close() }()

	// #nosec G204 -- the command is the operator's own command line.
	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Dir = s.opts.Dir
	cmd.Env = mergeEnv(os.Environ(), s.opts.Env)
	cmd.Stdin = nil // reads from the null device
	cmd.Stderr = os.Stderr
	cmd.Stdout = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logger.Info().Strs("command", s.opts.Command).Msg("spawning command")
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		logger.Error().Err(err).Msg("command failed to spawn")
		return OutcomeFailedToSpawn, errors.Wrap(err, "spawn command")
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	logs := logstream.NewBroadcast(logstream.DefaultCapacity)
	mirror := logs.Subscribe()
	probes := s.opts.Rules.Build(&rules.BuildEnv{
		Client:    s.env.Client,
		TLSClient: s.env.TLSClient,
		Logs:      logs,
	})

	stdoutTask := task.Go(ctx, func(ctx context.Context) (struct{}, error) {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return logstream.Pump(pr, logs) })
		g.Go(func() error { return logstream.Mirror(ctx, mirror, s.opts.Stdout) })
		return struct{}{}, g.Wait()
	})
	defer stdoutTask.Stop()

	rulesCtx, cancelRules := context.WithCancel(ctx)
	defer cancelRules()
	// Every return path receives from rulesCh exactly once, so losing probes
	// are fully torn down before the next attempt spawns.
	rulesCh := make(chan error, 1)
	go func() { rulesCh <- probes.Wait(rulesCtx) }()

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if s.opts.ReadyTimeout > 0 {
		timer := time.NewTimer(s.opts.ReadyTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	// Starting: race readiness against child exit and the optional timeout.
	// Ties are broken deterministically: rules beat exit, exit beats timeout.
	var (
		ready    bool
		readyErr error
		exited   bool
	)
	select {
	case readyErr = <-rulesCh:
		ready = true
	case <-exitCh:
		exited = true
		select {
		case readyErr = <-rulesCh:
			ready = true
		default:
		}
	case <-timeoutCh:
		select {
		case readyErr = <-rulesCh:
			ready = true
		default:
			select {
			case <-exitCh:
				exited = true
			default:
			}
		}
	case <-ctx.Done():
		s.kill(cmd, &logger)
		<-exitCh
		cancelRules()
		<-rulesCh
		s.drain(stdoutTask, &logger)
		return OutcomeNone, ctx.Err()
	}

	switch {
	case ready && readyErr != nil:
		// A probe failed fatally (log lag). Take the whole program down,
		// leaving no child behind.
		s.kill(cmd, &logger)
		<-exitCh
		s.drain(stdoutTask, &logger)
		return OutcomeNone, readyErr

	case ready:
		cancelRules()
		logger.Info().Msg("server is now ready")
		if !exited {
			select {
			case <-exitCh:
			case <-ctx.Done():
				s.kill(cmd, &logger)
				<-exitCh
				s.drain(stdoutTask, &logger)
				return OutcomeNone, ctx.Err()
			}
		}
		s.drain(stdoutTask, &logger)
		logger.Info().Msg("server exited")
		return OutcomeExitedWhileReady, nil

	case exited:
		cancelRules()
		<-rulesCh
		s.drain(stdoutTask, &logger)
		logger.Warn().Msg("command exited before becoming ready")
		return OutcomeExitedWhileStarting, nil

	default:
		cancelRules()
		<-rulesCh
		logger.Warn().Dur("ready_timeout", s.opts.ReadyTimeout).Msg("command timed out while starting")
		s.kill(cmd, &logger)
		<-exitCh
		s.drain(stdoutTask, &logger)
		return OutcomeTimedOutWhileStarting, nil
	}
}

// drain waits for the stdout task to finish forwarding. Every caller has
// already ensured the child is gone, so the pipe is at (or about to reach)
// end-of-stream.
func (s *Supervisor) drain(t *task.Task[struct{}], logger *zerolog.Logger) {
	if _, err := t.Join(); err != nil {
		logger.Warn().Err(err).Msg("stdout forwarding ended with an error")
	}
}

// kill terminates the child's process group so grandchildren holding the
// stdout pipe die with it.
func (s *Supervisor) kill(cmd *exec.Cmd, logger *zerolog.Logger) {
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	logger.Debug().Int("pid", pid).Msg("killed command")
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
