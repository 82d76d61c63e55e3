package rules

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/readygate/pkg/logstream"
)

// fakeProbe completes when released and records whether it was cancelled.
type fakeProbe struct {
	release   chan struct{}
	completed atomic.Bool
	cancelled atomic.Bool
	err       error
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{release: make(chan struct{})}
}

func (p *fakeProbe) Wait(ctx context.Context) error {
	select {
	case <-p.release:
		if p.err == nil {
			p.completed.Store(true)
		}
		return p.err
	case <-ctx.Done():
		p.cancelled.Store(true)
		return ctx.Err()
	}
}

func TestAndProbes_AllMustComplete(t *testing.T) {
	a, b, c := newFakeProbe(), newFakeProbe(), newFakeProbe()
	and := &AndProbes{probes: []Probe{a, b, c}}

	done := make(chan error, 1)
	go func() { done <- and.Wait(context.Background()) }()

	close(a.release)
	close(c.release)
	select {
	case <-done:
		t.Fatal("and-group completed with a member outstanding")
	case <-time.After(100 * time.Millisecond):
	}

	close(b.release)
	require.NoError(t, <-done)
	require.True(t, a.completed.Load())
	require.True(t, b.completed.Load())
	require.True(t, c.completed.Load())
}

func TestAndProbes_SingleMemberDelegates(t *testing.T) {
	a := newFakeProbe()
	close(a.release)
	and := &AndProbes{probes: []Probe{a}}
	require.NoError(t, and.Wait(context.Background()))
}

func TestAndProbes_OutsideCancellation(t *testing.T) {
	a, b := newFakeProbe(), newFakeProbe()
	and := &AndProbes{probes: []Probe{a, b}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- and.Wait(ctx) }()

	close(a.release)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, b.cancelled.Load())
}

func TestOrProbes_FirstGroupWinsAndLosersAreCancelled(t *testing.T) {
	winner := newFakeProbe()
	loserA, loserB := newFakeProbe(), newFakeProbe()
	or := &OrProbes{groups: []*AndProbes{
		{probes: []Probe{winner}},
		{probes: []Probe{loserA, loserB}},
	}}

	done := make(chan error, 1)
	go func() { done <- or.Wait(context.Background()) }()

	close(winner.release)
	require.NoError(t, <-done)

	// Losing probes were cancelled before Wait returned; nothing of theirs
	// is observable afterwards.
	require.True(t, loserA.cancelled.Load())
	require.True(t, loserB.cancelled.Load())
	require.False(t, loserA.completed.Load())
	require.False(t, loserB.completed.Load())
}

func TestOrProbes_SingleGroupDelegates(t *testing.T) {
	a := newFakeProbe()
	close(a.release)
	or := &OrProbes{groups: []*AndProbes{{probes: []Probe{a}}}}
	require.NoError(t, or.Wait(context.Background()))
}

func TestOrProbes_FatalErrorPropagates(t *testing.T) {
	lagged := newFakeProbe()
	lagged.err = &LagError{Missed: 7}
	close(lagged.release)
	slow := newFakeProbe()
	or := &OrProbes{groups: []*AndProbes{
		{probes: []Probe{lagged}},
		{probes: []Probe{slow}},
	}}

	err := or.Wait(context.Background())
	var lag *LagError
	require.ErrorAs(t, err, &lag)
	require.Equal(t, uint64(7), lag.Missed)
	require.True(t, slow.cancelled.Load())
}

func TestBuild_FreshProbesPerAttempt(t *testing.T) {
	tree, err := Parse(`after 1ms and matches ready or tcp port 1 ready`)
	require.NoError(t, err)

	env := &BuildEnv{Logs: logstream.NewBroadcast(4)}
	first := tree.Build(env)
	second := tree.Build(env)
	require.Len(t, first.groups, 2)
	require.Len(t, second.groups, 2)
	require.NotSame(t, first.groups[0], second.groups[0])
	env.Logs.Close()
}

func TestOrProbes_ParsedExpressionRace(t *testing.T) {
	// The fast group wins well before the slow one.
	tree, err := Parse("after 50ms or after 1m")
	require.NoError(t, err)

	or := tree.Build(&BuildEnv{})
	start := time.Now()
	require.NoError(t, or.Wait(context.Background()))
	require.Less(t, time.Since(start), 5*time.Second)
}
