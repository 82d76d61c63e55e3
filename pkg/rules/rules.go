// Package rules implements the readiness expression language: a tree of
// AND/OR-composed checks ("after 2s and matches ready or tcp port 80 ready"),
// parsed once and instantiated into live probes for every supervised attempt.
package rules

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-go-golems/readygate/pkg/logstream"
)

// Rule is one atomic readiness condition. The set of implementations is
// closed: After, TCP, HTTP, HTTPS and Matches.
type Rule interface {
	// build instantiates a fresh probe for one supervised attempt, binding
	// any per-attempt resources (log subscription, HTTP client).
	build(env *BuildEnv) Probe
}

// BuildEnv carries the per-attempt resources probes are bound to.
type BuildEnv struct {
	// Client issues the plain-HTTP readiness requests.
	Client *http.Client
	// TLSClient issues HTTPS readiness requests; certificate verification is
	// expected to be disabled, only reachability matters.
	TLSClient *http.Client
	// Logs is the current attempt's stdout broadcast.
	Logs *logstream.Broadcast
}

// After becomes ready once the given duration has elapsed.
type After struct {
	Duration time.Duration
}

func (r After) build(*BuildEnv) Probe {
	return &afterProbe{duration: r.Duration}
}

// TCP becomes ready once a TCP connection to loopback succeeds.
type TCP struct {
	Port uint16
}

func (r TCP) build(*BuildEnv) Probe {
	return &tcpProbe{port: r.Port}
}

// HTTP becomes ready once any HTTP response is received from loopback. A zero
// Port means the default port 80.
type HTTP struct {
	Port uint16
}

func (r HTTP) build(env *BuildEnv) Probe {
	port := r.Port
	if port == 0 {
		port = 80
	}
	return &httpProbe{scheme: "http", port: port, client: env.Client}
}

// HTTPS is the TLS variant of HTTP. A zero Port means the default port 443.
type HTTPS struct {
	Port uint16
}

func (r HTTPS) build(env *BuildEnv) Probe {
	port := r.Port
	if port == 0 {
		port = 443
	}
	return &httpProbe{scheme: "https", port: port, client: env.TLSClient}
}

// Matches becomes ready once a child stdout line matches the pattern.
type Matches struct {
	Pattern *regexp.Regexp
}

func (r Matches) build(env *BuildEnv) Probe {
	return &matchesProbe{pattern: r.Pattern, sub: env.Logs.Subscribe()}
}

// AndRules is an ordered, non-empty group of rules that must all become
// ready.
type AndRules struct {
	Rules []Rule
}

// Build instantiates every member rule for one attempt.
func (g *AndRules) Build(env *BuildEnv) *AndProbes {
	probes := make([]Probe, 0, len(g.Rules))
	for _, r := range g.Rules {
		probes = append(probes, r.build(env))
	}
	return &AndProbes{probes: probes}
}

// OrRules is an ordered, non-empty group of AndRules of which any one
// becoming ready is sufficient. It is the root of a parsed expression and is
// shared read-only across attempts.
type OrRules struct {
	Groups []*AndRules
}

// Build instantiates the whole tree for one attempt.
func (o *OrRules) Build(env *BuildEnv) *OrProbes {
	groups := make([]*AndProbes, 0, len(o.Groups))
	for _, g := range o.Groups {
		groups = append(groups, g.Build(env))
	}
	return &OrProbes{groups: groups}
}
