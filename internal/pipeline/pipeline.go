// Package pipeline implements the per-query dispatch order described in
// spec §4.6: rewrite, then block, then the local-suffix shortcut, then
// recursive resolution — each stage short-circuiting the rest.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/BrettMayson/mindns-k8s/internal/blocklist"
	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
	"github.com/BrettMayson/mindns-k8s/internal/resolver"
	"github.com/BrettMayson/mindns-k8s/internal/rewrite"
)

// Counters tallies queries by how they were answered, for the admin
// surface's /stats endpoint (SPEC_FULL §4.10).
type Counters struct {
	FormErr     atomic.Uint64
	Rewrite     atomic.Uint64
	Block       atomic.Uint64
	LocalSuffix atomic.Uint64
	Resolved    atomic.Uint64
	ServFail    atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of Counters, safe to serialize.
type CounterSnapshot struct {
	FormErr     uint64
	Rewrite     uint64
	Block       uint64
	LocalSuffix uint64
	Resolved    uint64
	ServFail    uint64
}

// Snapshot reads every counter atomically and returns a plain copy.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FormErr:     c.FormErr.Load(),
		Rewrite:     c.Rewrite.Load(),
		Block:       c.Block.Load(),
		LocalSuffix: c.LocalSuffix.Load(),
		Resolved:    c.Resolved.Load(),
		ServFail:    c.ServFail.Load(),
	}
}

// localSuffix is the reserved suffix treated as always-absent when the
// mirror is enabled (spec §4.6, step 3).
const localSuffix = ".home.arpa"

// Config toggles which stages are active, mirroring the corresponding
// config sections (spec §6).
type Config struct {
	RewriteEnabled bool
	BlockEnabled   bool
	MirrorEnabled  bool
}

// Pipeline answers a single parsed request packet by dispatching its
// first question through the rewrite/block/local-suffix/recursion chain.
type Pipeline struct {
	Config   Config
	Rewrites *rewrite.Table
	Blocker  *blocklist.Blocker
	Resolver *resolver.Resolver
	Log      *slog.Logger

	Counters Counters
}

// New returns a Pipeline. Any of rewrites, blocker, or res may be nil if
// the corresponding Config flag is false; they are never dereferenced in
// that case.
func New(cfg Config, rewrites *rewrite.Table, blocker *blocklist.Blocker, res *resolver.Resolver, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{Config: cfg, Rewrites: rewrites, Blocker: blocker, Resolver: res, Log: log}
}

// Handle answers req, implementing spec §4.6 exactly: a request with zero
// questions gets FORMERR and nothing else; otherwise the response mirrors
// req's id and carries recursion_desired/recursion_available/response all
// set true regardless of what was actually done to answer it (spec.md's
// explicit "always recursion_available=true" quirk), then the first
// question is echoed and dispatched through the stage chain. When the
// mirror is disabled (or no resolver is configured), recursive lookup is
// skipped entirely and the response carries NOERROR with no answers.
func (p *Pipeline) Handle(ctx context.Context, req dnswire.Packet) dnswire.Packet {
	resp := dnswire.Packet{
		Header: dnswire.Header{
			ID:                 req.Header.ID,
			Response:           true,
			RecursionDesired:   true,
			RecursionAvailable: true,
		},
	}

	if len(req.Questions) == 0 {
		resp.Header.RCode = dnswire.RCodeFormErr
		p.Counters.FormErr.Add(1)
		return resp
	}

	q := req.Questions[0]
	resp.Questions = []dnswire.Question{q}

	p.Log.Debug("pipeline: handling query", "name", q.Name, "type", q.Type)

	if p.Config.RewriteEnabled && p.Rewrites != nil {
		if rec, ok := p.Rewrites.GetRewrite(q.Name); ok {
			resp.Header.RCode = dnswire.RCodeNoError
			resp.Answers = []dnswire.Record{rec}
			p.Counters.Rewrite.Add(1)
			return resp
		}
	}

	if p.Config.BlockEnabled && p.Blocker != nil && p.Blocker.IsBlocked(q.Name) {
		resp.Header.RCode = dnswire.RCodeNXDomain
		p.Counters.Block.Add(1)
		return resp
	}

	if p.Config.MirrorEnabled && strings.HasSuffix(q.Name, localSuffix) {
		resp.Header.RCode = dnswire.RCodeNXDomain
		p.Counters.LocalSuffix.Add(1)
		return resp
	}

	if !p.Config.MirrorEnabled || p.Resolver == nil {
		resp.Header.RCode = dnswire.RCodeNoError
		p.Counters.Resolved.Add(1)
		return resp
	}

	result, err := p.Resolver.Resolve(ctx, q.Name, q.Type)
	if err != nil {
		p.Log.Warn("pipeline: resolve failed", "name", q.Name, "type", q.Type, "error", err)
		resp.Header.RCode = dnswire.RCodeServFail
		p.Counters.ServFail.Add(1)
		return resp
	}

	resp.Header.RCode = result.Header.RCode
	if result.Header.RCode == dnswire.RCodeNoError {
		resp.Answers = result.Answers
		resp.Authorities = result.Authorities
		resp.Additionals = result.Additionals
	}
	p.Counters.Resolved.Add(1)
	return resp
}
