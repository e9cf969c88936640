// Package pipeline implements the Plugin Orchestrator (C8): the fixed
// eight-stage sequence -- Authentication, Authorization, Cache(read),
// Business(before), Core, Business(after), Cache(write), Audit -- that
// every resource interaction runs through (§4.8).
//
// Grounded on core/backend.interceptors.go's single-handler-per-
// (resource, operation) map, generalized from one interception point to
// the full ordered, typed-stage pipeline the spec requires, with sync
// stages able to abort and async stages running fire-and-forget.
package pipeline

import (
	"context"

	"github.com/fhircore/server/internal/logger"
	"github.com/fhircore/server/internal/model"
)

// Stage names the fixed pipeline position a Plugin runs at.
type Stage int

// The eight stages, in the fixed execution order of §4.8.
const (
	StageAuthentication Stage = iota
	StageAuthorization
	StageCacheRead
	StageBusinessBefore
	StageCore
	StageBusinessAfter
	StageCacheWrite
	StageAudit
)

var stageNames = [...]string{
	"authentication", "authorization", "cache-read", "business-before",
	"core", "business-after", "cache-write", "audit",
}

func (s Stage) String() string {
	if int(s) < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Mode controls whether a stage's failure aborts the pipeline.
type Mode int

const (
	// Sync stages run inline and their error aborts the whole pipeline.
	Sync Mode = iota
	// Async stages run in their own goroutine; their error is logged but
	// never observed by the caller (fire-and-forget per §4.8).
	Async
)

// Request carries everything a Plugin needs about the interaction in
// progress. CacheKey is tenant-scoped (it embeds TenantID) so plugins
// never need to remember to do that themselves.
type Request struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	Version      model.Version
	Interaction  model.Interaction
	Params       map[string]string
	Body         []byte

	// Result is populated by the Core stage and may be rewritten by
	// Business(after) plugins before the response is sent.
	Result []byte

	// Authorization is populated by the Authentication stage and read by
	// later stages that need caller identity (e.g. Authorization).
	Authorization interface{}
}

// CacheKey renders a tenant-scoped cache key for this request, per §5's
// "cache keys are always scoped by internal tenant id."
func (r *Request) CacheKey() string {
	return r.TenantID + ":" + r.ResourceType + ":" + r.ResourceID
}

// Plugin is one named step of the pipeline.
type Plugin struct {
	Name  string
	Stage Stage
	Mode  Mode
	Run   func(ctx context.Context, req *Request) error
}

// Orchestrator runs a registered set of plugins, in stage order, around a
// caller-supplied Core handler.
type Orchestrator struct {
	plugins []Plugin
}

// New constructs an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{}
}

// Register adds p to the orchestrator. Plugins are executed grouped by
// Stage in the fixed order of §4.8; within a stage, registration order is
// preserved.
func (o *Orchestrator) Register(p Plugin) {
	o.plugins = append(o.plugins, p)
}

// Execute runs every registered plugin around core, which implements the
// Core stage (the Storage Engine or Search Translator call). A Sync
// plugin or core itself returning a non-nil error aborts immediately and
// skips every later Sync stage up to, but not including, Audit: Audit
// plugins always run so that aborted requests are still recorded (§4.8).
func (o *Orchestrator) Execute(ctx context.Context, req *Request, core func(ctx context.Context, req *Request) error) error {
	var aborted error

	for stage := StageAuthentication; stage <= StageCacheWrite; stage++ {
		if aborted != nil {
			break
		}
		if stage == StageCore {
			if err := core(ctx, req); err != nil {
				aborted = err
				break
			}
			continue
		}
		if err := o.runStage(ctx, req, stage); err != nil {
			aborted = err
		}
	}

	o.runAsyncStage(ctx, req, StageAudit)

	return aborted
}

func (o *Orchestrator) runStage(ctx context.Context, req *Request, stage Stage) error {
	for _, p := range o.plugins {
		if p.Stage != stage {
			continue
		}
		if p.Mode == Async {
			o.runAsync(ctx, req, p)
			continue
		}
		if err := p.Run(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runAsyncStage(ctx context.Context, req *Request, stage Stage) {
	for _, p := range o.plugins {
		if p.Stage == stage {
			o.runAsync(ctx, req, p)
		}
	}
}

func (o *Orchestrator) runAsync(ctx context.Context, req *Request, p Plugin) {
	rlog := logger.ForOperation(logger.FromContext(ctx), req.TenantID, req.ResourceType, string(req.Interaction))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				rlog.Errorf("plugin %s (%s) panicked: %v", p.Name, p.Stage, r)
			}
		}()
		if err := p.Run(ctx, req); err != nil {
			rlog.Warnf("plugin %s (%s) failed: %v", p.Name, p.Stage, err)
		}
	}()
}
