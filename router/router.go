// Package router implements model selection for incoming tasks. Routing is a
// pure decision function over the task and a static catalog of model
// profiles: no network calls, deterministic for identical inputs, and it
// never fails — when nothing satisfies the capability requirements it
// degrades to the default model with confidence zero.
package router

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Tier buckets models by cost/latency so heuristics can trade quality for
// speed without naming concrete models.
type Tier string

const (
	// TierFast is cheap and quick, for short conversational turns.
	TierFast Tier = "fast"
	// TierBalanced is the general-purpose default.
	TierBalanced Tier = "balanced"
	// TierPowerful handles long or complex tasks.
	TierPowerful Tier = "powerful"
)

// ModelProfile describes one routable model's static capabilities.
type ModelProfile struct {
	Name          string
	Tier          Tier
	SupportsTools bool
	Multimodal    bool
}

// Options configure a Router.
type Options struct {
	// DefaultModel is the best-effort answer when requirements cannot be met.
	// Must name a catalog entry; when empty the first balanced profile wins.
	DefaultModel string
	// LongContentChars is the content length above which tasks route to the
	// powerful tier.
	LongContentChars int
	// ToolIntentKeywords trigger the tool-capable preference when present in
	// task content. Overrides the built-in set when non-nil.
	ToolIntentKeywords []string
	Logger             logging.Logger
}

// Router picks a primary and fallback model per task.
type Router struct {
	catalog      []ModelProfile
	defaultModel string
	longContent  int
	toolKeywords []string
	logger       logging.Logger
}

var defaultToolKeywords = []string{
	"search", "look up", "lookup", "find out", "weather", "forecast",
	"calculate", "schedule", "calendar", "email", "browse", "fetch",
}

// New constructs a Router over the given catalog.
func New(catalog []ModelProfile, optFns ...func(o *Options)) *Router {
	opts := Options{
		LongContentChars: 4000,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	def := opts.DefaultModel
	if def == "" {
		for _, p := range catalog {
			if p.Tier == TierBalanced {
				def = p.Name
				break
			}
		}
		if def == "" && len(catalog) > 0 {
			def = catalog[0].Name
		}
	}

	kw := opts.ToolIntentKeywords
	if kw == nil {
		kw = defaultToolKeywords
	}

	return &Router{
		catalog:      catalog,
		defaultModel: def,
		longContent:  opts.LongContentChars,
		toolKeywords: kw,
		logger:       opts.Logger,
	}
}

// Route decides which model serves the task. The decision priority is:
// explicit forced-model metadata, content kind (multimodal), tool-intent and
// length heuristics, then the balanced default. Both a primary and a fallback
// are always returned so the execution layer can retry without re-routing.
func (r *Router) Route(rc core.RequestContext, task core.TaskDescriptor) core.RoutingDecision {
	if forced := task.MetaString(core.MetaForcedModel); forced != "" {
		d := core.RoutingDecision{
			SelectedModel: forced,
			FallbackModel: r.fallbackFor(forced, requirements{}),
			Reasoning:     "model forced by request metadata",
			Confidence:    1.0,
		}
		r.logger.Debug("router.decision", "user_id", rc.UserID, "model", d.SelectedModel, "reason", d.Reasoning)
		return d
	}

	req := r.requirementsFor(task)
	profile, ok := r.pick(req)
	if !ok {
		d := core.RoutingDecision{
			SelectedModel: r.defaultModel,
			FallbackModel: r.fallbackFor(r.defaultModel, requirements{}),
			Reasoning:     fmt.Sprintf("degraded: %v; using default model", core.ErrRoutingDegraded),
			Confidence:    0,
		}
		r.logger.Warn("router.degraded", "user_id", rc.UserID, "model", d.SelectedModel)
		return d
	}

	d := core.RoutingDecision{
		SelectedModel: profile.Name,
		FallbackModel: r.fallbackFor(profile.Name, req),
		Reasoning:     req.reason,
		Confidence:    req.confidence,
	}
	r.logger.Debug("router.decision",
		"user_id", rc.UserID, "model", d.SelectedModel, "fallback", d.FallbackModel,
		"confidence", d.Confidence, "reason", d.Reasoning)
	return d
}

// requirements is the internal capability demand derived from a task.
type requirements struct {
	multimodal bool
	tools      bool
	tier       Tier
	reason     string
	confidence float64
}

func (r *Router) requirementsFor(task core.TaskDescriptor) requirements {
	if task.ContentKind == core.ContentKindImage || task.ContentKind == core.ContentKindDocument {
		return requirements{
			multimodal: true,
			tier:       TierBalanced,
			reason:     fmt.Sprintf("%s content requires a multimodal-capable model", task.ContentKind),
			confidence: 0.9,
		}
	}

	lower := strings.ToLower(task.Content)
	for _, kw := range r.toolKeywords {
		if strings.Contains(lower, kw) {
			return requirements{
				tools:      true,
				tier:       TierBalanced,
				reason:     fmt.Sprintf("detected tool intent (%q); preferring a tool-calling-capable model", kw),
				confidence: 0.7,
			}
		}
	}

	if len(task.Content) > r.longContent {
		return requirements{
			tier:       TierPowerful,
			reason:     "long content; preferring a powerful model",
			confidence: 0.6,
		}
	}

	return requirements{
		tier:       TierBalanced,
		reason:     "no specific signals; using balanced default",
		confidence: 0.5,
	}
}

// pick returns the first catalog profile satisfying req, preferring an exact
// tier match over any capable model.
func (r *Router) pick(req requirements) (ModelProfile, bool) {
	var capable []ModelProfile
	for _, p := range r.catalog {
		if req.multimodal && !p.Multimodal {
			continue
		}
		if req.tools && !p.SupportsTools {
			continue
		}
		capable = append(capable, p)
	}
	if len(capable) == 0 {
		return ModelProfile{}, false
	}
	for _, p := range capable {
		if p.Tier == req.tier {
			return p, true
		}
	}
	return capable[0], true
}

// fallbackFor picks a second model distinct from selected that still meets
// req, falling back to the default (or any other catalog entry) so a retry
// target always exists.
func (r *Router) fallbackFor(selected string, req requirements) string {
	var other string
	for _, p := range r.catalog {
		if p.Name == selected {
			continue
		}
		if other == "" {
			other = p.Name
		}
		if req.multimodal && !p.Multimodal {
			continue
		}
		if req.tools && !p.SupportsTools {
			continue
		}
		return p.Name
	}
	if other != "" {
		return other
	}
	if r.defaultModel != selected && r.defaultModel != "" {
		return r.defaultModel
	}
	return selected
}
