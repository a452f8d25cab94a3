package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentrelay/core"
)

var testCatalog = []ModelProfile{
	{Name: "mini", Tier: TierFast, SupportsTools: false},
	{Name: "standard", Tier: TierBalanced, SupportsTools: true, Multimodal: true},
	{Name: "heavy", Tier: TierPowerful, SupportsTools: true},
}

func TestRoute_ForcedModelAlwaysWins(t *testing.T) {
	r := New(testCatalog)
	rc := core.RequestContext{UserID: "u1"}

	tasks := []core.TaskDescriptor{
		{Content: "hi", ContentKind: core.ContentKindText, Metadata: map[string]any{core.MetaForcedModel: "heavy"}},
		{Content: "what's the weather", ContentKind: core.ContentKindText, Metadata: map[string]any{core.MetaForcedModel: "heavy"}},
		{Content: strings.Repeat("x", 10000), ContentKind: core.ContentKindImage, Metadata: map[string]any{core.MetaForcedModel: "heavy"}},
	}
	for _, task := range tasks {
		d := r.Route(rc, task)
		assert.Equal(t, "heavy", d.SelectedModel)
		assert.Equal(t, 1.0, d.Confidence)
		assert.NotEmpty(t, d.FallbackModel)
	}
}

func TestRoute_MultimodalContent(t *testing.T) {
	r := New(testCatalog)

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: "describe this", ContentKind: core.ContentKindImage})
	assert.Equal(t, "standard", d.SelectedModel)
	assert.InDelta(t, 0.9, d.Confidence, 0.001)
}

func TestRoute_ToolIntent(t *testing.T) {
	r := New(testCatalog)

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: "What is the weather in Paris?", ContentKind: core.ContentKindText})
	assert.Equal(t, "standard", d.SelectedModel)
	assert.Contains(t, d.Reasoning, "tool intent")
}

func TestRoute_LongContentPrefersPowerful(t *testing.T) {
	r := New(testCatalog, func(o *Options) { o.LongContentChars = 100 })

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: strings.Repeat("a", 200), ContentKind: core.ContentKindText})
	assert.Equal(t, "heavy", d.SelectedModel)
}

func TestRoute_DefaultBalanced(t *testing.T) {
	r := New(testCatalog)

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: "hello there", ContentKind: core.ContentKindText})
	assert.Equal(t, "standard", d.SelectedModel)
	assert.InDelta(t, 0.5, d.Confidence, 0.001)
}

func TestRoute_DegradedNeverErrors(t *testing.T) {
	// No multimodal model in the catalog; an image task cannot be satisfied.
	r := New([]ModelProfile{{Name: "only", Tier: TierFast}}, func(o *Options) { o.DefaultModel = "only" })

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: "look", ContentKind: core.ContentKindImage})
	assert.Equal(t, "only", d.SelectedModel)
	assert.Zero(t, d.Confidence)
	assert.Contains(t, d.Reasoning, "degraded")
	assert.NotEmpty(t, d.FallbackModel)
}

func TestRoute_FallbackDistinctWhenPossible(t *testing.T) {
	r := New(testCatalog)

	d := r.Route(core.RequestContext{}, core.TaskDescriptor{Content: "hello", ContentKind: core.ContentKindText})
	assert.NotEqual(t, d.SelectedModel, d.FallbackModel)
}
