package core

// ContentKind categorizes the payload of a TaskDescriptor. The router uses it
// to steer image and document tasks towards multimodal-capable models.
type ContentKind string

const (
	// ContentKindText is plain conversational text.
	ContentKindText ContentKind = "text"
	// ContentKindImage marks tasks whose content references image input.
	ContentKindImage ContentKind = "image"
	// ContentKindDocument marks tasks whose content references an uploaded document.
	ContentKindDocument ContentKind = "document"
)

// Well-known metadata keys understood by the engine. Unknown keys are carried
// through untouched so callers can attach their own routing hints.
const (
	// MetaForcedModel pins the routing decision to a specific model name.
	MetaForcedModel = "model"
	// MetaAgent pre-selects the initial owner agent instead of the supervisor.
	MetaAgent = "agent"
	// MetaAllowedTools restricts the tool names exposed to the owner agent.
	MetaAllowedTools = "allowed_tools"
)

// TaskDescriptor is the normalized representation of one unit of work
// submitted to the engine. It is created per inbound request, treated as
// immutable afterwards, and discarded once the execution it seeds completes.
type TaskDescriptor struct {
	Content     string         `json:"content"`
	ContentKind ContentKind    `json:"content_kind"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewTask constructs a text TaskDescriptor without metadata.
func NewTask(content string) TaskDescriptor {
	return TaskDescriptor{Content: content, ContentKind: ContentKindText}
}

// MetaString returns a string-typed metadata value, or "" when the key is
// absent or holds a non-string value.
func (t TaskDescriptor) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	if s, ok := t.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetaStrings returns a string-slice metadata value. Both []string and
// []any-of-string encodings (the latter produced by JSON decoding) are
// accepted.
func (t TaskDescriptor) MetaStrings(key string) []string {
	if t.Metadata == nil {
		return nil
	}
	switch v := t.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
