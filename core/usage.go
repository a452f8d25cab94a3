package core

// TokenUsage captures token accounting for a finished execution.
//
// When the provider does not report exact counts the engine estimates them
// from character lengths (see EstimateUsage). Figures are advisory only and
// must not be used for billing-grade accounting.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates u2 into u, used when an execution spans several model turns.
func (u *TokenUsage) Add(u2 TokenUsage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// charsPerToken is the rough English-text average used for estimation.
const charsPerToken = 4

// EstimateUsage derives an approximate TokenUsage from prompt and completion
// character counts. It is an approximation, not a guarantee.
func EstimateUsage(promptChars, completionChars int) TokenUsage {
	u := TokenUsage{
		PromptTokens:     (promptChars + charsPerToken - 1) / charsPerToken,
		CompletionTokens: (completionChars + charsPerToken - 1) / charsPerToken,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
