// Package delegate implements hand-off intent detection over free text. The
// analyzer is a stateless pattern matcher that only proposes a candidate
// specialist with a confidence score; callers apply their own threshold
// before acting, which lets the execution graph use different bars for
// "expose the delegation tool" versus "force an immediate hand-off".
//
// The regex/keyword strategy is deliberately pluggable behind the Analyzer
// interface so a classifier could replace it without touching the state
// machine that consumes its output.
package delegate

import (
	"regexp"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/tool"
)

// Analyzer proposes a delegation target for a piece of text, or nil when no
// signal is present. Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(text string) *core.DelegationIntent
}

// Profile describes one specialist the analyzer can match against.
type Profile struct {
	// AgentID is the canonical delegation target name.
	AgentID string
	// Aliases are alternative names matched like the id itself.
	Aliases []string
	// Keywords are domain terms mapped to this specialist's capabilities
	// (e.g. "weather", "forecast" for a research specialist).
	Keywords []string
}

// Signal strengths. An explicit name mention always outscores a pure keyword
// cluster on the same text; phrasing that addresses the named agent directly
// ("ask toby to ...") strengthens the mention further.
const (
	nameMentionScore = 0.8
	phrasingBonus    = 0.15
	keywordBaseScore = 0.4
	keywordStepScore = 0.1
	keywordMaxScore  = 0.75
	maxConfidence    = 0.99
)

// matcher holds the precompiled patterns for one profile.
type matcher struct {
	profile  Profile
	names    []*regexp.Regexp // word-boundary name/alias mentions
	phrasing []*regexp.Regexp // "ask <name> to", "have <name> ..." cues
	keywords []string
}

// KeywordAnalyzer is the default Analyzer: explicit mentions, delegation
// phrasing and domain keyword clusters, scored and tie-broken by signal
// specificity.
type KeywordAnalyzer struct {
	matchers []matcher
	logger   logging.Logger
}

// Options configure a KeywordAnalyzer.
type Options struct {
	Logger logging.Logger
}

// NewKeywordAnalyzer precompiles matchers for the given profiles.
func NewKeywordAnalyzer(profiles []Profile, optFns ...func(o *Options)) *KeywordAnalyzer {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &KeywordAnalyzer{logger: opts.Logger}
	for _, p := range profiles {
		m := matcher{profile: p}
		names := append([]string{p.AgentID}, p.Aliases...)
		for _, n := range names {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				continue
			}
			quoted := regexp.QuoteMeta(n)
			m.names = append(m.names, regexp.MustCompile(`\b`+quoted+`\b`))
			m.phrasing = append(m.phrasing, regexp.MustCompile(`\b(?:ask|tell|have|get|let)\s+`+quoted+`\b`))
		}
		for _, kw := range p.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				m.keywords = append(m.keywords, kw)
			}
		}
		a.matchers = append(a.matchers, m)
	}
	return a
}

// candidate scores one profile against one text.
type candidate struct {
	agentID     string
	confidence  float64
	specificity int // 2 name mention, 1 keyword cluster
}

// Analyze scans text for delegation signals and returns the highest-scoring
// candidate, or nil when nothing matches. Ties on confidence break towards
// the more specific signal (explicit name mention beats keyword match).
func (a *KeywordAnalyzer) Analyze(text string) *core.DelegationIntent {
	lower := strings.ToLower(text)

	var best *candidate
	for i := range a.matchers {
		c := a.matchers[i].score(lower)
		if c == nil {
			continue
		}
		if best == nil || c.confidence > best.confidence ||
			(c.confidence == best.confidence && c.specificity > best.specificity) {
			best = c
		}
	}

	if best == nil {
		return nil
	}

	a.logger.Debug("delegate.intent",
		"target", best.agentID, "confidence", best.confidence)

	return &core.DelegationIntent{
		TargetAgentID: best.agentID,
		ToolName:      tool.DelegateToolName,
		Confidence:    best.confidence,
	}
}

func (m *matcher) score(lower string) *candidate {
	for _, re := range m.names {
		if !re.MatchString(lower) {
			continue
		}
		conf := nameMentionScore
		for _, pre := range m.phrasing {
			if pre.MatchString(lower) {
				conf += phrasingBonus
				break
			}
		}
		if conf > maxConfidence {
			conf = maxConfidence
		}
		return &candidate{agentID: m.profile.AgentID, confidence: conf, specificity: 2}
	}

	hits := 0
	for _, kw := range m.keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if hits == 0 {
		return nil
	}
	conf := keywordBaseScore + keywordStepScore*float64(hits-1)
	if conf > keywordMaxScore {
		conf = keywordMaxScore
	}
	return &candidate{agentID: m.profile.AgentID, confidence: conf, specificity: 1}
}

var _ Analyzer = (*KeywordAnalyzer)(nil)
