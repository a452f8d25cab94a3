// Package agent defines the agents orchestrated by the execution graph: a
// supervisor that owns incoming tasks and may hand off to registered
// specialist agents. Agents hold instructions and a tool registry; model
// selection happens per execution in the router, not per agent.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentrelay/tool"
)

// Options configure an Agent instance. Use functional options with New.
type Options struct {
	Description  string
	Instructions string
	// Aliases are alternative names the delegation analyzer matches in free
	// text (nicknames, display names).
	Aliases []string
	// Keywords describe the agent's capability domain for keyword-cluster
	// delegation matching (e.g. "weather", "forecast").
	Keywords []string
	Tools    []tool.Tool
}

// Agent is one addressable participant in the delegation graph. A supervisor
// agent carries specialists; specialists are terminal (one-hop delegation) and
// must not carry specialists of their own.
type Agent struct {
	id           string
	description  string
	instructions string
	aliases      []string
	keywords     []string
	tools        map[string]tool.Tool
	specialists  map[string]*Agent
	supervisor   *Agent
}

// New creates an agent with sensible defaults. The id doubles as the
// delegation target name, so keep it short and stable ("toby", "research").
func New(id string, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Instructions: fmt.Sprintf("You are %s, a helpful AI assistant.", id),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{
		id:           strings.ToLower(id),
		description:  opts.Description,
		instructions: opts.Instructions,
		aliases:      opts.Aliases,
		keywords:     opts.Keywords,
		tools:        map[string]tool.Tool{},
		specialists:  map[string]*Agent{},
	}
	for _, t := range opts.Tools {
		a.tools[t.Name()] = t
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Description returns the human-readable summary shown to the supervisor's
// model when choosing a delegation target.
func (a *Agent) Description() string { return a.description }

// Instructions returns the system prompt for this agent.
func (a *Agent) Instructions() string { return a.instructions }

// Aliases returns alternative names for delegation matching.
func (a *Agent) Aliases() []string { return a.aliases }

// Keywords returns capability keywords for delegation matching.
func (a *Agent) Keywords() []string { return a.keywords }

// RegisterTool adds a tool to the agent's capability set.
func (a *Agent) RegisterTool(t tool.Tool) { a.tools[t.Name()] = t }

// RegisterTools adds multiple tools at once.
func (a *Agent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// Tool retrieves a registered tool by name.
func (a *Agent) Tool(name string) (tool.Tool, bool) {
	t, ok := a.tools[name]
	return t, ok
}

// Tools returns the registered tools sorted by name for deterministic
// request building.
func (a *Agent) Tools() []tool.Tool {
	names := make([]string, 0, len(a.tools))
	for n := range a.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]tool.Tool, 0, len(names))
	for _, n := range names {
		out = append(out, a.tools[n])
	}
	return out
}

// AddSpecialist registers s as a delegation target of a. Specialists are
// terminal: attaching a specialist to an agent that itself has a supervisor
// is rejected to keep delegation at one hop.
func (a *Agent) AddSpecialist(s *Agent) error {
	if a.supervisor != nil {
		return fmt.Errorf("agent %s is a specialist and cannot have specialists of its own", a.id)
	}
	if s.supervisor != nil {
		return fmt.Errorf("agent %s already has a supervisor", s.id)
	}
	if _, exists := a.specialists[s.id]; exists {
		return fmt.Errorf("specialist %s already registered", s.id)
	}
	s.supervisor = a
	a.specialists[s.id] = s
	return nil
}

// Specialists returns the registered specialists sorted by id.
func (a *Agent) Specialists() []*Agent {
	ids := make([]string, 0, len(a.specialists))
	for id := range a.specialists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.specialists[id])
	}
	return out
}

// FindSpecialist resolves a delegation target by id (case-insensitive).
func (a *Agent) FindSpecialist(id string) (*Agent, bool) {
	s, ok := a.specialists[strings.ToLower(id)]
	return s, ok
}

// Supervisor returns the owning supervisor, nil for root agents.
func (a *Agent) Supervisor() *Agent { return a.supervisor }

// IsSupervisor reports whether the agent has delegation targets.
func (a *Agent) IsSupervisor() bool { return len(a.specialists) > 0 }
