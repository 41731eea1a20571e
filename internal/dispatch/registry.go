package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Agent is one entry in the operator-configured trigger table. Deployments
// supply their own agent identifiers and phrases; nothing here is
// hardcoded to a particular product.
type Agent struct {
	AgentID  string   `json:"agentId"`
	Name     string   `json:"name"`
	Channel  string   `json:"channel"`
	Triggers []string `json:"triggers"`
}

// Registry resolves spoken trigger phrases to agents, longest trigger
// first so a shorter phrase never shadows a longer one that contains it.
type Registry struct {
	agents   []Agent
	triggers []triggerEntry // sorted longest-first
}

type triggerEntry struct {
	phrase string // lowercased
	agent  Agent
}

// LoadRegistry reads the agent/trigger table from a JSON file shaped as
// {"agents": [...]}.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger registry: %w", err)
	}
	var payload struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse trigger registry: %w", err)
	}
	return NewRegistry(payload.Agents), nil
}

// NewRegistry builds a registry from an in-memory agent list.
func NewRegistry(agents []Agent) *Registry {
	r := &Registry{agents: agents}
	for _, a := range agents {
		for _, t := range a.Triggers {
			r.triggers = append(r.triggers, triggerEntry{phrase: strings.ToLower(strings.TrimSpace(t)), agent: a})
		}
	}
	sort.Slice(r.triggers, func(i, j int) bool {
		return len(r.triggers[i].phrase) > len(r.triggers[j].phrase)
	})
	return r
}

// match is a successful trigger resolution within a segment of text.
type match struct {
	agent   Agent
	trigger string
	index   int // byte offset of the trigger's start within text
}

// findTrigger returns the longest trigger phrase appearing in text,
// preferring earlier matches when lengths tie.
func (r *Registry) findTrigger(text string) (match, bool) {
	lower := strings.ToLower(text)
	best, found := match{}, false
	for _, te := range r.triggers {
		if te.phrase == "" {
			continue
		}
		if found && len(te.phrase) < len(best.trigger) {
			break
		}
		if idx := strings.Index(lower, te.phrase); idx >= 0 && (!found || idx < best.index) {
			best, found = match{agent: te.agent, trigger: te.phrase, index: idx}, true
		}
	}
	return best, found
}
