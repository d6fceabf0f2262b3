package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
)

// DecisionType is what an agent recommends doing with a message.
type DecisionType string

const (
	DecisionEscalate DecisionType = "ESCALATE"
	DecisionSuggest  DecisionType = "SUGGEST"
)

// Priority ranks escalations.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Decision is advisory output; nothing acts on it automatically.
type Decision struct {
	Type     DecisionType `json:"type"`
	Priority Priority     `json:"priority"`
	Hint     string       `json:"hint,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// TriageContext identifies the message being classified.
type TriageContext struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Provider       channel.Provider
	ExternalUserID string
}

// Agent classifies one input. Agents keep no state between calls.
type Agent interface {
	Name() string
	Run(ctx context.Context, input string, tc TriageContext) ([]Decision, error)
}

// Orchestrator is an immutable registry of named agents.
type Orchestrator struct {
	agents map[string]Agent
}

func NewOrchestrator(agents ...Agent) (*Orchestrator, error) {
	o := &Orchestrator{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a == nil {
			return nil, errors.New("nil agent")
		}
		name := strings.TrimSpace(a.Name())
		if name == "" {
			return nil, errors.New("agent name is required")
		}
		if _, exists := o.agents[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
		}
		o.agents[name] = a
	}
	return o, nil
}

// Run dispatches input to the named agent.
func (o *Orchestrator) Run(ctx context.Context, agentName, input string, tc TriageContext) ([]Decision, error) {
	agent, ok := o.agents[agentName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	decisions, err := agent.Run(ctx, input, tc)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentName, err)
	}
	for _, d := range decisions {
		metrics.TriageDecisions.WithLabelValues(string(d.Type)).Inc()
	}
	return decisions, nil
}

// Agents lists the registered agent names.
func (o *Orchestrator) Agents() []string {
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
