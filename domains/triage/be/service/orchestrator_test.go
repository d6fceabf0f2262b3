package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriageAgentTiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input    string
		typ      DecisionType
		priority Priority
		hint     string
	}{
		{"Quero CANCELAR meu plano", DecisionEscalate, PriorityHigh, HintEscalation},
		{"vou abrir reclamação no Reclame Aqui", DecisionEscalate, PriorityHigh, HintEscalation},
		{"qual o preço do plano anual?", DecisionSuggest, PriorityNormal, HintCommercial},
		{"quanto custa o preço se eu cancelar?", DecisionEscalate, PriorityHigh, HintEscalation},
		{"can you send a quote", DecisionSuggest, PriorityNormal, HintCommercial},
		{"bom dia", DecisionSuggest, PriorityNormal, HintDefault},
		{"", DecisionSuggest, PriorityNormal, HintDefault},
	}

	o, err := NewOrchestrator(NewTriageAgent())
	require.NoError(t, err)

	for _, tc := range cases {
		decisions, err := o.Run(context.Background(), TriageAgentName, tc.input, TriageContext{})
		require.NoError(t, err, tc.input)
		require.Len(t, decisions, 1, tc.input)
		require.Equal(t, tc.typ, decisions[0].Type, tc.input)
		require.Equal(t, tc.priority, decisions[0].Priority, tc.input)
		require.Equal(t, tc.hint, decisions[0].Hint, tc.input)
	}
}

func TestOrchestratorUnknownAgent(t *testing.T) {
	t.Parallel()

	o, err := NewOrchestrator(NewTriageAgent())
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "sales", "hi", TriageContext{})
	require.ErrorIs(t, err, ErrUnknownAgent)
	require.Equal(t, []string{TriageAgentName}, o.Agents())
}

type failingAgent struct{}

func (failingAgent) Name() string { return "broken" }

func (failingAgent) Run(context.Context, string, TriageContext) ([]Decision, error) {
	return nil, errors.New("boom")
}

func TestOrchestratorRegistration(t *testing.T) {
	t.Parallel()

	_, err := NewOrchestrator(NewTriageAgent(), NewTriageAgent())
	require.ErrorIs(t, err, ErrDuplicateAgent)

	_, err = NewOrchestrator(nil)
	require.Error(t, err)

	o, err := NewOrchestrator(failingAgent{})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "broken", "x", TriageContext{})
	require.ErrorContains(t, err, "boom")
}
