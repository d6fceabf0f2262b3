package service

import (
	"context"
	"regexp"
	"strings"
)

// TriageAgentName is the name the webhook pipeline dispatches to.
const TriageAgentName = "triage"

var (
	riskPattern       = regexp.MustCompile(`cancel|cancelar|cancelamento|procon|advogad|processo|judicial|jurídic|juridic|reclame aqui|anatel|denúncia|denuncia`)
	commercialPattern = regexp.MustCompile(`preço|preco|valor|orçamento|orcamento|cotação|cotacao|quanto custa|price|quote`)
)

// Hints shown to agents next to the conversation.
const (
	HintEscalation = "Cliente menciona cancelamento ou tema jurídico. Encaminhe a um supervisor."
	HintCommercial = "Cliente pergunta sobre preço. Envie a tabela de valores ou peça detalhes para um orçamento."
	HintDefault    = "Cumprimente o cliente e pergunte como pode ajudar."
)

// TriageAgent sorts inbound text into risk, commercial and everything else.
type TriageAgent struct{}

func NewTriageAgent() TriageAgent { return TriageAgent{} }

func (TriageAgent) Name() string { return TriageAgentName }

func (TriageAgent) Run(_ context.Context, input string, _ TriageContext) ([]Decision, error) {
	text := strings.ToLower(input)
	switch {
	case riskPattern.MatchString(text):
		return []Decision{{
			Type:     DecisionEscalate,
			Priority: PriorityHigh,
			Hint:     HintEscalation,
			Reason:   "risk:" + riskPattern.FindString(text),
		}}, nil
	case commercialPattern.MatchString(text):
		return []Decision{{
			Type:     DecisionSuggest,
			Priority: PriorityNormal,
			Hint:     HintCommercial,
			Reason:   "commercial:" + commercialPattern.FindString(text),
		}}, nil
	default:
		return []Decision{{
			Type:     DecisionSuggest,
			Priority: PriorityNormal,
			Hint:     HintDefault,
			Reason:   "default",
		}}, nil
	}
}
