package agent

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// responseFormatInstruction asks the model for the multi-message envelope the
// chat service splits into separate sends.
const responseFormatInstruction = `Responde SIEMPRE con un JSON con la siguiente estructura:
{"response": ["mensaje 1 (máximo 20 palabras)", "mensaje 2 (máximo 20 palabras)", "..."]}
Divide tu respuesta en varios mensajes cortos cuando haga falta, o usa uno solo si es suficiente.`

// continuePrompt asks the model whether a silent lead should be re-engaged.
const continuePrompt = `Eres %s de %s. Revisa la conversación anterior con el cliente, que lleva un tiempo sin responder.
Decide si vale la pena escribirle de nuevo para retomar la conversación de forma natural, sin presionar.
No escribas si la conversación terminó de forma natural o el cliente pidió no ser contactado.
Responde únicamente con un JSON: {"should_reply": true o false, "message": "texto del mensaje o vacío"}`

// SystemPrompt renders the business persona. It is rebuilt on every turn.
func SystemPrompt(b models.Business) string {
	p := b.Profile
	company := p.Company
	if company == "" {
		company = b.Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Eres %s, asesor de %s, y conversas con clientes por WhatsApp de manera informal, amigable y directa.\n", b.Name, company)
	if p.Location != "" {
		fmt.Fprintf(&sb, "Eres de %s, así que heredas sus costumbres y formas de hablar.\n", p.Location)
	}
	if len(p.Expressions) > 0 {
		fmt.Fprintf(&sb, "Usa expresiones típicas como: %s.\n", strings.Join(p.Expressions, ", "))
	}
	if p.Personality != "" {
		fmt.Fprintf(&sb, "Tu personalidad es: %s.\n", p.Personality)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "Descripción de %s: %s\n", company, p.Description)
	}
	fmt.Fprintf(&sb, "Tu conocimiento se limita a %s. Si el cliente cambia de tema, redirige la conversación con amabilidad.\n", company)
	sb.WriteString("Si no sabes una respuesta no la inventes: di que buscarás la información.\n")
	if p.SpecificPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(p.SpecificPrompt))
		sb.WriteString("\n")
	}
	if len(p.ConversationExamples) > 0 {
		sb.WriteString("\nUsa estas conversaciones como ejemplo:\n")
		for _, ex := range p.ConversationExamples {
			sb.WriteString(strings.TrimSpace(ex))
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(responseFormatInstruction)
	return sb.String()
}

// ContinuePrompt renders the re-engagement decision prompt.
func ContinuePrompt(b models.Business) string {
	company := b.Profile.Company
	if company == "" {
		company = b.Name
	}
	return fmt.Sprintf(continuePrompt, b.Name, company)
}
