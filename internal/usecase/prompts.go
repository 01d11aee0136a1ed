package usecase

import (
	"fmt"
	"strings"
)

const summarySystemPrompt = "Você é um especialista em análise de documentos fiscais e tributários brasileiros. Responda sempre em JSON válido."

const summaryPromptTemplate = `Analise o seguinte texto extraído de uma nota técnica da Receita Federal sobre NFe (Nota Fiscal eletrônica) e forneça um resumo estruturado.

TEXTO DA NOTA TÉCNICA:
%s

INSTRUÇÕES:
1. Crie um resumo conciso mas completo (máximo 500 palavras)
2. Identifique os pontos-chave mais importantes (3-8 pontos)
3. Liste todas as mudanças, alterações ou novidades mencionadas
4. Identifique os tópicos/temas principais abordados
5. Mantenha foco em informações práticas para empresas que emitem NFe

FORMATO DE RESPOSTA:
Responda APENAS em formato JSON válido com a seguinte estrutura:
{
    "summary": "Resumo completo da nota técnica...",
    "key_points": ["Ponto importante 1", "Ponto importante 2"],
    "changes_identified": ["Mudança ou alteração 1"],
    "topics": ["Tópico principal 1"],
    "confidence_score": 0.95
}

IMPORTANTE:
- Se não houver mudanças específicas, deixe "changes_identified" como array vazio
- O confidence_score deve ser um número entre 0 e 1 baseado na qualidade do texto fonte
- Seja específico e técnico, mas mantenha linguagem acessível`

const impactSystemPrompt = "Você é um consultor tributário especialista em NFe e regulamentações fiscais brasileiras. Responda sempre em JSON válido."

const impactPromptTemplate = `Analise a seguinte nota técnica e forneça uma análise de impacto detalhada.

TÍTULO: %s
RESUMO: %s
PONTOS-CHAVE: %s
MUDANÇAS: %s

FORMATO DE RESPOSTA (JSON):
{
    "impact_level": "alto|médio|baixo",
    "urgency": "urgente|importante|informativo",
    "affected_business_types": ["tipo1", "tipo2"],
    "implementation_deadline": "data ou prazo se mencionado, ou null",
    "action_required": "Sim|Não|Recomendado",
    "recommended_actions": ["Ação recomendada 1", "Ação recomendada 2"],
    "compliance_risk": "alto|médio|baixo",
    "estimated_effort": "horas ou descrição do esforço necessário"
}`

func summaryPrompt(content string) string {
	return fmt.Sprintf(summaryPromptTemplate, content)
}

func impactPrompt(title, summary string, keyPoints, changes []string) string {
	return fmt.Sprintf(impactPromptTemplate, title, summary, bulletList(keyPoints), bulletList(changes))
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(nenhum)"
	}
	return "\n- " + strings.Join(items, "\n- ")
}
