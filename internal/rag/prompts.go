package rag

import (
	"fmt"
	"strings"
)

// Prompt templates for every generation operation, centralized for tuning.
// Structured operations instruct the model to answer with a JSON object in
// the exact shape the parser validates.

const qaTemplate = `You are an expert document analyst. Use the provided context to answer the question accurately and thoroughly.
If the context doesn't contain enough information, say so honestly.

CONTEXT:
%s

QUESTION: %s

ANSWER:`

const summaryTemplate = `You are an expert document summarizer. Analyze the following document text and provide a comprehensive summary.

DOCUMENT TEXT:
%s

Provide your response as a JSON object with these exact keys:
{
    "executive_summary": "A 2-3 paragraph executive summary",
    "section_summaries": [
        {"title": "Section title", "summary": "Section summary"}
    ],
    "bullet_highlights": ["Key highlight 1", "Key highlight 2"],
    "key_takeaways": ["Takeaway 1", "Takeaway 2"]
}

JSON RESPONSE:`

const riskTemplate = `Analyze this document for potential risks, compliance issues, and concerning language.

DOCUMENT TEXT:
%s

Identify and categorize all risks. Return as JSON:
{
    "overall_risk_score": "Low|Medium|High",
    "risk_items": [
        {
            "risk_type": "Compliance|Financial|Legal|Operational|Reputational",
            "severity": "Low|Medium|High",
            "description": "Brief description of the risk",
            "highlighted_text": "Exact quote from document",
            "recommendation": "Suggested mitigation"
        }
    ],
    "total_risks": 0
}

JSON RESPONSE:`

const comparisonTemplate = `Compare the following documents and identify similarities and differences.

%s

Provide a structured comparison as JSON:
{
    "summary": "Overall comparison summary",
    "similarities": ["Similarity 1", "Similarity 2"],
    "differences": [
        {
            "category": "Category name",
            "document_a": "What Document A says",
            "document_b": "What Document B says",
            "detail": "Detailed explanation"
        }
    ]
}

JSON RESPONSE:`

// extractionTemplates maps a document type to its extraction prompt. Unknown
// types fall back to the general template.
var extractionTemplates = map[string]string{
	"legal": `Analyze this legal document and extract key information.

DOCUMENT TEXT:
%s

Extract and return as JSON:
{
    "parties": ["Party names involved"],
    "effective_date": "Contract effective date",
    "termination_date": "Contract end date",
    "key_terms": ["Important terms and conditions"],
    "obligations": ["Key obligations for each party"],
    "penalties": ["Penalty clauses"],
    "governing_law": "Applicable law/jurisdiction",
    "special_clauses": ["Notable or unusual clauses"]
}

JSON RESPONSE:`,

	"financial": `Analyze this financial document and extract key metrics.

DOCUMENT TEXT:
%s

Extract and return as JSON:
{
    "revenue": "Total revenue figure",
    "expenses": "Total expenses",
    "net_income": "Net income/loss",
    "key_ratios": {"ratio_name": "value"},
    "trends": ["Notable financial trends"],
    "risks": ["Financial risk factors"],
    "outlook": "Future outlook summary"
}

JSON RESPONSE:`,

	"research": `Analyze this research paper and extract key information.

DOCUMENT TEXT:
%s

Extract and return as JSON:
{
    "methodology": "Research methodology description",
    "key_contributions": ["Main contributions"],
    "findings": ["Key findings"],
    "limitations": ["Study limitations"],
    "future_work": ["Suggested future directions"],
    "citations_count": "Number of references"
}

JSON RESPONSE:`,

	"general": `Analyze this document and extract key information.

DOCUMENT TEXT:
%s

Extract and return as JSON:
{
    "main_topics": ["Primary topics covered"],
    "key_points": ["Important points"],
    "action_items": ["Action items if any"],
    "references": ["Notable references or citations"]
}

JSON RESPONSE:`,
}

func qaPrompt(context, question string) string {
	return fmt.Sprintf(qaTemplate, context, question)
}

func summaryPrompt(text string) string {
	return fmt.Sprintf(summaryTemplate, text)
}

func riskPrompt(text string) string {
	return fmt.Sprintf(riskTemplate, text)
}

func comparisonPrompt(sections []string) string {
	return fmt.Sprintf(comparisonTemplate, strings.Join(sections, "\n\n---\n\n"))
}

func extractionPrompt(docType, text string) string {
	tmpl, ok := extractionTemplates[docType]
	if !ok {
		tmpl = extractionTemplates["general"]
	}
	return fmt.Sprintf(tmpl, text)
}
