// Package prompt builds the provider-agnostic prompts of the three model
// operations. Every prompt demands a strict JSON object so responses can be
// parsed without markdown stripping heuristics.
package prompt

import (
	"fmt"
	"strings"
)

// Match asks whether the text is really a policy of the declared type.
func Match(shopName, specialization, policyType, policyText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You review e-commerce shop policies. Shop: %q (sells: %s).\n", shopName, specialization)
	fmt.Fprintf(&b, "Decide whether the following text is a %s policy.\n\n", policyType)
	fmt.Fprintf(&b, "Text:\n%s\n\n", policyText)
	b.WriteString(`Respond with exactly one JSON object:
{"is_matched": bool, "confidence": number between 0 and 100, "reason": "short explanation"}`)
	return b.String()
}

// Compliance asks for the full structured compliance report.
func Compliance(shopName, specialization, policyType, policyText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You audit e-commerce shop policies for consumer-protection compliance.\n")
	fmt.Fprintf(&b, "Shop: %q (sells: %s). Policy type: %s.\n\n", shopName, specialization, policyType)
	fmt.Fprintf(&b, "Policy text:\n%s\n\n", policyText)
	b.WriteString(`Respond with exactly one JSON object:
{
  "overall_compliance_ratio": number between 0 and 100,
  "compliance_grade": one of "excellent", "very_good", "good", "acceptable", "weak", "non_compliant",
  "summary": "two or three sentences",
  "critical_issues": [{"issue": "", "exact_text": "", "severity": one of "critical", "high", "medium", "low", "compliance_ratio": number, "suggestion": "", "legal_reference": ""}],
  "weaknesses": [{"issue": "", "exact_text": "", "compliance_ratio": number, "suggestion": "", "legal_reference": ""}],
  "strengths": [{"requirement": "", "status": "", "found_text": "", "compliance_ratio": number}],
  "ambiguities": [{"missing_standard": "", "description": "", "importance": "", "suggested_text": ""}],
  "recommendations": ["", ""]
}
Empty arrays are acceptable. Do not add fields.`)
	return b.String()
}

// Regenerate asks for an improved policy addressing the report's findings.
func Regenerate(shopName, specialization, policyType, policyText, reportJSON string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You rewrite e-commerce shop policies to fix compliance findings.\n")
	fmt.Fprintf(&b, "Shop: %q (sells: %s). Policy type: %s.\n\n", shopName, specialization, policyType)
	fmt.Fprintf(&b, "Current policy:\n%s\n\n", policyText)
	fmt.Fprintf(&b, "Compliance findings:\n%s\n\n", reportJSON)
	b.WriteString(`Rewrite the policy so every finding is addressed while keeping the shop's tone and commitments.
Respond with exactly one JSON object:
{"improved_policy": "full rewritten policy text", "improvements_made": ["", ""], "estimated_new_compliance": number between 0 and 100}`)
	return b.String()
}
