package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/pkg/prompt"
)

// Analyzer runs the three model operations and turns raw completions into
// validated result structures. A well-formed transport response with a
// malformed body classifies as missing_data, not as a provider failure.
type Analyzer struct {
	manager *ProviderManager
}

func NewAnalyzer(manager *ProviderManager) *Analyzer {
	return &Analyzer{manager: manager}
}

// MatchPolicy asks the model whether the text belongs to the declared type.
func (a *Analyzer) MatchPolicy(ctx context.Context, req AnalysisRequest) (*PolicyMatch, error) {
	text, _, err := a.manager.Call(ctx,
		prompt.Match(req.ShopName, req.ShopSpecialization, req.PolicyType, req.PolicyText),
		EstimateMatchTokens)
	if err != nil {
		return nil, err
	}

	doc, err := parseObject(text)
	if err != nil {
		return nil, err
	}
	matched := doc.Get("is_matched")
	if !matched.Exists() {
		return nil, NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("match response lacks is_matched"))
	}
	return &PolicyMatch{
		IsMatched:  matched.Bool(),
		Confidence: clamp(doc.Get("confidence").Float(), 0, 100),
		Reason:     doc.Get("reason").String(),
		Method:     domain.MatchMethodLLM,
	}, nil
}

// AnalyzeCompliance produces the structured compliance report.
func (a *Analyzer) AnalyzeCompliance(ctx context.Context, req AnalysisRequest) (*ComplianceReport, error) {
	text, _, err := a.manager.Call(ctx,
		prompt.Compliance(req.ShopName, req.ShopSpecialization, req.PolicyType, req.PolicyText),
		EstimateComplianceTokens)
	if err != nil {
		return nil, err
	}

	body := stripFences(text)
	var report ComplianceReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("compliance response is not valid JSON: %w", err))
	}
	if err := ValidateComplianceReport(&report); err != nil {
		return nil, NewClassifiedError(domain.ErrorKindMissingData, err)
	}
	return &report, nil
}

// RegeneratePolicy rewrites the policy guided by the report's findings.
func (a *Analyzer) RegeneratePolicy(ctx context.Context, req AnalysisRequest, report *ComplianceReport) (*ImprovedPolicy, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	text, _, err := a.manager.Call(ctx,
		prompt.Regenerate(req.ShopName, req.ShopSpecialization, req.PolicyType, req.PolicyText, string(reportJSON)),
		EstimateRegenerateTokens)
	if err != nil {
		return nil, err
	}

	doc, err := parseObject(text)
	if err != nil {
		return nil, err
	}
	improved := strings.TrimSpace(doc.Get("improved_policy").String())
	if improved == "" {
		return nil, NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("regenerate response lacks improved_policy"))
	}
	result := &ImprovedPolicy{
		ImprovedPolicy:         improved,
		EstimatedNewCompliance: clamp(doc.Get("estimated_new_compliance").Float(), 0, 100),
	}
	for _, item := range doc.Get("improvements_made").Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			result.ImprovementsMade = append(result.ImprovementsMade, s)
		}
	}
	return result, nil
}

// ValidateComplianceReport enforces the structural contract of a report
// before it may enter the caches. Unknown severities are coerced rather than
// rejected; out-of-range ratios and unknown grades are hard failures.
func ValidateComplianceReport(r *ComplianceReport) error {
	if r.OverallComplianceRatio < 0 || r.OverallComplianceRatio > 100 {
		return fmt.Errorf("overall_compliance_ratio %v outside [0, 100]", r.OverallComplianceRatio)
	}
	r.ComplianceGrade = normalizeGrade(r.ComplianceGrade)
	if !domain.ValidGrade(r.ComplianceGrade) {
		return fmt.Errorf("unknown compliance_grade %q", r.ComplianceGrade)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("report summary is empty")
	}
	for i := range r.CriticalIssues {
		sev := strings.ToLower(strings.TrimSpace(r.CriticalIssues[i].Severity))
		if !domain.ValidSeverity(sev) {
			sev = domain.SeverityMedium
		}
		r.CriticalIssues[i].Severity = sev
	}
	if r.CriticalIssues == nil {
		r.CriticalIssues = []ComplianceIssue{}
	}
	if r.Weaknesses == nil {
		r.Weaknesses = []ComplianceWeakness{}
	}
	if r.Strengths == nil {
		r.Strengths = []ComplianceStrength{}
	}
	if r.Ambiguities == nil {
		r.Ambiguities = []ComplianceAmbiguity{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	return nil
}

func parseObject(text string) (gjson.Result, error) {
	body := stripFences(text)
	if !gjson.Valid(body) {
		return gjson.Result{}, NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("model response is not valid JSON"))
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return gjson.Result{}, NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("model response is not a JSON object"))
	}
	return doc, nil
}

// stripFences tolerates models that wrap JSON in a markdown code fence
// despite the JSON response directive.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func normalizeGrade(grade string) string {
	g := strings.ToLower(strings.TrimSpace(grade))
	return strings.ReplaceAll(g, " ", "_")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
