package service

import (
	"fmt"
	"strings"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// Component weights of the rule score. They sum to 1.0 before the forbidden
// penalty is applied.
const (
	weightRequired = 0.35
	weightStrong   = 0.25
	weightModerate = 0.15
	weightLength   = 0.10
	weightSections = 0.15

	// forbiddenPenalty scales the score by (1 - penalty * hitRatio) when
	// vocabulary of a different document type shows up.
	forbiddenPenalty = 0.5
)

// Decision bands on the final confidence.
const (
	confidentMatchBand    = 0.85
	matchBand             = 0.70
	mismatchBand          = 0.30
	confidentMismatchBand = 0.20
)

// Match verdicts.
const (
	VerdictMatch    = "match"
	VerdictMismatch = "mismatch"
	VerdictUnsure   = "unsure"
)

type policyRule struct {
	required  []string
	strong    []string
	moderate  []string
	sections  []string
	forbidden []string
	// minLength is the character count granting full length credit.
	minLength int
}

// MatchScore is the rule matcher's verdict with its score breakdown.
type MatchScore struct {
	Confidence float64
	Verdict    string
	IsMatched  bool
	Confident  bool
	Reason     string
	Components map[string]float64
}

// RuleMatcher scores how well a text fits its declared policy type using
// weighted keyword evidence. It is deterministic and costs no provider quota.
type RuleMatcher struct {
	rules map[string]policyRule
}

func NewRuleMatcher() *RuleMatcher {
	return &RuleMatcher{rules: map[string]policyRule{
		domain.PolicyTypeReturns: {
			required:  []string{"return", "refund"},
			strong:    []string{"exchange", "days", "original condition", "receipt"},
			moderate:  []string{"store credit", "restocking", "defective", "warranty"},
			sections:  []string{"eligibility", "how to return", "refund process", "exchanges"},
			forbidden: []string{"personal information", "cookies", "data protection", "carrier", "delivery time"},
			minLength: 300,
		},
		domain.PolicyTypePrivacy: {
			required:  []string{"privacy", "personal"},
			strong:    []string{"collect", "third parties", "cookies", "consent"},
			moderate:  []string{"gdpr", "data protection", "retention", "opt-out"},
			sections:  []string{"information we collect", "how we use", "your rights", "data security"},
			forbidden: []string{"refund", "restocking", "return window", "shipping cost"},
			minLength: 400,
		},
		domain.PolicyTypeShipping: {
			required:  []string{"shipping", "delivery"},
			strong:    []string{"carrier", "business days", "tracking", "shipping cost"},
			moderate:  []string{"international", "customs", "handling time", "free shipping"},
			sections:  []string{"shipping methods", "delivery times", "shipping rates", "order processing"},
			forbidden: []string{"personal information", "cookies", "refund", "consent"},
			minLength: 250,
		},
	}}
}

// Score evaluates text against the keyword profile of policyType.
func (m *RuleMatcher) Score(policyType, text string) MatchScore {
	rule, ok := m.rules[policyType]
	if !ok {
		return MatchScore{
			Verdict: VerdictUnsure,
			Reason:  fmt.Sprintf("no rule profile for policy type %q", policyType),
		}
	}

	lower := strings.ToLower(text)
	components := map[string]float64{
		"required": hitRatio(lower, rule.required) * weightRequired,
		"strong":   hitRatio(lower, rule.strong) * weightStrong,
		"moderate": hitRatio(lower, rule.moderate) * weightModerate,
		"length":   lengthCredit(lower, rule.minLength) * weightLength,
		"sections": hitRatio(lower, rule.sections) * weightSections,
	}

	confidence := 0.0
	for _, c := range components {
		confidence += c
	}

	forbiddenRatio := hitRatio(lower, rule.forbidden)
	if forbiddenRatio > 0 {
		confidence *= 1 - forbiddenPenalty*forbiddenRatio
		components["forbidden_ratio"] = forbiddenRatio
	}

	score := MatchScore{
		Confidence: confidence,
		Components: components,
	}
	switch {
	case confidence >= matchBand:
		score.Verdict = VerdictMatch
		score.IsMatched = true
		score.Confident = confidence >= confidentMatchBand
		score.Reason = fmt.Sprintf("text matches the %s profile (confidence %.2f)", policyType, confidence)
	case confidence <= mismatchBand:
		score.Verdict = VerdictMismatch
		score.Confident = confidence <= confidentMismatchBand
		score.Reason = fmt.Sprintf("text does not look like a %s policy (confidence %.2f)", policyType, confidence)
	default:
		score.Verdict = VerdictUnsure
		score.Reason = fmt.Sprintf("inconclusive rule evidence for %s (confidence %.2f)", policyType, confidence)
	}
	return score
}

// PolicyMatch converts a rule score to the result shape stored on reports.
func (s MatchScore) PolicyMatch() *PolicyMatch {
	return &PolicyMatch{
		IsMatched:  s.IsMatched,
		Confidence: s.Confidence * 100,
		Reason:     s.Reason,
		Method:     domain.MatchMethodRuleBased,
	}
}

func hitRatio(lower string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func lengthCredit(text string, minLength int) float64 {
	if minLength <= 0 {
		return 1
	}
	if n := len(text); n < minLength {
		return float64(n) / float64(minLength)
	}
	return 1
}
