package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// Input size limits, in characters.
const (
	minPolicyChars = 50
	maxPolicyChars = 50_000
	minFieldChars  = 2
	maxFieldChars  = 100
)

// ValidationError is a pre-pipeline rejection. It never reaches the broker
// and never consumes provider quota.
type ValidationError struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Category, e.Message)
}

var (
	shopNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}\s\-'&.,]*$`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script\b`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`),
		regexp.MustCompile(`(?i)\b(union\s+select|drop\s+table|insert\s+into|delete\s+from)\b`),
		regexp.MustCompile(`(?i)(ignore\s+(all\s+)?previous\s+instructions|disregard\s+(all\s+)?prior\s+instructions|you\s+are\s+now\s+a|system\s*prompt\s*:)`),
	}

	blockedKeywords = []string{
		"counterfeit goods",
		"stolen merchandise",
		"money laundering",
		"illegal substances",
	}
)

// Validator screens inbound requests before any job is created.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil when the request may enter the pipeline. The first
// failed check wins; categories are stable identifiers for clients.
func (v *Validator) Validate(req *AnalysisRequest) *ValidationError {
	if ve := v.checkShopName(req.ShopName); ve != nil {
		return ve
	}
	if ve := v.checkSpecialization(req.ShopSpecialization); ve != nil {
		return ve
	}
	if !domain.ValidPolicyType(req.PolicyType) {
		return &ValidationError{
			Category:   domain.ValidationLengthError,
			Message:    fmt.Sprintf("unknown policy type %q", req.PolicyType),
			Details:    fmt.Sprintf("supported types: %s", strings.Join(domain.PolicyTypes(), ", ")),
			UserAction: "Choose one of the supported policy types.",
		}
	}
	if ve := v.checkPolicyText(req.PolicyText); ve != nil {
		return ve
	}
	return nil
}

func (v *Validator) checkShopName(name string) *ValidationError {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minFieldChars || n > maxFieldChars {
		return &ValidationError{
			Category:   domain.ValidationInvalidShopName,
			Message:    fmt.Sprintf("shop name must be between %d and %d characters", minFieldChars, maxFieldChars),
			UserAction: "Provide the store's display name.",
		}
	}
	if !shopNamePattern.MatchString(name) {
		return &ValidationError{
			Category:   domain.ValidationInvalidShopName,
			Message:    "shop name contains unsupported characters",
			UserAction: "Remove special symbols from the shop name.",
		}
	}
	return nil
}

func (v *Validator) checkSpecialization(spec string) *ValidationError {
	spec = strings.TrimSpace(spec)
	n := utf8.RuneCountInString(spec)
	if n < minFieldChars || n > maxFieldChars {
		return &ValidationError{
			Category:   domain.ValidationInvalidSpecialization,
			Message:    fmt.Sprintf("shop specialization must be between %d and %d characters", minFieldChars, maxFieldChars),
			UserAction: "Describe what the store sells, briefly.",
		}
	}
	return nil
}

func (v *Validator) checkPolicyText(text string) *ValidationError {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	if n < minPolicyChars || n > maxPolicyChars {
		return &ValidationError{
			Category:   domain.ValidationLengthError,
			Message:    fmt.Sprintf("policy text must be between %d and %d characters, got %d", minPolicyChars, maxPolicyChars, n),
			UserAction: "Submit the full policy text.",
		}
	}

	for _, p := range suspiciousPatterns {
		if loc := p.FindStringIndex(trimmed); loc != nil {
			return &ValidationError{
				Category:   domain.ValidationSuspiciousContent,
				Message:    "policy text contains markup or instruction-like content",
				Details:    snippetAround(trimmed, loc[0]),
				UserAction: "Remove scripts, markup and instruction phrases from the policy text.",
			}
		}
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range blockedKeywords {
		if strings.Contains(lower, kw) {
			return &ValidationError{
				Category:   domain.ValidationBlockedContent,
				Message:    "policy text references prohibited goods or activities",
				UserAction: "Remove references to prohibited goods or activities.",
			}
		}
	}

	if ve := checkSpam(trimmed); ve != nil {
		return ve
	}
	return nil
}

// Word-repetition limits. A word repeated more than maxWordRepeats times that
// also makes up more than maxWordFrequency of the text is spam; short filler
// words are exempt.
const (
	maxWordRepeats    = 10
	minSpamWordLength = 4
	maxWordFrequency  = 0.30
)

// checkSpam rejects degenerate inputs: long single-character runs and texts
// dominated by one repeated word.
func checkSpam(text string) *ValidationError {
	const maxRun = 20
	run := 0
	var prev rune = -1
	for _, r := range text {
		if r == prev {
			run++
			if run >= maxRun {
				return &ValidationError{
					Category:   domain.ValidationSpamDetected,
					Message:    "policy text contains long repeated character runs",
					UserAction: "Submit genuine policy text.",
				}
			}
		} else {
			prev = r
			run = 1
		}
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return nil
	}
	counts := make(map[string]int, len(words))
	topWord, topCount := "", 0
	for _, w := range words {
		counts[w]++
		if counts[w] > topCount {
			topWord, topCount = w, counts[w]
		}
	}
	if topCount > maxWordRepeats && utf8.RuneCountInString(topWord) >= minSpamWordLength {
		if ratio := float64(topCount) / float64(len(words)); ratio > maxWordFrequency {
			return &ValidationError{
				Category:   domain.ValidationSpamDetected,
				Message:    fmt.Sprintf("policy text repeats the word %q excessively", topWord),
				UserAction: "Submit genuine policy text.",
			}
		}
	}
	return nil
}

func snippetAround(text string, pos int) string {
	start := pos - 20
	if start < 0 {
		start = 0
	}
	end := pos + 40
	if end > len(text) {
		end = len(text)
	}
	return strings.ToValidUTF8(text[start:end], "")
}
