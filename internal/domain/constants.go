// Package domain defines the shared enums and constants of the analysis
// engine. Values are the wire representations used in Redis, SSE payloads and
// HTTP responses; do not rename without a migration.
package domain

// Canonical policy types.
const (
	PolicyTypeReturns  = "returns"
	PolicyTypePrivacy  = "privacy"
	PolicyTypeShipping = "shipping"
)

// PolicyTypes lists the accepted policy types in canonical order.
func PolicyTypes() []string {
	return []string{PolicyTypeReturns, PolicyTypePrivacy, PolicyTypeShipping}
}

// ValidPolicyType reports whether t is a recognized policy type.
func ValidPolicyType(t string) bool {
	switch t {
	case PolicyTypeReturns, PolicyTypePrivacy, PolicyTypeShipping:
		return true
	}
	return false
}

// Job lifecycle statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalJobStatus reports whether status admits no further transitions.
func TerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// LLM provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Error kinds assigned by the classifier. Kinds drive failover, retry and
// user-facing messaging, so every failure path must map into this set.
const (
	ErrorKindValidation     = "validation"
	ErrorKindQuotaExceeded  = "quota_exceeded"
	ErrorKindTimeout        = "timeout"
	ErrorKindAuthentication = "authentication"
	ErrorKindServerError    = "server_error"
	ErrorKindNetwork        = "network"
	ErrorKindMissingData    = "missing_data"
	ErrorKindCancelled      = "cancelled"
	ErrorKindUnknown        = "unknown"
)

// Stream event kinds emitted on the per-job channel.
const (
	EventKindProgress  = "progress"
	EventKindCompleted = "completed"
	EventKindFailed    = "failed"
)

// Pipeline stage names, in execution order.
const (
	StageRuleMatch  = "rule_match"
	StageLLMMatch   = "llm_match"
	StageCompliance = "compliance"
	StageRegenerate = "regenerate"
	StageFinalize   = "finalize"
)

// Stage outcome statuses recorded on the stage context.
const (
	StageOutcomeCompleted = "completed"
	StageOutcomeSkipped   = "skipped"
	StageOutcomeFailed    = "failed"
)

// Validation rejection categories.
const (
	ValidationLengthError           = "length_error"
	ValidationSuspiciousContent     = "suspicious_content"
	ValidationBlockedContent        = "blocked_content"
	ValidationSpamDetected          = "spam_detected"
	ValidationInvalidShopName       = "invalid_shop_name"
	ValidationInvalidSpecialization = "invalid_specialization"
)

// Compliance issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// ValidSeverity reports whether s is a recognized severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Compliance grades, best to worst.
const (
	GradeExcellent    = "excellent"
	GradeVeryGood     = "very_good"
	GradeGood         = "good"
	GradeAcceptable   = "acceptable"
	GradeWeak         = "weak"
	GradeNonCompliant = "non_compliant"
)

// ValidGrade reports whether g is a recognized compliance grade.
func ValidGrade(g string) bool {
	switch g {
	case GradeExcellent, GradeVeryGood, GradeGood, GradeAcceptable, GradeWeak, GradeNonCompliant:
		return true
	}
	return false
}

// Quota accounting periods.
const (
	QuotaPeriodDaily  = "daily"
	QuotaPeriodHourly = "hourly"
)

// Match methods reported on PolicyMatch results.
const (
	MatchMethodRuleBased = "rule_based"
	MatchMethodLLM       = "llm"
	MatchMethodFallback  = "fallback"
)
