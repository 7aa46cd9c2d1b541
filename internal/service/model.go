package service

import (
	"time"
)

// AnalysisRequest is the normalized input of one analysis.
type AnalysisRequest struct {
	ShopName           string `json:"shop_name"`
	ShopSpecialization string `json:"shop_specialization"`
	PolicyType         string `json:"policy_type"`
	PolicyText         string `json:"policy_text"`
}

// PolicyMatch is the verdict of the matching stages: does the submitted text
// actually belong to the declared policy type.
type PolicyMatch struct {
	IsMatched  bool    `json:"is_matched"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Method     string  `json:"method"`
}

type ComplianceIssue struct {
	Issue           string  `json:"issue"`
	ExactText       string  `json:"exact_text"`
	Severity        string  `json:"severity"`
	ComplianceRatio float64 `json:"compliance_ratio"`
	Suggestion      string  `json:"suggestion"`
	LegalReference  string  `json:"legal_reference"`
}

type ComplianceWeakness struct {
	Issue           string  `json:"issue"`
	ExactText       string  `json:"exact_text"`
	ComplianceRatio float64 `json:"compliance_ratio"`
	Suggestion      string  `json:"suggestion"`
	LegalReference  string  `json:"legal_reference"`
}

type ComplianceStrength struct {
	Requirement     string  `json:"requirement"`
	Status          string  `json:"status"`
	FoundText       string  `json:"found_text"`
	ComplianceRatio float64 `json:"compliance_ratio"`
}

type ComplianceAmbiguity struct {
	MissingStandard string `json:"missing_standard"`
	Description     string `json:"description"`
	Importance      string `json:"importance"`
	SuggestedText   string `json:"suggested_text"`
}

// ComplianceReport is the structured result of the compliance stage.
// OverallComplianceRatio is a percentage in [0, 100].
type ComplianceReport struct {
	OverallComplianceRatio float64               `json:"overall_compliance_ratio"`
	ComplianceGrade        string                `json:"compliance_grade"`
	Summary                string                `json:"summary"`
	CriticalIssues         []ComplianceIssue     `json:"critical_issues"`
	Weaknesses             []ComplianceWeakness  `json:"weaknesses"`
	Strengths              []ComplianceStrength  `json:"strengths"`
	Ambiguities            []ComplianceAmbiguity `json:"ambiguities"`
	Recommendations        []string              `json:"recommendations"`
}

type ImprovedPolicy struct {
	ImprovedPolicy         string   `json:"improved_policy"`
	ImprovementsMade       []string `json:"improvements_made"`
	EstimatedNewCompliance float64  `json:"estimated_new_compliance"`
}

// AnalysisResponse is the terminal result payload stored in the caches and
// returned over HTTP and SSE.
type AnalysisResponse struct {
	Success             bool              `json:"success"`
	Message             string            `json:"message,omitempty"`
	PolicyMatch         *PolicyMatch      `json:"policy_match,omitempty"`
	ComplianceReport    *ComplianceReport `json:"compliance_report,omitempty"`
	ImprovedPolicy      *ImprovedPolicy   `json:"improved_policy,omitempty"`
	ShopName            string            `json:"shop_name"`
	ShopSpecialization  string            `json:"shop_specialization"`
	PolicyType          string            `json:"policy_type"`
	AnalysisTimestamp   string            `json:"analysis_timestamp"`
	FromCache           bool              `json:"from_cache"`
	GracefulDegradation bool              `json:"graceful_degradation,omitempty"`
	FallbackReason      string            `json:"fallback_reason,omitempty"`
	TaskID              string            `json:"task_id,omitempty"`
}

// ErrorRecord is the terminal error payload of a failed job. Category is set
// only on validation rejections and names the failed check.
type ErrorRecord struct {
	Kind            string   `json:"kind"`
	Category        string   `json:"category,omitempty"`
	Message         string   `json:"message"`
	Details         string   `json:"details,omitempty"`
	UserAction      string   `json:"user_action,omitempty"`
	CompletedStages []string `json:"completed_stages,omitempty"`
	FailedStage     string   `json:"failed_stage,omitempty"`
}

// Progress reports pipeline position. Total is the full stage count; a stage
// whose guard declined still advances Current, with Skipped marking the
// frame.
type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
	Skipped  bool   `json:"skipped,omitempty"`
	ShopName string `json:"shop_name,omitempty"`
}

// Job is the supervisor's snapshot of one analysis task.
type Job struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	ContentHash    string            `json:"content_hash"`
	Status         string            `json:"status"`
	Request        AnalysisRequest   `json:"request"`
	Progress       *Progress         `json:"progress,omitempty"`
	Result         *AnalysisResponse `json:"result,omitempty"`
	Error          *ErrorRecord      `json:"error,omitempty"`
	Force          bool              `json:"force,omitempty"`
	Attempt        int               `json:"attempt"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TaskMessage is the broker envelope. The request body stays on the job
// snapshot; the queue only moves identifiers.
type TaskMessage struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Receipt is the raw broker payload of a dequeued message; Ack and
	// retry scheduling need the exact bytes to release the lease.
	Receipt string `json:"-"`
}

// StreamEvent is one frame on a job's event channel. Seq is monotonically
// increasing per job so subscribers can spot terminal duplicates on replay.
type StreamEvent struct {
	JobID    string            `json:"job_id"`
	Seq      int64             `json:"seq"`
	Kind     string            `json:"kind"`
	Progress *Progress         `json:"progress,omitempty"`
	Result   *AnalysisResponse `json:"result,omitempty"`
	Error    *ErrorRecord      `json:"error,omitempty"`
}

// PeriodUsage is consumption against one quota period.
type PeriodUsage struct {
	Tokens       int64   `json:"tokens"`
	TokenLimit   int64   `json:"token_limit"`
	Requests     int64   `json:"requests"`
	RequestLimit int64   `json:"request_limit"`
	TokenPct     float64 `json:"token_pct"`
	RequestPct   float64 `json:"request_pct"`
}

// QuotaSnapshot is the usage report for one provider.
type QuotaSnapshot struct {
	Provider string      `json:"provider"`
	Daily    PeriodUsage `json:"daily"`
	Hourly   PeriodUsage `json:"hourly"`
}

// ProviderHealth is the registry's view of one provider.
type ProviderHealth struct {
	Name             string     `json:"name"`
	Healthy          bool       `json:"healthy"`
	Blacklisted      bool       `json:"blacklisted"`
	BlacklistedUntil *time.Time `json:"blacklisted_until,omitempty"`
	Successes        int64      `json:"successes"`
	Failures         int64      `json:"failures"`
	SuccessRate      float64    `json:"success_rate"`
	FailoverCount    int64      `json:"failover_count"`
	LastErrorKind    string     `json:"last_error_kind,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// CacheStats summarizes the idempotency cache for the health payload.
type CacheStats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}
