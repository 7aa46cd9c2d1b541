package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/pkg/llm"
)

// ClassifiedError tags a failure with its kind so downstream decisions
// (failover, redelivery, user messaging) stop re-parsing error strings.
type ClassifiedError struct {
	Kind string
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError wraps err under an explicit kind.
func NewClassifiedError(kind string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Ordered pattern table. Earlier entries win, so the more specific quota and
// timeout vocabularies are checked before the generic server bucket.
var kindPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{domain.ErrorKindQuotaExceeded, regexp.MustCompile(`(?i)(quota|rate.?limit|too many requests|resource.?exhausted|insufficient.?quota|billing|\b429\b)`)},
	{domain.ErrorKindTimeout, regexp.MustCompile(`(?i)(timeout|timed.?out|deadline.?exceeded|\b504\b)`)},
	{domain.ErrorKindAuthentication, regexp.MustCompile(`(?i)(api.?key|authentication|unauthorized|permission.?denied|forbidden|invalid.?key|\b401\b|\b403\b)`)},
	{domain.ErrorKindServerError, regexp.MustCompile(`(?i)(internal.?server.?error|bad.?gateway|service.?unavailable|server.?overloaded|\b500\b|\b502\b|\b503\b)`)},
	{domain.ErrorKindNetwork, regexp.MustCompile(`(?i)(connection|network|dns|unreachable|broken.?pipe|reset by peer|\beof\b)`)},
	{domain.ErrorKindMissingData, regexp.MustCompile(`(?i)(missing|malformed|invalid.?json|unexpected.?response|parse|empty.?response)`)},
}

// ClassifyError maps any failure to one error kind. Typed errors are trusted
// first; string matching is the fallback for opaque transport errors.
func ClassifyError(err error) string {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return domain.ErrorKindValidation
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}

	var he *llm.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == 429:
			return domain.ErrorKindQuotaExceeded
		case he.Status == 401 || he.Status == 403:
			return domain.ErrorKindAuthentication
		case he.Status == 408 || he.Status == 504:
			return domain.ErrorKindTimeout
		case he.Status >= 500:
			return domain.ErrorKindServerError
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return domain.ErrorKindTimeout
		}
		return domain.ErrorKindNetwork
	}

	msg := err.Error()
	for _, entry := range kindPatterns {
		if entry.re.MatchString(msg) {
			return entry.kind
		}
	}
	return domain.ErrorKindUnknown
}

type kindProfile struct {
	message    string
	userAction string
	// retryable marks kinds worth a broker redelivery of the whole job.
	retryable bool
	// failover marks kinds worth trying a different provider in-call.
	failover bool
}

var kindProfiles = map[string]kindProfile{
	domain.ErrorKindValidation: {
		message:    "The request did not pass input validation.",
		userAction: "Correct the highlighted fields and resubmit.",
	},
	domain.ErrorKindQuotaExceeded: {
		message:    "The analysis provider's usage quota is exhausted.",
		userAction: "Try again in about an hour, when the quota window resets.",
		failover:   true,
	},
	domain.ErrorKindTimeout: {
		message:    "The analysis took too long and was stopped.",
		userAction: "Try again; shorter policies analyze faster.",
		retryable:  true,
		failover:   true,
	},
	domain.ErrorKindAuthentication: {
		message:    "The analysis provider rejected our credentials.",
		userAction: "No action needed on your side; the operators have been notified.",
		failover:   true,
	},
	domain.ErrorKindServerError: {
		message:    "The analysis provider is having trouble right now.",
		userAction: "Try again in a few minutes.",
		retryable:  true,
		failover:   true,
	},
	domain.ErrorKindNetwork: {
		message:    "We could not reach the analysis provider.",
		userAction: "Try again in a few minutes.",
		retryable:  true,
		failover:   true,
	},
	domain.ErrorKindMissingData: {
		message:    "The analysis produced an incomplete result.",
		userAction: "Try again; if the problem persists, contact support.",
		failover:   true,
	},
	domain.ErrorKindCancelled: {
		message:    "The analysis was cancelled.",
		userAction: "Submit the policy again if you still need the analysis.",
	},
	domain.ErrorKindUnknown: {
		message:    "An unexpected error interrupted the analysis.",
		userAction: "Try again; if the problem persists, contact support.",
		failover:   true,
	},
}

func profileFor(kind string) kindProfile {
	if p, ok := kindProfiles[kind]; ok {
		return p
	}
	return kindProfiles[domain.ErrorKindUnknown]
}

// Retryable reports whether a job failing with kind should be redelivered.
func Retryable(kind string) bool { return profileFor(kind).retryable }

// FailoverWorthy reports whether another provider should be attempted within
// the same call.
func FailoverWorthy(kind string) bool { return profileFor(kind).failover }

// ErrorRecordFor builds the user-facing terminal error payload.
func ErrorRecordFor(kind string, err error, completed []string, failedStage string) *ErrorRecord {
	p := profileFor(kind)
	rec := &ErrorRecord{
		Kind:            kind,
		Message:         p.message,
		UserAction:      p.userAction,
		CompletedStages: completed,
		FailedStage:     failedStage,
	}
	if err != nil {
		rec.Details = err.Error()
	}
	return rec
}
