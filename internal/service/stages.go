package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Youssef-Hatem/policylens/internal/domain"
)

func (p *Pipeline) buildStages() []Stage {
	return []Stage{
		{Name: domain.StageRuleMatch, Required: true, Execute: p.runRuleMatch},
		{Name: domain.StageLLMMatch, ShouldRun: p.shouldRunLLMMatch, Execute: p.runLLMMatch},
		{Name: domain.StageCompliance, Required: true, Execute: p.runCompliance},
		{Name: domain.StageRegenerate, ShouldRun: p.shouldRegenerate, Execute: p.runRegenerate},
		{Name: domain.StageFinalize, Required: true, Execute: p.runFinalize},
	}
}

// Stage 0: deterministic keyword scoring. A mismatch verdict ends the run
// here, consulting the degradation store first in case the same text was
// analyzed successfully before.
func (p *Pipeline) runRuleMatch(ctx context.Context, sc *StageContext) error {
	score := p.matcher.Score(sc.Request.PolicyType, sc.Request.PolicyText)
	sc.RuleScore = score
	sc.Match = score.PolicyMatch()

	slog.DebugContext(ctx, "rule_match_scored",
		"job_id", sc.Job.ID,
		"verdict", score.Verdict,
		"confidence", score.Confidence)

	if score.Verdict == VerdictMismatch {
		p.exitMismatch(ctx, sc)
	}
	return nil
}

// Stage 1 runs only when the rule score landed inside the uncertainty band.
func (p *Pipeline) shouldRunLLMMatch(sc *StageContext) bool {
	c := sc.RuleScore.Confidence
	return c > p.cfg.UncertaintyLow && c < p.cfg.UncertaintyHigh
}

// Stage 1: the model arbitrates an unsure rule verdict. This stage is
// optional; if the call fails the rule verdict stands.
func (p *Pipeline) runLLMMatch(ctx context.Context, sc *StageContext) error {
	match, err := p.analyzer.MatchPolicy(ctx, sc.Request)
	if err != nil {
		return err
	}
	sc.Match = match
	if !match.IsMatched {
		p.exitMismatch(ctx, sc)
	}
	return nil
}

// Stage 2: the full compliance audit.
func (p *Pipeline) runCompliance(ctx context.Context, sc *StageContext) error {
	report, err := p.analyzer.AnalyzeCompliance(ctx, sc.Request)
	if err != nil {
		return err
	}
	sc.Report = report
	return nil
}

// Stage 3 runs only when the audited ratio is below the regeneration
// threshold.
func (p *Pipeline) shouldRegenerate(sc *StageContext) bool {
	return sc.Report != nil && sc.Report.OverallComplianceRatio < p.cfg.RegenerationThreshold
}

// Stage 3: rewrite the policy. Optional; a failure ships the report without
// an improved draft.
func (p *Pipeline) runRegenerate(ctx context.Context, sc *StageContext) error {
	improved, err := p.analyzer.RegeneratePolicy(ctx, sc.Request, sc.Report)
	if err != nil {
		return err
	}
	sc.Improved = improved
	return nil
}

// Stage 4: assert the run produced what it must have produced, assemble the
// terminal response and persist the degradation copy.
func (p *Pipeline) runFinalize(ctx context.Context, sc *StageContext) error {
	if sc.Match == nil {
		return NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("finalize reached without a match verdict"))
	}
	if sc.Report == nil {
		return NewClassifiedError(domain.ErrorKindMissingData,
			fmt.Errorf("finalize reached without a compliance report"))
	}

	resp := &AnalysisResponse{
		Success:            true,
		PolicyMatch:        sc.Match,
		ComplianceReport:   sc.Report,
		ImprovedPolicy:     sc.Improved,
		ShopName:           sc.Request.ShopName,
		ShopSpecialization: sc.Request.ShopSpecialization,
		PolicyType:         sc.Request.PolicyType,
		AnalysisTimestamp:  p.now().UTC().Format(time.RFC3339),
		TaskID:             sc.Job.ID,
	}
	sc.ExitResult = resp
	sc.ShouldExit = true

	if p.degraded != nil {
		if err := p.degraded.Store(ctx, sc.Request.PolicyType, sc.Job.ContentHash, resp, p.degradationTTL); err != nil {
			// The fallback copy is best-effort; the analysis itself stands.
			slog.WarnContext(ctx, "degradation_store_failed",
				"job_id", sc.Job.ID,
				"error", err.Error())
		}
	}
	return nil
}

// exitMismatch terminates the run with a mismatch verdict. A cached
// degradation result for the same text overrides the verdict, since the text
// has evidently been analyzed as this policy type before.
func (p *Pipeline) exitMismatch(ctx context.Context, sc *StageContext) {
	if cached := p.findFallback(ctx, sc); cached != nil {
		cached.FromCache = true
		cached.TaskID = sc.Job.ID
		sc.ExitResult = cached
		sc.ShouldExit = true
		slog.InfoContext(ctx, "mismatch_overridden_by_cached_result",
			"job_id", sc.Job.ID)
		return
	}

	// A mismatch produced no compliance report, so the terminal is not a
	// successful analysis.
	sc.ExitResult = &AnalysisResponse{
		Success:            false,
		Message:            fmt.Sprintf("The submitted text does not appear to be a %s policy.", sc.Request.PolicyType),
		PolicyMatch:        sc.Match,
		ShopName:           sc.Request.ShopName,
		ShopSpecialization: sc.Request.ShopSpecialization,
		PolicyType:         sc.Request.PolicyType,
		AnalysisTimestamp:  p.now().UTC().Format(time.RFC3339),
		TaskID:             sc.Job.ID,
	}
	sc.ShouldExit = true
}
