package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// fallbackLookupTimeout bounds the degradation lookup once the run context
// is already past its deadline.
const fallbackLookupTimeout = 5 * time.Second

// ProgressFunc receives progress updates as the pipeline advances.
type ProgressFunc func(ctx context.Context, p Progress)

// StageContext is the mutable state threaded through the stages of one run.
type StageContext struct {
	Job     *Job
	Request AnalysisRequest

	RuleScore MatchScore
	Match     *PolicyMatch
	Report    *ComplianceReport
	Improved  *ImprovedPolicy

	// ShouldExit short-circuits the remaining stages with ExitResult as the
	// terminal payload.
	ShouldExit bool
	ExitResult *AnalysisResponse

	CompletedStages []string
	SkippedStages   []string
	FailedStages    []string
}

// Stage is one unit of pipeline work. Optional stages (Required false) have
// their failures absorbed; a nil ShouldRun means the stage always runs.
type Stage struct {
	Name      string
	Required  bool
	ShouldRun func(*StageContext) bool
	Execute   func(context.Context, *StageContext) error
}

// Pipeline executes the five analysis stages for one job. A required stage
// failure consults the degradation store before surfacing the error.
type Pipeline struct {
	matcher        *RuleMatcher
	analyzer       *Analyzer
	degraded       DegradationCache
	cfg            config.PipelineConfig
	degradationTTL time.Duration
	stages         []Stage
	now            func() time.Time
}

func NewPipeline(matcher *RuleMatcher, analyzer *Analyzer, degraded DegradationCache, cfg config.PipelineConfig, degradationTTL time.Duration) *Pipeline {
	p := &Pipeline{
		matcher:        matcher,
		analyzer:       analyzer,
		degraded:       degraded,
		cfg:            cfg,
		degradationTTL: degradationTTL,
		now:            time.Now,
	}
	p.stages = p.buildStages()
	return p
}

// Run executes the stages in order and returns the terminal response.
// Progress totals stay fixed at the stage count; a stage whose guard
// declines still emits a skip-marked frame and advances one step. Errors
// returned here are terminal for this attempt; the worker decides on
// redelivery. Caller cancellation is returned unwrapped, but an expired run
// deadline classifies as a timeout and still consults the fallback store.
func (p *Pipeline) Run(ctx context.Context, job *Job, emit ProgressFunc) (*AnalysisResponse, error) {
	sc := &StageContext{Job: job, Request: job.Request}
	total := len(p.stages)
	step := 0

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// The hard deadline expired between stages.
			return p.failStage(ctx, sc, stage.Name, domain.ErrorKindTimeout, err)
		}

		step++
		if stage.ShouldRun != nil && !stage.ShouldRun(sc) {
			sc.SkippedStages = append(sc.SkippedStages, stage.Name)
			slog.DebugContext(ctx, "stage_skipped",
				"job_id", job.ID,
				"stage", stage.Name)
			if emit != nil {
				emit(ctx, Progress{
					Current:  step,
					Total:    total,
					Status:   stage.Name,
					Skipped:  true,
					ShopName: sc.Request.ShopName,
				})
			}
			continue
		}

		if emit != nil {
			emit(ctx, Progress{
				Current:  step,
				Total:    total,
				Status:   stage.Name,
				ShopName: sc.Request.ShopName,
			})
		}

		err := stage.Execute(ctx, sc)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			kind := ClassifyError(err)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return p.failStage(ctx, sc, stage.Name, domain.ErrorKindTimeout, err)
			}

			if !stage.Required {
				// Optional stage failures degrade the result, not the job.
				sc.FailedStages = append(sc.FailedStages, stage.Name)
				slog.WarnContext(ctx, "stage_failure_absorbed",
					"job_id", job.ID,
					"stage", stage.Name,
					"kind", kind,
					"error", err.Error())
				continue
			}

			return p.failStage(ctx, sc, stage.Name, kind, err)
		}

		sc.CompletedStages = append(sc.CompletedStages, stage.Name)
		if sc.ShouldExit {
			break
		}
	}

	if emit != nil {
		emit(ctx, Progress{
			Current:  total,
			Total:    total,
			Status:   domain.JobStatusCompleted,
			ShopName: sc.Request.ShopName,
		})
	}
	return sc.ExitResult, nil
}

// failStage ends the run with a required-stage failure: a degradation copy
// of the same text is served when one exists, otherwise the classified stage
// error surfaces.
func (p *Pipeline) failStage(ctx context.Context, sc *StageContext, stageName, kind string, err error) (*AnalysisResponse, error) {
	if fallback := p.findFallback(ctx, sc); fallback != nil {
		fallback.GracefulDegradation = true
		fallback.FallbackReason = profileFor(kind).message
		fallback.TaskID = sc.Job.ID
		slog.InfoContext(ctx, "degradation_fallback_served",
			"job_id", sc.Job.ID,
			"stage", stageName,
			"kind", kind)
		return fallback, nil
	}
	return nil, &StageError{stage: stageName, kind: kind, completed: sc.CompletedStages, err: err}
}

func (p *Pipeline) findFallback(ctx context.Context, sc *StageContext) *AnalysisResponse {
	if p.degraded == nil {
		return nil
	}
	if ctx.Err() != nil {
		// The run deadline is gone but the lookup should still happen; give
		// it its own short budget.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), fallbackLookupTimeout)
		defer cancel()
	}
	fallback, err := p.degraded.Find(ctx, sc.Request.PolicyType, sc.Job.ContentHash)
	if err != nil {
		slog.WarnContext(ctx, "degradation_lookup_failed",
			"job_id", sc.Job.ID,
			"error", err.Error())
		return nil
	}
	return fallback
}

// StageError carries the failing stage and the run's completed-stage trail
// so the worker can build the terminal error record.
type StageError struct {
	stage     string
	kind      string
	completed []string
	err       error
}

func (e *StageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *StageError) Unwrap() error { return e.err }

func (e *StageError) Stage() string             { return e.stage }
func (e *StageError) Kind() string              { return e.kind }
func (e *StageError) CompletedStages() []string { return e.completed }
