package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/result"
)

// CheckFunc is a predicate over a request. It returns false to reject the
// request. A non-nil error means the check itself could not be evaluated.
//
// Checks must not mutate state. They may read through a gateway or cache.
type CheckFunc[R any] func(ctx context.Context, req R) (bool, error)

// Stage is a single named validation step.
type Stage[R any] struct {
	// Order determines evaluation order, ascending. Orders must be unique.
	Order int

	// Name identifies the stage and is reported in VALIDATION_FAILED(name).
	Name string

	// Check is the predicate. Required.
	Check CheckFunc[R]

	// Message is the human-readable message returned when Check rejects.
	Message string

	// Kind overrides the failure kind. Zero means VALIDATION_FAILED(Name);
	// KindNotFound or KindDuplicate report those kinds instead.
	Kind result.Kind
}

func (s Stage[R]) failure() result.ErrorKind {
	switch s.Kind {
	case "", result.KindValidationFailed:
		return result.ValidationFailed(s.Name)
	default:
		return result.ErrorKind{Kind: s.Kind}
	}
}

// Outcome of a single stage evaluation.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeError Outcome = "error"
)

// StageResult represents the result of a single stage execution.
type StageResult struct {
	StageName string
	Outcome   Outcome
	Error     error
	Duration  time.Duration
}

// Verdict is the result of Evaluate. Continue is true when every stage
// passed; otherwise Failure and Message describe the first failing stage.
type Verdict struct {
	Continue     bool
	Failure      *result.ErrorKind
	Message      string
	Stage        string
	StageResults []StageResult
}

// Err returns the verdict failure as a *result.Error, or nil on Continue.
func (v Verdict) Err() error {
	if v.Continue {
		return nil
	}
	return result.NewError(*v.Failure, v.Message, nil)
}

// Envelope converts a failing verdict into a failure envelope.
func Envelope[T any](v Verdict) result.Envelope[T] {
	if v.Continue {
		return result.Fail[T](result.Internal(), "validation passed; no envelope to build")
	}
	return result.Fail[T](*v.Failure, v.Message)
}

// Stats holds pipeline execution statistics.
type Stats struct {
	TotalEvaluations int64
	Passed           int64
	Rejected         int64
	StageStats       map[string]StageStats
	LastEvaluationAt time.Time
}

// StageStats holds statistics for individual stages.
type StageStats struct {
	Name            string
	ExecutionCount  int64
	PassCount       int64
	FailCount       int64
	ErrorCount      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Config holds pipeline configuration options.
type Config struct {
	// Name labels metrics and logs.
	Name string

	// OnStageComplete is called after each evaluated stage.
	OnStageComplete func(result StageResult)

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Pipeline is an ordered, short-circuiting chain of stages. It is immutable
// after construction and safe for concurrent use.
type Pipeline[R any] struct {
	stages []Stage[R]
	config Config
	log    logging.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a pipeline. Stages are sorted by Order. Construction fails on an
// empty or duplicate name, a duplicate order or a nil check.
func New[R any](config Config, stages ...Stage[R]) (*Pipeline[R], error) {
	sorted := make([]Stage[R], len(stages))
	copy(sorted, stages)

	orders := make(map[int]string, len(sorted))
	names := make(map[string]struct{}, len(sorted))
	for _, s := range sorted {
		if s.Name == "" {
			return nil, sferrors.NewValidationError("pipeline", "name", s.Name, "cannot be empty").
				WithHint(fmt.Sprintf("stage with order %d needs a name", s.Order))
		}
		if s.Check == nil {
			return nil, sferrors.NewValidationError("pipeline", "check", s.Name, "cannot be nil")
		}
		if other, dup := orders[s.Order]; dup {
			return nil, sferrors.NewValidationError("pipeline", "order", s.Order, "duplicate stage order").
				WithHint(fmt.Sprintf("stages %q and %q share it; give every stage a distinct order", other, s.Name))
		}
		if _, dup := names[s.Name]; dup {
			return nil, sferrors.NewValidationError("pipeline", "name", s.Name, "duplicate stage name")
		}
		orders[s.Order] = s.Name
		names[s.Name] = struct{}{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	p := &Pipeline[R]{
		stages: sorted,
		config: config,
		log:    logging.OrNop(config.Logger),
		stats:  Stats{StageStats: make(map[string]StageStats, len(sorted))},
	}
	for _, s := range sorted {
		p.stats.StageStats[s.Name] = StageStats{Name: s.Name}
	}
	return p, nil
}

// Evaluate runs the stages in ascending order and stops at the first one that
// rejects or fails. Later stages never run.
//
// A check that returns an unclassified error or panics yields INTERNAL. A
// check returning a *result.Error keeps its kind, so a data lookup that hit
// an unavailable upstream reports UPSTREAM_UNAVAILABLE.
func (p *Pipeline[R]) Evaluate(ctx context.Context, req R) Verdict {
	verdict := Verdict{StageResults: make([]StageResult, 0, len(p.stages))}

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			kind, msg := result.Classify(err)
			verdict.Failure, verdict.Message, verdict.Stage = &kind, msg, stage.Name
			p.finish(verdict)
			return verdict
		}

		sr := p.executeStage(ctx, stage, req)
		verdict.StageResults = append(verdict.StageResults, sr)

		switch sr.Outcome {
		case OutcomePass:
			continue
		case OutcomeFail:
			kind := stage.failure()
			verdict.Failure, verdict.Message, verdict.Stage = &kind, stage.Message, stage.Name
			if verdict.Message == "" {
				verdict.Message = result.DefaultMessage(kind)
			}
		case OutcomeError:
			kind, msg := classifyStageError(sr.Error)
			verdict.Failure, verdict.Message, verdict.Stage = &kind, msg, stage.Name
			p.log.Error("validation stage errored", logging.Fields{
				"pipeline": p.config.Name, "stage": stage.Name, "err": sr.Error,
			})
		}
		p.finish(verdict)
		return verdict
	}

	verdict.Continue = true
	p.finish(verdict)
	return verdict
}

func classifyStageError(err error) (result.ErrorKind, string) {
	var rerr *result.Error
	if errors.As(err, &rerr) {
		return rerr.Kind(), rerr.Message()
	}
	return result.Internal(), "internal error while validating request"
}

// executeStage runs one check, converting panics into errors.
func (p *Pipeline[R]) executeStage(ctx context.Context, stage Stage[R], req R) (sr StageResult) {
	start := time.Now()
	sr.StageName = stage.Name

	defer func() {
		if r := recover(); r != nil {
			sr.Outcome = OutcomeError
			sr.Error = fmt.Errorf("stage %s panicked: %v\n%s", stage.Name, r, debug.Stack())
		}
		sr.Duration = time.Since(start)
		p.recordStage(sr)
		if p.config.OnStageComplete != nil {
			p.config.OnStageComplete(sr)
		}
	}()

	ok, err := stage.Check(ctx, req)
	switch {
	case err != nil:
		sr.Outcome, sr.Error = OutcomeError, err
	case ok:
		sr.Outcome = OutcomePass
	default:
		sr.Outcome = OutcomeFail
		p.log.Debug("validation stage rejected request", logging.Fields{
			"pipeline": p.config.Name, "stage": stage.Name,
		})
	}
	return sr
}

// Stages returns the stage names in evaluation order.
func (p *Pipeline[R]) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Stats returns pipeline execution statistics.
func (p *Pipeline[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.StageStats = make(map[string]StageStats, len(p.stats.StageStats))
	for k, v := range p.stats.StageStats {
		statsCopy.StageStats[k] = v
	}
	return statsCopy
}

func (p *Pipeline[R]) finish(v Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalEvaluations++
	p.stats.LastEvaluationAt = time.Now()
	if v.Continue {
		p.stats.Passed++
	} else {
		p.stats.Rejected++
	}
}

func (p *Pipeline[R]) recordStage(sr StageResult) {
	if m := p.config.Metrics; m != nil {
		m.StageEvaluations.WithLabelValues(p.config.Name, sr.StageName, string(sr.Outcome)).Inc()
		m.StageDuration.WithLabelValues(p.config.Name, sr.StageName).Observe(sr.Duration.Seconds())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats.StageStats[sr.StageName]
	stats.Name = sr.StageName
	stats.ExecutionCount++
	stats.TotalDuration += sr.Duration
	switch sr.Outcome {
	case OutcomePass:
		stats.PassCount++
	case OutcomeFail:
		stats.FailCount++
	default:
		stats.ErrorCount++
	}
	stats.AverageDuration = time.Duration(int64(stats.TotalDuration) / stats.ExecutionCount)
	p.stats.StageStats[sr.StageName] = stats
}
