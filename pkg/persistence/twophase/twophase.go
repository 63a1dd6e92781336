package twophase

import (
	"context"
	"fmt"
	"time"

	sfcontext "github.com/vnykmshr/stageflow/pkg/common/context"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/result"
)

// WriteResult is what a step reports after applying its write.
type WriteResult struct {
	// Record identifies what was written.
	Record string `json:"record"`

	// AlreadyApplied is true when the store already held this write, so the
	// step changed nothing.
	AlreadyApplied bool `json:"already_applied"`
}

// Step is one of the two writes.
type Step struct {
	Name string

	// Apply performs the write. It must be idempotent: re-applying an
	// applied write reports AlreadyApplied instead of writing twice.
	Apply func(ctx context.Context) (WriteResult, error)

	// Compensate undoes a newly applied write. Nil means the step cannot
	// be undone.
	Compensate func(ctx context.Context) error
}

// StepConfirmation records the outcome of one committed step.
type StepConfirmation struct {
	Name           string `json:"name"`
	Record         string `json:"record"`
	AlreadyApplied bool   `json:"already_applied"`
}

// Confirmation is the success payload of Execute.
type Confirmation struct {
	Steps []StepConfirmation `json:"steps"`

	// AlreadyApplied is true when every step was a replay.
	AlreadyApplied bool `json:"already_applied"`
}

// Config configures a Writer.
type Config struct {
	// Name labels metrics and logs.
	Name string

	// CompensationTimeout bounds the compensating call. It runs on a
	// context detached from the request so a caller that gave up does not
	// leave the first write behind. Defaults to five seconds.
	CompensationTimeout time.Duration

	// OnCompensate is called after every compensation attempt.
	OnCompensate func(step string, err error)

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Writer executes two dependent writes, undoing the first when the second
// fails.
type Writer struct {
	config Config
	log    logging.Logger
}

// New creates a Writer.
func New(config Config) *Writer {
	if config.Name == "" {
		config.Name = "writer"
	}
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = 5 * time.Second
	}
	return &Writer{config: config, log: logging.OrNop(config.Logger)}
}

// Execute applies a then b.
//
//   - a fails: PARTIAL_WRITE_FAILURE(completed=none, failed=a). Nothing to undo.
//   - a ok, b fails: a is compensated exactly once if a wrote something, and
//     the result is PARTIAL_WRITE_FAILURE(completed=a, failed=b, compensated).
//   - both ok: success, including the replay where both report AlreadyApplied.
//
// A panic in Apply counts as that step failing; a panic in Compensate counts
// as a failed compensation. Execute never panics and never returns an error
// outside the envelope.
func (w *Writer) Execute(ctx context.Context, a, b Step) result.Envelope[Confirmation] {
	first, err := w.apply(ctx, a)
	if err != nil {
		w.record("first_failed")
		w.log.Warn("write failed", logging.Fields{"writer": w.config.Name, "step": a.Name, "error": err.Error()})
		return result.Fail[Confirmation](result.FirstWriteFailed(a.Name),
			fmt.Sprintf("Step %s failed; nothing was changed.", a.Name))
	}

	second, err := w.apply(ctx, b)
	if err != nil {
		w.log.Warn("write failed", logging.Fields{"writer": w.config.Name, "step": b.Name, "error": err.Error()})
		return w.rollback(ctx, a, first, b)
	}

	conf := Confirmation{
		Steps: []StepConfirmation{
			{Name: a.Name, Record: first.Record, AlreadyApplied: first.AlreadyApplied},
			{Name: b.Name, Record: second.Record, AlreadyApplied: second.AlreadyApplied},
		},
		AlreadyApplied: first.AlreadyApplied && second.AlreadyApplied,
	}
	if conf.AlreadyApplied {
		w.record("replayed")
		return result.OK(conf, "Already saved.")
	}
	w.record("committed")
	return result.OK(conf, "Saved.")
}

func (w *Writer) apply(ctx context.Context, s Step) (res WriteResult, err error) {
	if s.Apply == nil {
		return WriteResult{}, fmt.Errorf("step %s has no apply function", s.Name)
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = WriteResult{}, fmt.Errorf("step %s panicked: %v", s.Name, r)
		}
	}()
	return s.Apply(ctx)
}

func (w *Writer) rollback(ctx context.Context, a Step, first WriteResult, b Step) result.Envelope[Confirmation] {
	// A replayed first write belongs to an earlier request; leave it.
	if first.AlreadyApplied {
		w.record("second_failed")
		return result.Fail[Confirmation](result.PartialWriteFailure(a.Name, b.Name, false),
			fmt.Sprintf("Step %s failed; %s was already saved earlier and was kept.", b.Name, a.Name))
	}

	err := w.compensate(ctx, a)
	if w.config.OnCompensate != nil {
		w.config.OnCompensate(a.Name, err)
	}
	if err != nil {
		w.record("compensation_failed")
		w.log.Error("compensation failed", logging.Fields{
			"writer": w.config.Name, "step": a.Name, "failed_step": b.Name, "error": err.Error(),
		})
		return result.Fail[Confirmation](result.PartialWriteFailure(a.Name, b.Name, false),
			fmt.Sprintf("Step %s failed and %s could not be undone.", b.Name, a.Name))
	}

	w.record("compensated")
	w.log.Info("write compensated", logging.Fields{"writer": w.config.Name, "step": a.Name, "failed_step": b.Name})
	return result.Fail[Confirmation](result.PartialWriteFailure(a.Name, b.Name, true),
		fmt.Sprintf("Step %s failed; %s was undone.", b.Name, a.Name))
}

func (w *Writer) compensate(ctx context.Context, s Step) (err error) {
	if s.Compensate == nil {
		return fmt.Errorf("step %s cannot be compensated", s.Name)
	}
	cctx, cancel := sfcontext.Detached(ctx)
	defer cancel()
	cctx, cancelTimeout := context.WithTimeout(cctx, w.config.CompensationTimeout)
	defer cancelTimeout()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation of %s panicked: %v", s.Name, r)
		}
	}()
	return s.Compensate(cctx)
}

func (w *Writer) record(outcome string) {
	if m := w.config.Metrics; m != nil {
		m.WriteOutcomes.WithLabelValues(w.config.Name, outcome).Inc()
	}
}
