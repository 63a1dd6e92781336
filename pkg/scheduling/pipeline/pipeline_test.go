package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/stageflow/internal/testutil"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/result"
)

type request struct {
	fail map[string]bool
}

// countingStage returns a stage that fails when req.fail[name] is set and
// counts its executions.
func countingStage(order int, name string, executed *int32) Stage[request] {
	return Stage[request]{
		Order:   order,
		Name:    name,
		Message: name + " rejected",
		Check: func(_ context.Context, req request) (bool, error) {
			atomic.AddInt32(executed, 1)
			return !req.fail[name], nil
		},
	}
}

func TestNewRejectsDuplicateOrder(t *testing.T) {
	var n int32
	_, err := New(Config{}, countingStage(1, "a", &n), countingStage(1, "b", &n))
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, sferrors.IsValidationError(err), true)
}

func TestNewRejectsInvalidStages(t *testing.T) {
	var n int32
	tests := []struct {
		name   string
		stages []Stage[request]
	}{
		{"empty name", []Stage[request]{countingStage(1, "", &n)}},
		{"nil check", []Stage[request]{{Order: 1, Name: "a"}}},
		{"duplicate name", []Stage[request]{countingStage(1, "a", &n), countingStage(2, "a", &n)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}, tt.stages...)
			testutil.AssertError(t, err)
		})
	}
}

func TestStagesSortedByOrder(t *testing.T) {
	var n int32
	p, err := New(Config{}, countingStage(30, "c", &n), countingStage(10, "a", &n), countingStage(20, "b", &n))
	testutil.AssertNoError(t, err)

	names := p.Stages()
	testutil.AssertEqual(t, len(names), 3)
	testutil.AssertEqual(t, names[0], "a")
	testutil.AssertEqual(t, names[1], "b")
	testutil.AssertEqual(t, names[2], "c")
}

func TestAllStagesPass(t *testing.T) {
	var e1, e2 int32
	p, err := New(Config{}, countingStage(1, "auth", &e1), countingStage(2, "data", &e2))
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{})
	testutil.AssertEqual(t, v.Continue, true)
	testutil.AssertNoError(t, v.Err())
	testutil.AssertEqual(t, len(v.StageResults), 2)
	testutil.AssertEqual(t, atomic.LoadInt32(&e1), int32(1))
	testutil.AssertEqual(t, atomic.LoadInt32(&e2), int32(1))
}

func TestShortCircuitReportsEarliestFailure(t *testing.T) {
	var auth, dup, data, suff int32
	p, err := New(Config{},
		countingStage(40, "sufficiency", &suff),
		countingStage(10, "auth", &auth),
		countingStage(30, "data", &data),
		countingStage(20, "duplicate", &dup),
	)
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{fail: map[string]bool{"data": true, "duplicate": true}})

	testutil.AssertEqual(t, v.Continue, false)
	testutil.AssertEqual(t, v.Failure.Is(result.ValidationFailed("duplicate")), true)
	testutil.AssertEqual(t, v.Message, "duplicate rejected")
	testutil.AssertEqual(t, v.Stage, "duplicate")
	testutil.AssertEqual(t, atomic.LoadInt32(&auth), int32(1))
	testutil.AssertEqual(t, atomic.LoadInt32(&dup), int32(1))
	testutil.AssertEqual(t, atomic.LoadInt32(&data), int32(0))
	testutil.AssertEqual(t, atomic.LoadInt32(&suff), int32(0))
}

func TestShortCircuitOverAllPairs(t *testing.T) {
	names := []string{"s0", "s1", "s2", "s3", "s4"}
	var n int32
	stages := make([]Stage[request], len(names))
	for i, name := range names {
		stages[i] = countingStage(i, name, &n)
	}
	p, err := New(Config{}, stages...)
	testutil.AssertNoError(t, err)

	for i := range names {
		for j := i + 1; j < len(names); j++ {
			v := p.Evaluate(context.Background(), request{fail: map[string]bool{names[i]: true, names[j]: true}})
			testutil.AssertEqual(t, v.Failure.Stage, names[i])
		}
	}
}

func TestStageKindOverride(t *testing.T) {
	p, err := New(Config{}, Stage[request]{
		Order: 1, Name: "tourist-exists", Kind: result.KindNotFound,
		Check: func(context.Context, request) (bool, error) { return false, nil },
	})
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{})
	testutil.AssertEqual(t, v.Failure.Kind, result.KindNotFound)
	testutil.AssertEqual(t, v.Message, "requested item was not found")
}

func TestStageErrorIsInternal(t *testing.T) {
	var later int32
	p, err := New(Config{},
		Stage[request]{Order: 1, Name: "boom", Check: func(context.Context, request) (bool, error) {
			return true, errors.New("lookup exploded")
		}},
		countingStage(2, "later", &later),
	)
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{})
	testutil.AssertEqual(t, v.Continue, false)
	testutil.AssertEqual(t, v.Failure.Kind, result.KindInternal)
	testutil.AssertEqual(t, atomic.LoadInt32(&later), int32(0))
	testutil.AssertEqual(t, p.Stats().StageStats["boom"].ErrorCount, int64(1))
}

func TestStagePanicIsInternal(t *testing.T) {
	p, err := New(Config{}, Stage[request]{Order: 1, Name: "panics", Check: func(context.Context, request) (bool, error) {
		panic("nil map")
	}})
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{})
	testutil.AssertEqual(t, v.Continue, false)
	testutil.AssertEqual(t, v.Failure.Kind, result.KindInternal)
	testutil.AssertEqual(t, v.StageResults[0].Outcome, OutcomeError)
}

func TestClassifiedStageErrorKeepsKind(t *testing.T) {
	p, err := New(Config{}, Stage[request]{Order: 1, Name: "site-exists", Check: func(context.Context, request) (bool, error) {
		return false, result.NewError(result.UpstreamUnavailable(), "site service down", nil)
	}})
	testutil.AssertNoError(t, err)

	v := p.Evaluate(context.Background(), request{})
	testutil.AssertEqual(t, v.Failure.Kind, result.KindUpstreamUnavailable)
	testutil.AssertEqual(t, v.Message, "site service down")
}

func TestCanceledContextStopsEvaluation(t *testing.T) {
	var n int32
	p, err := New(Config{}, countingStage(1, "auth", &n))
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := p.Evaluate(ctx, request{})
	testutil.AssertEqual(t, v.Continue, false)
	testutil.AssertEqual(t, v.Failure.Kind, result.KindInternal)
	testutil.AssertEqual(t, atomic.LoadInt32(&n), int32(0))
}

func TestEnvelopeFromVerdict(t *testing.T) {
	var n int32
	p, err := New(Config{}, countingStage(1, "auth", &n))
	testutil.AssertNoError(t, err)

	env := Envelope[string](p.Evaluate(context.Background(), request{fail: map[string]bool{"auth": true}}))
	testutil.AssertEqual(t, env.Success, false)
	testutil.AssertEqual(t, env.Valid(), true)
	testutil.AssertEqual(t, env.Error.Stage, "auth")
}

func TestStatsAndCallbacks(t *testing.T) {
	var n int32
	var mu sync.Mutex
	var seen []string

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	p, err := New(Config{
		Name:    "feedback",
		Metrics: reg,
		OnStageComplete: func(r StageResult) {
			mu.Lock()
			seen = append(seen, r.StageName+":"+string(r.Outcome))
			mu.Unlock()
		},
	}, countingStage(1, "auth", &n), countingStage(2, "data", &n))
	testutil.AssertNoError(t, err)

	p.Evaluate(context.Background(), request{})
	p.Evaluate(context.Background(), request{fail: map[string]bool{"data": true}})

	stats := p.Stats()
	testutil.AssertEqual(t, stats.TotalEvaluations, int64(2))
	testutil.AssertEqual(t, stats.Passed, int64(1))
	testutil.AssertEqual(t, stats.Rejected, int64(1))
	testutil.AssertEqual(t, stats.StageStats["data"].FailCount, int64(1))
	testutil.AssertEqual(t, len(seen), 4)
	testutil.AssertEqual(t, seen[3], "data:fail")
	testutil.AssertEqual(t, promtest.ToFloat64(reg.StageEvaluations.WithLabelValues("feedback", "auth", "pass")), float64(2))
}

func TestConcurrentEvaluate(t *testing.T) {
	var n int32
	p, err := New(Config{}, countingStage(1, "auth", &n), countingStage(2, "data", &n))
	testutil.AssertNoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Evaluate(context.Background(), request{fail: map[string]bool{"data": i%2 == 0}})
		}(i)
	}
	wg.Wait()

	testutil.AssertEqual(t, p.Stats().TotalEvaluations, int64(50))
	testutil.AssertEqual(t, atomic.LoadInt32(&n), int32(100))
}
